package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Feature gates one service from the remote settings document.
type Feature struct {
	Enabled     bool              `json:"enabled"`
	Maintenance bool              `json:"maintenance"`
	Messages    map[string]string `json:"messages"` // per-locale maintenance text
}

// RemoteSettings is the read-only document gating features and
// carrying notices. Consumed at startup; a fetch failure falls back to
// a local copy and is otherwise best-effort.
type RemoteSettings struct {
	Version   string             `json:"version"`
	Message   map[string]string  `json:"message"` // per-locale landing text
	Features  map[string]Feature `json:"features"`
	Changelog map[string]string  `json:"changelog"`
}

// FeatureEnabled defaults to enabled when the document says nothing
// about a service.
func (s *RemoteSettings) FeatureEnabled(name string) (bool, string) {
	if s == nil {
		return true, ""
	}
	feature, ok := s.Features[name]
	if !ok {
		return true, ""
	}
	if !feature.Enabled || feature.Maintenance {
		msg := feature.Messages["en"]
		return false, msg
	}
	return true, ""
}

// FetchSettings loads the settings document from url, falling back to
// the local file when the URL is empty or unreachable.
func FetchSettings(url, localPath string) (*RemoteSettings, error) {
	if url != "" {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(url)
		if err == nil {
			defer resp.Body.Close()
			var settings RemoteSettings
			if err := json.NewDecoder(resp.Body).Decode(&settings); err == nil {
				return &settings, nil
			}
		}
	}
	raw, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("settings unavailable: %w", err)
	}
	var settings RemoteSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("parse local settings: %w", err)
	}
	return &settings, nil
}
