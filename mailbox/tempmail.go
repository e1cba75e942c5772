package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// TempMail talks to a temp-mail provider's HTTP API. The provider
// blocks obvious bots, so requests go out through a fingerprinted
// client like every other outbound call.
type TempMail struct {
	BaseURL string
	client  tls_client.HttpClient
}

var tempMailHeaders = [][2]string{
	{"Accept", "application/json"},
	{"Content-Type", "application/json;charset=utf-8"},
	{"User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0"},
	{"Application-Name", "web"},
	{"Application-Version", "2.4.2"},
	{"Origin", "https://temp-mail.io"},
	{"Referer", "https://temp-mail.io/"},
}

func NewTempMail(baseURL string) (*TempMail, error) {
	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithClientProfile(profiles.Firefox_120),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	)
	if err != nil {
		return nil, err
	}
	return &TempMail{BaseURL: baseURL, client: client}, nil
}

func (t *TempMail) CreateAddress() (string, string, error) {
	payload, _ := json.Marshal(map[string]int{
		"min_name_length": 10,
		"max_name_length": 10,
	})
	req, err := fhttp.NewRequest("POST", t.BaseURL+"/email/new", bytes.NewBuffer(payload))
	if err != nil {
		return "", "", err
	}
	body, err := t.do(req)
	if err != nil {
		return "", "", err
	}
	var result struct {
		Email string `json:"email"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", "", fmt.Errorf("parse mailbox response: %w", err)
	}
	if result.Email == "" {
		return "", "", fmt.Errorf("provider returned no address")
	}
	return result.Email, result.Token, nil
}

func (t *TempMail) PollForCode(ctx context.Context, email string, maxAttempts int, delay time.Duration) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
		messages, err := t.messages(email)
		if err != nil {
			continue // mailbox momentarily unavailable
		}
		for _, msg := range messages {
			if code := codeFromLines(msg.BodyText); code != "" {
				return code, nil
			}
		}
	}
	return "", nil
}

type tempMailMessage struct {
	BodyText string `json:"body_text"`
}

func (t *TempMail) messages(email string) ([]tempMailMessage, error) {
	req, err := fhttp.NewRequest("GET", t.BaseURL+"/email/"+email+"/messages", nil)
	if err != nil {
		return nil, err
	}
	body, err := t.do(req)
	if err != nil {
		return nil, err
	}
	var messages []tempMailMessage
	if err := json.Unmarshal(body, &messages); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	return messages, nil
}

func (t *TempMail) do(req *fhttp.Request) ([]byte, error) {
	for _, kv := range tempMailHeaders {
		req.Header.Set(kv[0], kv[1])
		req.Header.Add(fhttp.HeaderOrderKey, kv[0])
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("mailbox api status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
