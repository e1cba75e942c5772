// Package netcheck verifies connectivity before a sign-up run and can
// rotate the egress IP through a router's REST API between runs.
package netcheck

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// PublicIP reports the current egress address, empty on failure.
func PublicIP() string {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get("https://icanhazip.com")
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(resp.Body)
	return strings.TrimSpace(string(text))
}

// WaitOnline blocks until host resolves or ctx expires.
func WaitOnline(ctx context.Context, host string) error {
	for {
		addrs, err := net.LookupHost(host)
		if err == nil && len(addrs) > 0 {
			log.Printf("online, %s resolves to %v", host, addrs)
			return nil
		}
		log.Printf("offline, resolving %s: %v", host, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("still offline: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

// RotateIP bounces the router's WAN interface to pick up a new egress
// address, then waits for connectivity to come back.
func RotateIP(ctx context.Context, interfaceURL, user, pass string) error {
	before := PublicIP()

	for _, body := range []string{`{"disabled": "true"}`, `{"disabled": "false"}`} {
		req, err := http.NewRequestWithContext(ctx, "PATCH", interfaceURL, bytes.NewBufferString(body))
		if err != nil {
			return err
		}
		req.SetBasicAuth(user, pass)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("toggle interface: %w", err)
		}
		resp.Body.Close()
	}

	if err := WaitOnline(ctx, "www.google.com"); err != nil {
		return err
	}
	after := PublicIP()
	log.Printf("egress address %s -> %s", before, after)
	if after != "" && after == before {
		return fmt.Errorf("egress address did not change")
	}
	return nil
}
