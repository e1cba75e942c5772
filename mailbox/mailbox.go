// Package mailbox provides disposable addresses and retrieves the
// 6-digit verification codes sent to them, either through a temp-mail
// provider API or through a user-supplied IMAP mailbox.
package mailbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Client is the mailbox capability the sign-up flow depends on.
type Client interface {
	// CreateAddress returns a fresh address and, for provider-API
	// mode, an opaque session token.
	CreateAddress() (email, token string, err error)

	// PollForCode retries up to maxAttempts with a fixed delay. An
	// empty code with nil error means verification is unavailable
	// (attempts exhausted); errors are reserved for unexpected
	// failures.
	PollForCode(ctx context.Context, email string, maxAttempts int, delay time.Duration) (string, error)
}

var codeRE = regexp.MustCompile(`\b(\d{6})\b`)

// codeFromLines accepts a line iff it is composed only of digits and is
// exactly six long. Used for provider-API messages, whose bodies carry
// the code on its own line.
func codeFromLines(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if len(line) != 6 {
			continue
		}
		if strings.Trim(line, "0123456789") == "" {
			return line
		}
	}
	return ""
}

// findCode pattern-matches the first standalone 6-digit token anywhere
// in the text. Longer digit runs never match a 6-digit prefix.
func findCode(text string) string {
	m := codeRE.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// UniqueAddress asks the client for addresses until one passes the used
// predicate, guarding the ledger's per-service uniqueness invariant.
func UniqueAddress(client Client, used func(string) bool) (string, string, error) {
	for i := 0; i < 20; i++ {
		email, token, err := client.CreateAddress()
		if err != nil {
			return "", "", err
		}
		if !used(email) {
			return email, token, nil
		}
	}
	return "", "", fmt.Errorf("could not generate an unused address")
}
