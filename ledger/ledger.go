package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Service string

const (
	ServiceCursor   Service = "cursor"
	ServiceWindsurf Service = "windsurf"
)

// Account is one created account. Records are immutable once written and
// never deleted by this tool.
type Account struct {
	Service  Service `json:"service"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Token    string  `json:"token,omitempty"`
	Date     string  `json:"date"`
}

// Ledger is the append-only JSON list of every account ever created.
type Ledger struct {
	path string
}

func New(path string) *Ledger {
	return &Ledger{path: path}
}

func (l *Ledger) Accounts() ([]Account, error) {
	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var accounts []Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return accounts, nil
}

// Contains reports whether an address was already used for the service.
func (l *Ledger) Contains(service Service, email string) bool {
	accounts, err := l.Accounts()
	if err != nil {
		return false
	}
	for _, acc := range accounts {
		if acc.Service == service && acc.Email == email {
			return true
		}
	}
	return false
}

// Append records a new account. The whole list is rewritten; existing
// entries are never modified.
func (l *Ledger) Append(acc Account) error {
	if acc.Date == "" {
		acc.Date = time.Now().Format("2006-01-02 15:04:05")
	}
	accounts, err := l.Accounts()
	if err != nil {
		return err
	}
	accounts = append(accounts, acc)
	raw, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(l.path, raw, 0o600); err != nil {
		return fmt.Errorf("write accounts file: %w", err)
	}
	return nil
}
