package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendAndReadBack(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "accounts.json")
	l := New(path)

	if err := l.Append(Account{Service: ServiceCursor, Email: "a@example.com", Password: "pw1", Token: "tok1"}); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := l.Append(Account{Service: ServiceWindsurf, Email: "b@example.com", Password: "pw2"}); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	accounts, err := l.Accounts()
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].Email != "a@example.com" || accounts[1].Email != "b@example.com" {
		t.Fatalf("append order not preserved: %v", accounts)
	}
	if accounts[0].Date == "" {
		t.Fatal("expected date to be filled in on append")
	}
}

func TestAppendPreservesExistingEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "accounts.json")
	l := New(path)
	if err := l.Append(Account{Service: ServiceCursor, Email: "old@example.com", Password: "pw", Date: "2024-01-01 00:00:00"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := l.Append(Account{Service: ServiceCursor, Email: "new@example.com", Password: "pw"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	accounts, err := l.Accounts()
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if accounts[0].Email != "old@example.com" || accounts[0].Date != "2024-01-01 00:00:00" {
		t.Fatalf("existing entry was modified: %+v", accounts[0])
	}
}

func TestContainsIsPerService(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "accounts.json")
	l := New(path)
	if err := l.Append(Account{Service: ServiceCursor, Email: "shared@example.com", Password: "pw"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if !l.Contains(ServiceCursor, "shared@example.com") {
		t.Fatal("expected address to be reported as used for cursor")
	}
	if l.Contains(ServiceWindsurf, "shared@example.com") {
		t.Fatal("same address must be free for the other service")
	}
}

func TestMissingFileMeansEmpty(t *testing.T) {
	t.Parallel()

	l := New(filepath.Join(t.TempDir(), "nope.json"))
	accounts, err := l.Accounts()
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts, got %d", len(accounts))
	}
}

func TestTokenOmittedWhenEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "accounts.json")
	l := New(path)
	if err := l.Append(Account{Service: ServiceCursor, Email: "a@example.com", Password: "pw"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if strings.Contains(string(raw), `"token"`) {
		t.Fatalf("empty token should be omitted from the record: %s", raw)
	}
}
