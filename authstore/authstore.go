// Package authstore mutates the target app's local key/value database so
// an installed client picks up a different account without re-login.
package authstore

import (
	"database/sql"
	"fmt"
	"runtime"
	"strings"

	_ "modernc.org/sqlite"

	"aifree-bot/platform"
	"aifree-bot/progress"
)

const (
	keySignUpType   = "cursorAuth/cachedSignUpType"
	keyCachedEmail  = "cursorAuth/cachedEmail"
	keyAccessToken  = "cursorAuth/accessToken"
	keyRefreshToken = "cursorAuth/refreshToken"

	signUpTypeValue = "Auth_0"
)

// Store wraps the app's state.vscdb itemTable.
type Store struct {
	db *sql.DB
}

func Open() (*Store, error) {
	path, err := platform.AppStateDB(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	return OpenPath(path)
}

func OpenPath(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open auth database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping auth database: %w", err)
	}
	// The table normally exists already; creating it makes a fresh
	// install (or a test database) work too.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS itemTable (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare itemTable: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateAuth swaps the cached credentials in a single transaction.
// Empty arguments are skipped; the sign-up-type marker is always
// written. Either every pair lands or none do.
func (s *Store) UpdateAuth(stream *progress.Stream, email, accessToken, refreshToken string) error {
	updates := [][2]string{{keySignUpType, signUpTypeValue}}
	if email != "" {
		updates = append(updates, [2]string{keyCachedEmail, email})
	}
	if accessToken != "" {
		updates = append(updates, [2]string{keyAccessToken, accessToken})
	}
	if refreshToken != "" {
		updates = append(updates, [2]string{keyRefreshToken, refreshToken})
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	defer tx.Rollback()

	for _, pair := range updates {
		key, value := pair[0], pair[1]
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM itemTable WHERE key = ?`, key).Scan(&count); err != nil {
			return fmt.Errorf("database error: probe %s: %w", shortKey(key), err)
		}
		if count == 0 {
			_, err = tx.Exec(`INSERT INTO itemTable (key, value) VALUES (?, ?)`, key, value)
		} else {
			_, err = tx.Exec(`UPDATE itemTable SET value = ? WHERE key = ?`, value, key)
		}
		if err != nil {
			return fmt.Errorf("database error: write %s: %w", shortKey(key), err)
		}
		if stream != nil {
			stream.Emit(fmt.Sprintf("updated %s", shortKey(key)))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database error: commit: %w", err)
	}
	return nil
}

// Get reads one namespaced key, mostly for tests and diagnostics.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM itemTable WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func shortKey(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}
