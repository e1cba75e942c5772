// Package config loads tool configuration from the environment, with
// an optional .env file for local overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"aifree-bot/mailbox"
)

type Config struct {
	// EmailVerifier selects the mailbox mode: "api" (temp-mail
	// provider) or "imap" (user-supplied mailbox).
	EmailVerifier string
	TempMailAPI   string
	Imap          mailbox.ImapSettings

	LedgerPath  string
	CertDir     string
	SettingsURL string

	// Proxy, when set, is used for all page sessions.
	Proxy string

	// Router credentials for egress IP rotation between runs; rotation
	// is skipped when RouterURL is empty.
	RouterURL  string
	RouterUser string
	RouterPass string

	CodeMaxAttempts int
}

func Load() *Config {
	// A missing .env is fine; the environment may carry everything.
	godotenv.Load()

	home, _ := os.UserHomeDir()
	return &Config{
		EmailVerifier: getEnv("EMAIL_VERIFIER", "api"),
		TempMailAPI:   getEnv("TEMPMAIL_API_URL", "https://api.internal.temp-mail.io/api/v3"),
		Imap: mailbox.ImapSettings{
			Server: getEnv("IMAP_SERVER", ""),
			User:   getEnv("IMAP_USER", ""),
			Pass:   getEnv("IMAP_PASS", ""),
			Folder: getEnv("IMAP_FOLDER", "INBOX"),
			Sender: getEnv("IMAP_SENDER", "no-reply@cursor.sh"),
		},
		LedgerPath:      getEnv("ACCOUNTS_FILE", "ai-auto-free-accounts.json"),
		CertDir:         getEnv("CERT_DIR", filepath.Join(home, ".aifree", "certs")),
		SettingsURL:     getEnv("SETTINGS_URL", ""),
		Proxy:           getEnv("HTTP_PROXY_URL", ""),
		RouterURL:       getEnv("ROUTER_INTERFACE_URL", ""),
		RouterUser:      getEnv("ROUTER_USER", ""),
		RouterPass:      getEnv("ROUTER_PASS", ""),
		CodeMaxAttempts: getEnvInt("CODE_MAX_ATTEMPTS", 20),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
