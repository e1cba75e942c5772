// Package platform gathers every OS-specific behavior the tool needs
// behind one interface: proxy settings, process termination, certificate
// trust and well-known application paths.
package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ProxySettings is an opaque snapshot of the host's proxy configuration,
// captured before we touch it and used to restore it exactly.
type ProxySettings map[string]string

type Services interface {
	// KillProcesses terminates the named processes. Best-effort: a
	// failure is reported but callers may continue.
	KillProcesses(names ...string) error

	// SaveProxySettings captures the current system proxy state.
	SaveProxySettings() (ProxySettings, error)
	// ApplyProxy points the system proxy at addr (host:port).
	ApplyProxy(addr string) error
	// RestoreProxySettings reverts to a previously captured snapshot.
	RestoreProxySettings(ProxySettings) error

	// InstallCert inserts a CA certificate into the OS trust store.
	InstallCert(certPath string) error

	// IsAdmin reports whether the process has elevated privileges.
	IsAdmin() bool
}

// For returns the Services implementation for the given GOOS value.
func For(goos string) Services {
	switch goos {
	case "windows":
		return windowsServices{}
	case "darwin":
		return darwinServices{}
	default:
		return linuxServices{}
	}
}

// Current returns the Services implementation for the running OS.
func Current() Services {
	return For(runtime.GOOS)
}

// AppStorageJSON returns the target app's telemetry storage file path.
func AppStorageJSON(goos string) (string, error) {
	dir, err := appGlobalStorage(goos)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "storage.json"), nil
}

// AppStateDB returns the target app's local key/value database path.
func AppStateDB(goos string) (string, error) {
	dir, err := appGlobalStorage(goos)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.vscdb"), nil
}

func appGlobalStorage(goos string) (string, error) {
	switch goos {
	case "windows":
		appdata := os.Getenv("APPDATA")
		if appdata == "" {
			return "", fmt.Errorf("APPDATA is not set")
		}
		return filepath.Join(appdata, "Cursor", "User", "globalStorage"), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "Cursor", "User", "globalStorage"), nil
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "Cursor", "User", "globalStorage"), nil
	}
}

func run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %v (%s)", name, err, out)
	}
	return nil
}
