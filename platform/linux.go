package platform

import (
	"os"
	"os/exec"
)

// linuxServices drives proxy configuration through the conventional
// environment variables; only processes started after ApplyProxy
// observe the change, which matches how the target app is relaunched
// after a reset.
type linuxServices struct{}

func (linuxServices) KillProcesses(names ...string) error {
	var firstErr error
	for _, name := range names {
		// pkill exits 1 when nothing matched, which is fine here.
		if err := exec.Command("pkill", "-f", name).Run(); err != nil {
			if ee, ok := err.(*exec.ExitError); !ok || ee.ExitCode() != 1 {
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func (linuxServices) SaveProxySettings() (ProxySettings, error) {
	return ProxySettings{
		"http_proxy":  os.Getenv("http_proxy"),
		"https_proxy": os.Getenv("https_proxy"),
	}, nil
}

func (linuxServices) ApplyProxy(addr string) error {
	url := "http://" + addr
	if err := os.Setenv("http_proxy", url); err != nil {
		return err
	}
	return os.Setenv("https_proxy", url)
}

func (linuxServices) RestoreProxySettings(saved ProxySettings) error {
	for _, key := range []string{"http_proxy", "https_proxy"} {
		if saved[key] == "" {
			if err := os.Unsetenv(key); err != nil {
				return err
			}
			continue
		}
		if err := os.Setenv(key, saved[key]); err != nil {
			return err
		}
	}
	return nil
}

func (linuxServices) InstallCert(certPath string) error {
	if err := run("cp", certPath, "/usr/local/share/ca-certificates/aifree-proxy.crt"); err != nil {
		return err
	}
	return run("update-ca-certificates")
}

func (linuxServices) IsAdmin() bool {
	return os.Geteuid() == 0
}
