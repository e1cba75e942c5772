package platform

import (
	"os/exec"
	"strings"
)

const internetSettingsKey = `HKCU\Software\Microsoft\Windows\CurrentVersion\Internet Settings`

// windowsServices shells out to reg.exe so the package builds on every
// platform without registry bindings.
type windowsServices struct{}

func (windowsServices) KillProcesses(names ...string) error {
	var firstErr error
	for _, name := range names {
		if err := exec.Command("taskkill", "/F", "/IM", name+".exe").Run(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (windowsServices) SaveProxySettings() (ProxySettings, error) {
	saved := ProxySettings{"ProxyEnable": "0", "ProxyServer": ""}
	for _, value := range []string{"ProxyEnable", "ProxyServer"} {
		out, err := exec.Command("reg", "query", internetSettingsKey, "/v", value).Output()
		if err != nil {
			continue // value absent, keep the default
		}
		fields := strings.Fields(string(out))
		if len(fields) > 0 {
			saved[value] = fields[len(fields)-1]
		}
	}
	return saved, nil
}

func (windowsServices) ApplyProxy(addr string) error {
	if err := run("reg", "add", internetSettingsKey, "/v", "ProxyEnable", "/t", "REG_DWORD", "/d", "1", "/f"); err != nil {
		return err
	}
	return run("reg", "add", internetSettingsKey, "/v", "ProxyServer", "/t", "REG_SZ", "/d", addr, "/f")
}

func (windowsServices) RestoreProxySettings(saved ProxySettings) error {
	enable := saved["ProxyEnable"]
	if enable == "" || enable == "0x0" {
		enable = "0"
	}
	if err := run("reg", "add", internetSettingsKey, "/v", "ProxyEnable", "/t", "REG_DWORD", "/d", enable, "/f"); err != nil {
		return err
	}
	return run("reg", "add", internetSettingsKey, "/v", "ProxyServer", "/t", "REG_SZ", "/d", saved["ProxyServer"], "/f")
}

func (windowsServices) InstallCert(certPath string) error {
	return run("certutil", "-addstore", "-user", "Root", certPath)
}

func (windowsServices) IsAdmin() bool {
	// "net session" succeeds only in an elevated shell.
	return exec.Command("net", "session").Run() == nil
}
