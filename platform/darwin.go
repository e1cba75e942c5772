package platform

import (
	"os"
	"os/exec"
	"strings"
)

const macNetworkService = "Wi-Fi"

type darwinServices struct{}

func (darwinServices) KillProcesses(names ...string) error {
	var firstErr error
	for _, name := range names {
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

func (darwinServices) SaveProxySettings() (ProxySettings, error) {
	saved := ProxySettings{}
	for key, args := range map[string][]string{
		"http":  {"-getwebproxy", macNetworkService},
		"https": {"-getsecurewebproxy", macNetworkService},
	} {
		out, err := exec.Command("networksetup", args...).Output()
		if err != nil {
			return nil, err
		}
		saved[key] = string(out)
	}
	return saved, nil
}

func (darwinServices) ApplyProxy(addr string) error {
	host, port, ok := strings.Cut(addr, ":")
	if !ok {
		host, port = addr, "8080"
	}
	if err := run("networksetup", "-setwebproxy", macNetworkService, host, port); err != nil {
		return err
	}
	return run("networksetup", "-setsecurewebproxy", macNetworkService, host, port)
}

func (darwinServices) RestoreProxySettings(saved ProxySettings) error {
	for _, args := range restoreCommands(saved) {
		if err := run("networksetup", args...); err != nil {
			return err
		}
	}
	return nil
}

type macProxyState struct {
	enabled bool
	server  string
	port    string
}

// parseProxyState reads the "Enabled/Server/Port" lines of a
// networksetup -getwebproxy capture.
func parseProxyState(out string) macProxyState {
	var state macProxyState
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Enabled":
			state.enabled = value == "Yes"
		case "Server":
			state.server = value
		case "Port":
			state.port = value
		}
	}
	return state
}

// restoreCommands rebuilds the exact prior configuration: a proxy that
// was enabled gets its server and port re-applied, anything else is
// switched off so the host never points at our dead listener.
func restoreCommands(saved ProxySettings) [][]string {
	var cmds [][]string
	for _, p := range []struct{ key, set, state string }{
		{"http", "-setwebproxy", "-setwebproxystate"},
		{"https", "-setsecurewebproxy", "-setsecurewebproxystate"},
	} {
		prior := parseProxyState(saved[p.key])
		if prior.enabled && prior.server != "" {
			cmds = append(cmds,
				[]string{p.set, macNetworkService, prior.server, prior.port},
				[]string{p.state, macNetworkService, "on"})
			continue
		}
		cmds = append(cmds, []string{p.state, macNetworkService, "off"})
	}
	return cmds
}

func (darwinServices) InstallCert(certPath string) error {
	return run("security", "add-trusted-cert", "-d", "-r", "trustRoot",
		"-k", "/Library/Keychains/System.keychain", certPath)
}

func (darwinServices) IsAdmin() bool {
	return os.Geteuid() == 0
}
