package interceptor

import (
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"testing"

	"aifree-bot/platform"
)

func TestRewriteChecksumPreservesPrefix(t *testing.T) {
	t.Parallel()

	rewritten := RewriteChecksum("zo6Qjequ/abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789")
	prefix, suffix, found := strings.Cut(rewritten, "/")
	if !found {
		t.Fatalf("rewritten value lost its separator: %q", rewritten)
	}
	if prefix != "zo6Qjequ" {
		t.Fatalf("prefix changed: %q", prefix)
	}
	if len(suffix) != 64 {
		t.Fatalf("replacement checksum must be 64 chars, got %d", len(suffix))
	}
	if strings.Trim(suffix, "0123456789abcdef") != "" {
		t.Fatalf("replacement checksum is not lowercase hex: %q", suffix)
	}
}

func TestRewriteChecksumStablePerProcess(t *testing.T) {
	t.Parallel()

	first := RewriteChecksum("p1/aaaa")
	second := RewriteChecksum("p2/bbbb")
	if strings.TrimPrefix(first, "p1/") != strings.TrimPrefix(second, "p2/") {
		t.Fatal("all rewrites in one process must share the same checksum")
	}
}

func TestRewriteChecksumWithoutSeparator(t *testing.T) {
	t.Parallel()

	if got := RewriteChecksum("no-separator-here"); got != "no-separator-here" {
		t.Fatalf("value without separator must pass through, got %q", got)
	}
}

func TestRewriteOnlyTouchesTargetHost(t *testing.T) {
	t.Parallel()

	req, _ := http.NewRequest("GET", "https://example.com/x", nil)
	req.Host = "example.com"
	req.Header.Set(ChecksumHeader, "keep/asis")
	rewrite(req)
	if got := req.Header.Get(ChecksumHeader); got != "keep/asis" {
		t.Fatalf("non-target request was rewritten: %q", got)
	}

	req, _ = http.NewRequest("GET", "https://"+TargetHost+"/x", nil)
	req.Host = TargetHost
	req.Header.Set(ChecksumHeader, "pre/old")
	rewrite(req)
	if got := req.Header.Get(ChecksumHeader); got == "pre/old" || !strings.HasPrefix(got, "pre/") {
		t.Fatalf("target request not rewritten correctly: %q", got)
	}
}

// recordingServices captures proxy mutations so Start/Stop can be
// verified without touching the host.
type recordingServices struct {
	saved     platform.ProxySettings
	applied   []string
	restored  []platform.ProxySettings
	certPaths []string
}

func (r *recordingServices) KillProcesses(...string) error { return nil }
func (r *recordingServices) SaveProxySettings() (platform.ProxySettings, error) {
	return r.saved, nil
}
func (r *recordingServices) ApplyProxy(addr string) error {
	r.applied = append(r.applied, addr)
	return nil
}
func (r *recordingServices) RestoreProxySettings(s platform.ProxySettings) error {
	r.restored = append(r.restored, s)
	return nil
}
func (r *recordingServices) InstallCert(path string) error {
	r.certPaths = append(r.certPaths, path)
	return nil
}
func (r *recordingServices) IsAdmin() bool { return true }

func fakeSpawn(t *testing.T) func(int) (*exec.Cmd, error) {
	t.Helper()
	return func(int) (*exec.Cmd, error) {
		// A long-lived stand-in child the service can signal and wait on.
		cmd := exec.Command("sleep", "60")
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd, nil
	}
}

func TestStartAppliesProxyAndStopRestoresIt(t *testing.T) {
	t.Parallel()

	services := &recordingServices{saved: platform.ProxySettings{"mode": "manual", "server": "old:3128"}}
	s := NewService(services, t.TempDir())
	s.spawn = fakeSpawn(t)

	if err := s.Start(nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.Running() {
		t.Fatal("service must report running after Start")
	}
	if len(services.applied) != 1 || !strings.HasPrefix(services.applied[0], "127.0.0.1:") {
		t.Fatalf("system proxy not pointed at the local engine: %v", services.applied)
	}
	if len(services.certPaths) == 0 {
		t.Fatal("certificate was never offered to the trust store")
	}

	if err := s.Stop(nil); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.Running() {
		t.Fatal("service must report stopped after Stop")
	}
	if len(services.restored) != 1 {
		t.Fatalf("expected exactly one restore, got %d", len(services.restored))
	}
	if services.restored[0]["server"] != "old:3128" {
		t.Fatalf("restore did not use the saved snapshot: %v", services.restored[0])
	}
}

func TestStartTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	services := &recordingServices{saved: platform.ProxySettings{}}
	s := NewService(services, t.TempDir())
	s.spawn = fakeSpawn(t)

	if err := s.Start(nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop(nil)
	if err := s.Start(nil); err != nil {
		t.Fatalf("second Start must succeed quietly: %v", err)
	}
	if len(services.applied) != 1 {
		t.Fatalf("second Start must not reapply the proxy, applied %d times", len(services.applied))
	}
}

func TestStopRestoresEvenWhenChildAlreadyDead(t *testing.T) {
	t.Parallel()

	services := &recordingServices{saved: platform.ProxySettings{"env": "http_proxy="}}
	s := NewService(services, t.TempDir())
	s.spawn = fakeSpawn(t)

	if err := s.Start(nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Kill the child out from under the service.
	s.child.Process.Kill()

	if err := s.Stop(nil); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(services.restored) != 1 {
		t.Fatal("proxy settings must be restored even when the child is already gone")
	}
}

func TestStopWithoutStartIsANoOp(t *testing.T) {
	t.Parallel()

	services := &recordingServices{}
	s := NewService(services, t.TempDir())
	if err := s.Stop(nil); err != nil {
		t.Fatalf("Stop on a stopped service failed: %v", err)
	}
	if len(services.restored) != 0 {
		t.Fatal("nothing should be restored when the service never started")
	}
}

func TestStartFailsWhenEngineDiesAtSpawn(t *testing.T) {
	t.Parallel()

	services := &recordingServices{saved: platform.ProxySettings{}}
	s := NewService(services, t.TempDir())
	s.spawn = func(int) (*exec.Cmd, error) {
		// A child that exits immediately after starting.
		cmd := exec.Command("true")
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd, nil
	}

	if err := s.Start(nil); err == nil {
		t.Fatal("Start must fail when the engine dies right away")
	}
	if len(services.applied) != 0 {
		t.Fatalf("system proxy must not point at a dead engine: %v", services.applied)
	}
	if s.Running() {
		t.Fatal("failed Start must leave the service stopped")
	}
}

type flakyRestoreServices struct {
	recordingServices
	failures int
}

func (f *flakyRestoreServices) RestoreProxySettings(s platform.ProxySettings) error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("settings store busy")
	}
	return f.recordingServices.RestoreProxySettings(s)
}

func TestStopRetriesRestoreAfterFailure(t *testing.T) {
	t.Parallel()

	services := &flakyRestoreServices{
		recordingServices: recordingServices{saved: platform.ProxySettings{"server": "old:3128"}},
		failures:          1,
	}
	s := NewService(services, t.TempDir())
	s.spawn = fakeSpawn(t)

	if err := s.Start(nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(nil); err == nil {
		t.Fatal("first Stop must surface the restore failure")
	}
	if !s.Running() {
		t.Fatal("a failed restore must keep the service claimable for retry")
	}

	if err := s.Stop(nil); err != nil {
		t.Fatalf("second Stop must retry and succeed: %v", err)
	}
	if s.Running() {
		t.Fatal("service must be stopped after the successful retry")
	}
	if len(services.restored) != 1 || services.restored[0]["server"] != "old:3128" {
		t.Fatalf("retry did not restore the saved snapshot: %v", services.restored)
	}
}

func TestSpawnFailureLeavesProxyUntouched(t *testing.T) {
	t.Parallel()

	services := &recordingServices{}
	s := NewService(services, t.TempDir())
	s.spawn = func(int) (*exec.Cmd, error) { return nil, fmt.Errorf("engine missing") }

	if err := s.Start(nil); err == nil {
		t.Fatal("Start must fail when the engine cannot spawn")
	}
	if len(services.applied) != 0 {
		t.Fatal("system proxy must not change when the engine never started")
	}
	if s.Running() {
		t.Fatal("failed Start must leave the service stopped")
	}
}

func TestLeafCertificateChainsToCA(t *testing.T) {
	t.Parallel()

	ca, err := loadOrCreateCA(t.TempDir())
	if err != nil {
		t.Fatalf("create CA: %v", err)
	}
	leaf, err := ca.leafFor(TargetHost)
	if err != nil {
		t.Fatalf("issue leaf: %v", err)
	}
	if len(leaf.Certificate) != 2 {
		t.Fatalf("leaf must carry its chain, got %d certs", len(leaf.Certificate))
	}
}

func TestCAIsReusedAcrossLoads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := loadOrCreateCA(dir)
	if err != nil {
		t.Fatalf("create CA: %v", err)
	}
	second, err := loadOrCreateCA(dir)
	if err != nil {
		t.Fatalf("reload CA: %v", err)
	}
	if !first.cert.Equal(second.cert) {
		t.Fatal("reload must return the same CA, not mint a new one")
	}
}
