// Package interceptor patches the fingerprint header on outgoing API
// requests by routing them through a local rewriting proxy, working
// around per-installation rate limits.
package interceptor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"aifree-bot/platform"
	"aifree-bot/progress"
)

// Service owns the proxy child process and the system proxy settings.
// Construct one instance and let the orchestrator own its lifetime;
// Start and Stop are idempotent.
type Service struct {
	mu       sync.Mutex
	running  bool
	port     int
	saved    platform.ProxySettings
	child    *exec.Cmd
	exited   chan error
	services platform.Services
	certDir  string
	hookOnce sync.Once

	// spawn is replaced in tests to avoid launching a real child.
	spawn func(port int) (*exec.Cmd, error)
}

func NewService(services platform.Services, certDir string) *Service {
	s := &Service{services: services, certDir: certDir}
	s.spawn = s.spawnEngine
	return s
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start brings up the child proxy and points the system proxy at it.
// Calling Start while running reports "already running" and succeeds.
func (s *Service) Start(stream *progress.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		if stream != nil {
			stream.Emit("interceptor already running")
		}
		return nil
	}

	if err := InstallCertificate(s.certDir, s.services, stream); err != nil {
		return err
	}

	port, err := freePort()
	if err != nil {
		return fmt.Errorf("no available port: %w", err)
	}
	s.port = port

	child, err := s.spawn(port)
	if err != nil {
		return fmt.Errorf("start proxy engine: %w", err)
	}
	s.child = child
	s.exited = make(chan error, 1)
	go func(c *exec.Cmd, ch chan error) { ch <- c.Wait() }(child, s.exited)

	// Give the engine a beat to bind; a child that dies at spawn must
	// fail Start before the system settings are touched.
	select {
	case <-s.exited:
		s.child = nil
		s.exited = nil
		return fmt.Errorf("proxy engine exited immediately")
	case <-time.After(time.Second):
	}

	saved, err := s.services.SaveProxySettings()
	if err != nil {
		s.terminateChild()
		return fmt.Errorf("save proxy settings: %w", err)
	}
	s.saved = saved
	if err := s.services.ApplyProxy(fmt.Sprintf("127.0.0.1:%d", port)); err != nil {
		s.terminateChild()
		return fmt.Errorf("apply proxy settings: %w", err)
	}

	s.running = true
	// The system proxy must never stay pointed at a dead listener,
	// even on ctrl-c.
	s.hookOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-ch
			s.Stop(nil)
			os.Exit(1)
		}()
	})
	if stream != nil {
		stream.Emit(fmt.Sprintf("interceptor running on 127.0.0.1:%d", port))
	}
	return nil
}

// Stop restores the system proxy and terminates the child. Restoration
// happens even when the child has to be killed or is already gone.
func (s *Service) Stop(stream *progress.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	s.terminateChild()
	if err := s.services.RestoreProxySettings(s.saved); err != nil {
		// Stay "running" so the next Stop retries the restore with the
		// saved snapshot instead of silently abandoning it.
		return fmt.Errorf("restore proxy settings: %w", err)
	}
	s.running = false
	if stream != nil {
		stream.Emit("interceptor stopped, system proxy restored")
	}
	return nil
}

func (s *Service) terminateChild() {
	child, exited := s.child, s.exited
	s.child, s.exited = nil, nil
	if child == nil || child.Process == nil {
		return
	}
	child.Process.Signal(os.Interrupt)
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		child.Process.Kill()
		<-exited
	}
}

// spawnEngine re-executes this binary in proxy mode so the engine is a
// separate OS process with its own lifetime.
func (s *Service) spawnEngine(port int) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(exe, "proxy", "-port", strconv.Itoa(port), "-certs", s.certDir)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
