package netcheck

import (
	"context"
	"testing"
	"time"
)

func TestWaitOnlineResolvableHost(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := WaitOnline(ctx, "localhost"); err != nil {
		t.Fatalf("localhost must resolve: %v", err)
	}
}

func TestWaitOnlineGivesUpOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// host.invalid is reserved to never resolve.
	if err := WaitOnline(ctx, "host.invalid"); err == nil {
		t.Fatal("cancelled wait must report an error")
	}
}
