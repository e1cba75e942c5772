package progress

import (
	"sync"
	"testing"
)

func TestEmitDeliversInOrder(t *testing.T) {
	t.Parallel()

	s := NewStream()
	s.Emit("one")
	s.Emit("two")
	s.Close()

	var got []string
	for msg := range s.Events() {
		got = append(got, msg)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestEmitDropsWhenConsumerLags(t *testing.T) {
	t.Parallel()

	s := NewStream()
	// Nobody is draining; fill the buffer and then some.
	for i := 0; i < 100; i++ {
		s.Emit("status")
	}
	if s.Dropped() != 36 {
		t.Fatalf("expected 36 dropped messages, got %d", s.Dropped())
	}
	s.Close()
}

func TestDroppedCountSurvivesConcurrentEmitters(t *testing.T) {
	t.Parallel()

	s := NewStream()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Emit("status")
			}
		}()
	}
	// Read the counter while the emitters are still running.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = s.Dropped()
		}
	}()
	wg.Wait()

	if got := s.Dropped(); got != 400-64 {
		t.Fatalf("expected %d dropped messages, got %d", 400-64, got)
	}
	s.Close()
}

func TestSentinelsPassThroughVerbatim(t *testing.T) {
	t.Parallel()

	s := NewStream()
	s.Emit(ClearLog)
	s.Emit(RefreshAccounts)
	s.Close()

	if got := <-s.Events(); got != ClearLog {
		t.Fatalf("expected clear-log sentinel, got %q", got)
	}
	if got := <-s.Events(); got != RefreshAccounts {
		t.Fatalf("expected refresh-accounts sentinel, got %q", got)
	}
}
