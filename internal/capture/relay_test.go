package capture

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRelayRequiresAttachedClient(t *testing.T) {
	r := NewRelay()
	if _, err := r.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start error = %v, want ErrDeviceUnavailable", err)
	}

	r.Attach()
	r.Deny()
	if _, err := r.Start(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Start error = %v, want ErrPermissionDenied", err)
	}
}

func TestRelayAssignsCaptureOrder(t *testing.T) {
	r := NewRelay()
	r.Attach()

	ch, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.Start(context.Background()); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second Start error = %v, want ErrDeviceBusy", err)
	}

	for _, p := range []string{"a", "", "b", "c"} {
		if err := r.Push([]byte(p), "audio/webm", 3*time.Second); err != nil {
			t.Fatalf("Push(%q): %v", p, err)
		}
	}
	r.Stop()

	var got []string
	for c := range ch {
		if c.Index != int64(len(got)+1) {
			t.Fatalf("chunk %q has index %d", c.Data, c.Index)
		}
		got = append(got, string(c.Data))
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("got %v, want [a b c]", got)
	}

	if err := r.Push([]byte("late"), "audio/webm", time.Second); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Push after stop error = %v, want ErrNotRecording", err)
	}
	r.Stop()

	ch, err = r.Start(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = r.Push([]byte("x"), "audio/webm", time.Second)
	if c := <-ch; c.Index != 1 {
		t.Fatalf("index after restart = %d, want 1", c.Index)
	}
	r.Detach()
}

func TestRelayStopDoesNotWaitForStalledConsumer(t *testing.T) {
	r := NewRelay()
	r.Attach()
	ch, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// nobody reads: fill the buffer, then block one more Push
	for i := 0; i < cap(ch); i++ {
		if err := r.Push([]byte("x"), "audio/webm", time.Second); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	blocked := make(chan error, 1)
	go func() { blocked <- r.Push([]byte("y"), "audio/webm", time.Second) }()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked behind a stalled Push")
	}

	select {
	case err := <-blocked:
		if !errors.Is(err, ErrNotRecording) {
			t.Fatalf("blocked Push error = %v, want ErrNotRecording", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Push never returned")
	}

	n := 0
	for range ch {
		n++
	}
	if n != cap(ch) {
		t.Fatalf("drained %d chunks, want %d", n, cap(ch))
	}
}
