package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

type recorder struct {
	mu     sync.Mutex
	states []string
	err    error
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return r.err == nil, r.err
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestNotifierStates(t *testing.T) {
	r := &recorder{}
	n := &Notifier{notify: r.notify}
	if ok, err := n.Ready(); !ok || err != nil {
		t.Fatalf("ready ok=%v err=%v", ok, err)
	}
	_, _ = n.Status("watching 3 channels")
	_, _ = n.Reloading()
	_, _ = n.Stopping()
	want := []string{daemon.SdNotifyReady, "STATUS=watching 3 channels", daemon.SdNotifyReloading, daemon.SdNotifyStopping}
	for i, s := range want {
		if r.states[i] != s {
			t.Fatalf("states=%v", r.states)
		}
	}
}

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	ok, err := New().Ready()
	if ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestWatchdogDisabled(t *testing.T) {
	r := &recorder{}
	n := &Notifier{notify: r.notify, interval: func() (time.Duration, error) { return 0, nil }}
	if err := n.Watchdog(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestWatchdogPings(t *testing.T) {
	r := &recorder{}
	n := &Notifier{notify: r.notify, interval: func() (time.Duration, error) { return 20 * time.Millisecond, nil }}
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	if err := n.Watchdog(ctx); err != nil {
		t.Fatalf("err=%v", err)
	}
	if r.count(daemon.SdNotifyWatchdog) < 2 {
		t.Fatalf("states=%v", r.states)
	}

	r = &recorder{err: errors.New("socket gone")}
	n.notify = r.notify
	if err := n.Watchdog(context.Background()); err == nil {
		t.Fatalf("expected notify error")
	}
}
