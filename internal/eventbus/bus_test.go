package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(1)
	defer unsubC()

	b.Publish(Event{Type: TypeMonitorCycle})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeMonitorCycle {
				t.Fatalf("type=%q", e.Type)
			}
			if e.Time.IsZero() {
				t.Fatalf("expected Time to be stamped")
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: TypeNotifierSent})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked")
	}
	if got := Dropped(b); got != 9 {
		t.Fatalf("dropped=%d want 9", got)
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: TypeNotifierFailed})
}

func TestConsumeFiltersByPrefix(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu   sync.Mutex
		seen []string
	)
	got := make(chan struct{}, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Consume(ctx, b, 8, func(e Event) {
			mu.Lock()
			seen = append(seen, e.Type)
			mu.Unlock()
			got <- struct{}{}
		}, "notifier.")
	}()

	// Wait for the subscription to be registered.
	deadline := time.Now().Add(time.Second)
	for {
		mb := b.(*memBus)
		mb.mu.RLock()
		n := len(mb.subs)
		mb.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("consumer did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(Event{Type: TypeMonitorCycle})
	b.Publish(Event{Type: TypeNotifierSent})
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("event not consumed")
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != TypeNotifierSent {
		t.Fatalf("seen=%v", seen)
	}
}
