package reliability

import (
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestPeriodicTimerFiresAndJoinsGroupOnStop(t *testing.T) {
	eg := new(errgroup.Group)
	fired := make(chan struct{}, 1)
	timer := startPeriodicTimer(eg, 5*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("periodic timer never fired")
	}

	timer.Stop()
	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("eg.Wait(): got %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("errgroup did not join after Stop")
	}
}

func TestCoalescingTimerCollapsesRepeatedRequests(t *testing.T) {
	fired := make(chan struct{}, 4)
	c := newCoalescingTimer(20*time.Millisecond, func() {
		fired <- struct{}{}
	})
	c.request()
	c.request()
	c.request()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("coalescing timer never fired")
	}
	time.Sleep(30 * time.Millisecond)
	if len(fired) != 0 {
		t.Errorf("fired channel: got %d pending, want 0 (only one fire expected)", len(fired))
	}
}
