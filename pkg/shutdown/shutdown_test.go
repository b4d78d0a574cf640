package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdownRunsHooksInReverseOrder(t *testing.T) {
	m := New(time.Second, nil)

	var order []string
	for _, name := range []string{"store", "supervisor", "http"} {
		name := name
		m.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if failed := m.Shutdown(); failed != 0 {
		t.Fatalf("Shutdown() failed = %d, want 0", failed)
	}

	want := []string{"http", "supervisor", "store"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	m := New(time.Second, nil)

	closed := false
	m.Register("store", CloseResource(closerFunc(func() error {
		closed = true
		return nil
	}), "store"))
	m.Register("broken", CloseResource(closerFunc(func() error {
		return errors.New("boom")
	}), "broken"))

	if failed := m.Shutdown(); failed != 1 {
		t.Errorf("Shutdown() failed = %d, want 1", failed)
	}
	if !closed {
		t.Error("store was not closed after an earlier step failed")
	}
}

func TestTriggerClosesDone(t *testing.T) {
	m := New(time.Second, nil)
	m.Trigger()
	m.Trigger()

	select {
	case <-m.Done():
	default:
		t.Fatal("Done() not closed after Trigger")
	}

	finished := make(chan struct{})
	go func() {
		m.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after Trigger")
	}
}
