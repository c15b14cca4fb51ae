package approval

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveDeliversDecision(t *testing.T) {
	c := NewCoordinator()

	result := make(chan Decision, 1)
	go func() {
		d, err := c.Wait(context.Background(), "per_1")
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		result <- d
	}()

	// Wait until the request is registered
	deadline := time.Now().Add(2 * time.Second)
	for len(c.Pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !c.Resolve("per_1", ApproveOnce) {
		t.Fatal("Resolve returned false for pending request")
	}

	select {
	case d := <-result:
		if d != ApproveOnce {
			t.Errorf("decision = %q, want approve_once", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke up")
	}

	if len(c.Pending()) != 0 {
		t.Error("request still pending after resolve")
	}
}

func TestResolveUnknownRequest(t *testing.T) {
	c := NewCoordinator()
	if c.Resolve("per_nope", Deny) {
		t.Error("Resolve returned true for unknown request")
	}
}

func TestResolveBeforeWait(t *testing.T) {
	c := NewCoordinator()

	// The request is registered and answered before anyone waits on it
	c.Create("per_1")
	if !c.Resolve("per_1", Deny) {
		t.Fatal("Resolve returned false for created request")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := c.Wait(ctx, "per_1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d != Deny {
		t.Errorf("decision = %q, want deny", d)
	}
	if len(c.Pending()) != 0 {
		t.Error("request still pending after consumed decision")
	}
}

func TestResolveTwiceRejectsSecondDecision(t *testing.T) {
	c := NewCoordinator()

	c.Create("per_1")
	if !c.Resolve("per_1", ApproveOnce) {
		t.Fatal("first Resolve returned false")
	}
	if c.Resolve("per_1", Deny) {
		t.Error("second Resolve returned true for an already answered request")
	}
}

func TestDiscardAllFailsWaiters(t *testing.T) {
	c := NewCoordinator()

	errs := make(chan error, 2)
	for _, id := range []string{"per_1", "per_2"} {
		go func(id string) {
			_, err := c.Wait(context.Background(), id)
			errs <- err
		}(id)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(c.Pending()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("requests never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.DiscardAll()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrDiscarded) {
				t.Errorf("err = %v, want ErrDiscarded", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("waiter never woke up after DiscardAll")
		}
	}
}

func TestWaitContextCancel(t *testing.T) {
	c := NewCoordinator()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Wait(ctx, "per_1")
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(c.Pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke up after cancel")
	}

	if len(c.Pending()) != 0 {
		t.Error("cancelled request still pending")
	}
}

func TestDecisionValid(t *testing.T) {
	for _, d := range []Decision{ApproveOnce, ApproveAlways, Deny} {
		if !d.Valid() {
			t.Errorf("%q should be valid", d)
		}
	}
	if Decision("maybe").Valid() {
		t.Error("unknown decision should be invalid")
	}
}
