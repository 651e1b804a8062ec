package controller

import (
	"sync/atomic"
	"testing"
)

func TestSetFailedIsMonotonic(t *testing.T) {
	c := New()
	if c.Failed() {
		t.Fatal("new controller should not be failed")
	}

	c.SetFailed("boom")
	if !c.Failed() {
		t.Fatal("expect Failed() true after SetFailed")
	}
	if c.ErrorText() != "boom" {
		t.Fatalf("expect error text %q, got %q", "boom", c.ErrorText())
	}

	// SetFailed again with a different message still leaves it failed,
	// and the new message replaces the old one.
	c.SetFailed("boom again")
	if !c.Failed() {
		t.Fatal("expect Failed() to remain true")
	}
	if c.ErrorText() != "boom again" {
		t.Fatalf("expect error text %q, got %q", "boom again", c.ErrorText())
	}

	c.Reset()
	if c.Failed() {
		t.Fatal("expect Failed() false after Reset")
	}
	if c.ErrorText() != "" {
		t.Fatalf("expect empty error text after Reset, got %q", c.ErrorText())
	}
}

func TestStartCancelFiresCallbackOnce(t *testing.T) {
	c := New()
	var fired int32
	c.NotifyOnCancel(func() { atomic.AddInt32(&fired, 1) })

	c.StartCancel()
	c.StartCancel() // idempotent, must not fire twice
	c.StartCancel()

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expect cancel callback to fire exactly once, fired %d times", got)
	}
	if !c.IsCancelled() {
		t.Fatal("expect IsCancelled() true after StartCancel")
	}
}

func TestCancelBeforeRegisterFiresImmediately(t *testing.T) {
	c := New()
	c.StartCancel()

	var fired int32
	c.NotifyOnCancel(func() { atomic.AddInt32(&fired, 1) })

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expect callback registered after cancel to fire immediately, fired %d times", got)
	}
}

func TestLaterRegistrationOverwritesEarlier(t *testing.T) {
	c := New()
	var firstFired, secondFired int32
	c.NotifyOnCancel(func() { atomic.AddInt32(&firstFired, 1) })
	c.NotifyOnCancel(func() { atomic.AddInt32(&secondFired, 1) })

	c.StartCancel()

	if atomic.LoadInt32(&firstFired) != 0 {
		t.Fatal("first callback should have been overwritten, not fired")
	}
	if atomic.LoadInt32(&secondFired) != 1 {
		t.Fatal("second callback should have fired exactly once")
	}
}

func TestResetClearsCancelCallback(t *testing.T) {
	c := New()
	var fired int32
	c.NotifyOnCancel(func() { atomic.AddInt32(&fired, 1) })
	c.Reset()

	c.StartCancel()

	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("callback cleared by Reset must not fire")
	}
	if !c.IsCancelled() {
		t.Fatal("expect IsCancelled() true after StartCancel even post-reset")
	}
}
