// Package controller implements the per-call status object every XRPC
// call carries: a failure flag with message, a cancellation flag, and a
// single cancel callback slot.
//
// It plays the role google.protobuf.RpcController plays in the original
// implementation this framework was distilled from, but with the
// cancellation state machine actually implemented (the source left
// StartCancel/NotifyOnCancel as day-9/10 TODOs).
package controller

import "sync"

// Controller is caller-owned and borrowed by a channel or server for the
// duration of one call. All state is guarded by a single mutex; callbacks
// fire with the lock released so a callback that re-enters the Controller
// does not deadlock.
type Controller struct {
	mu        sync.Mutex
	failed    bool
	errorText string
	cancelled bool
	cancelCb  func()
}

// New returns a freshly reset Controller.
func New() *Controller {
	return &Controller{}
}

// SetFailed is monotonic: once failed, Failed() stays true until Reset.
func (c *Controller) SetFailed(text string) {
	c.mu.Lock()
	c.failed = true
	c.errorText = text
	c.mu.Unlock()
}

func (c *Controller) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

func (c *Controller) ErrorText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorText
}

// StartCancel is idempotent. On the false→true transition it invokes the
// currently-registered cancel callback exactly once, with the lock
// released, then clears the slot.
func (c *Controller) StartCancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	cb := c.cancelCb
	c.cancelCb = nil
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (c *Controller) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// NotifyOnCancel registers cb as the single cancel callback. A later
// registration overwrites an earlier, still-pending one. If cancellation
// has already occurred, cb runs immediately (with the lock released)
// instead of being stored.
func (c *Controller) NotifyOnCancel(cb func()) {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}
	c.cancelCb = cb
	c.mu.Unlock()
}

// Reset clears failed, error text, cancelled, and the callback slot.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.failed = false
	c.errorText = ""
	c.cancelled = false
	c.cancelCb = nil
	c.mu.Unlock()
}
