// Package stop coordinates a single, process-wide request to stop.
//
// Anything that can be told to stop early registers itself with Track; the
// first RequestStop cancels the coordinator's context and aborts every tracked
// handle. Later requests are no-ops.
package stop

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Abortable is a running component that can be told to stop early
type Abortable interface {
	Abort()
}

// AbortFunc adapts a plain function to Abortable
type AbortFunc func()

func (f AbortFunc) Abort() { f() }

// Coordinator owns the cancellation token of one run
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	reason  string
	nextID  int
	tracked map[int]Abortable
}

// New creates a coordinator whose context derives from parent
func New(parent context.Context) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{
		ctx:     ctx,
		cancel:  cancel,
		tracked: make(map[int]Abortable),
	}
}

// RequestStop sets the token. It returns true only for the call that set it.
func (c *Coordinator) RequestStop(reason string) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.stopped = true
	c.reason = reason
	handles := make([]Abortable, 0, len(c.tracked))
	for _, h := range c.tracked {
		handles = append(handles, h)
	}
	c.tracked = make(map[int]Abortable)
	c.mu.Unlock()

	c.cancel()
	for _, h := range handles {
		h.Abort()
	}
	return true
}

// Stopped reports whether a stop was requested
func (c *Coordinator) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Reason returns what the first RequestStop was called with
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Context is cancelled when a stop is requested
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Done is closed when a stop is requested
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Track registers h to be aborted on stop and returns a function that removes it.
// Tracking after the stop aborts h immediately.
func (c *Coordinator) Track(h Abortable) (untrack func()) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		h.Abort()
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.tracked[id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.tracked, id)
		c.mu.Unlock()
	}
}

// Shutdown waits for wait to return, giving up after grace.
// It reports whether wait finished in time.
func Shutdown(grace time.Duration, wait func()) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// NotifyOnSignal requests a stop on the first SIGINT or SIGTERM. The returned
// function releases the signal handler.
func (c *Coordinator) NotifyOnSignal() (release func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			c.RequestStop("signal: " + sig.String())
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(quit)
		})
	}
}
