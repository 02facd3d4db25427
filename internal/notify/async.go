package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

// sendTimeout is the max time allowed for a single asynchronous send.
const sendTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait for in-flight asynchronous sends on shutdown. Must be >= sendTimeout.
const ShutdownDrainDuration = sendTimeout

// Async sends through inner in a goroutine so the caller is not blocked. Errors are logged.
// Request cancellation does not abort an in-flight send.
type Async struct {
	inner Notifier
	wg    sync.WaitGroup
}

// NewAsync wraps inner. A nil inner discards messages.
func NewAsync(inner Notifier) *Async {
	if inner == nil {
		inner = Noop{}
	}
	return &Async{inner: inner}
}

// Notify schedules msg and returns nil immediately.
func (a *Async) Notify(_ context.Context, msg Message) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := a.inner.Notify(ctx, msg); err != nil {
			log.Printf("notify: async send failed kind=%s org=%s: %v", msg.Kind, msg.OrgID, err)
		}
	}()
	return nil
}

// Drain waits for in-flight sends or until timeout elapses. Returns false on timeout.
func (a *Async) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
