// Package channel implements the request/response bus connecting agents to
// the platform dispatcher and to the inference router. Many producers submit
// concurrently; exactly one authority drains the receive side and replies by
// request id.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned by Submit after shutdown and by Await when no
// waiter is registered for the id.
var ErrClosed = errors.New("channel: closed")

// Request is one queued submission. ID is unique for the channel's lifetime.
type Request[P any] struct {
	ID      string
	Payload P
}

// Channel is a bounded multi-producer, single-consumer request bus with
// per-id response correlation. The zero value is not usable; call New.
type Channel[P, R any] struct {
	recv chan Request[P]
	done chan struct{}
	term chan struct{}

	mu         sync.Mutex
	waiters    map[string]chan R
	closed     bool
	terminated bool
}

// New creates a channel whose admission queue holds at most depth requests.
// A full queue blocks submitters (backpressure) rather than growing.
func New[P, R any](depth int) *Channel[P, R] {
	if depth < 1 {
		depth = 1
	}
	return &Channel[P, R]{
		recv:    make(chan Request[P], depth),
		done:    make(chan struct{}),
		term:    make(chan struct{}),
		waiters: make(map[string]chan R),
	}
}

// Submit enqueues a request and returns its id without waiting for the
// response. It blocks only while the admission queue is full.
func (c *Channel[P, R]) Submit(ctx context.Context, payload P) (string, error) {
	id := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.waiters[id] = make(chan R, 1)
	c.mu.Unlock()

	select {
	case c.recv <- Request[P]{ID: id, Payload: payload}:
		return id, nil
	case <-c.done:
		c.dropWaiter(id)
		return "", ErrClosed
	case <-ctx.Done():
		c.dropWaiter(id)
		return "", ctx.Err()
	}
}

// Receive returns the next queued request. It reports false once the channel
// is closed and everything queued before the close has been drained.
func (c *Channel[P, R]) Receive(ctx context.Context) (Request[P], bool) {
	// Drain what is already queued before honoring shutdown.
	select {
	case req := <-c.recv:
		return req, true
	default:
	}

	select {
	case req := <-c.recv:
		return req, true
	case <-c.done:
		select {
		case req := <-c.recv:
			return req, true
		default:
			return Request[P]{}, false
		}
	case <-ctx.Done():
		return Request[P]{}, false
	}
}

// Reply delivers the response for id to its waiter. It reports false when no
// waiter is registered, which means the id was never submitted, was already
// answered, or its submitter gave up.
func (c *Channel[P, R]) Reply(id string, result R) bool {
	c.mu.Lock()
	w, ok := c.waiters[id]
	delete(c.waiters, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	w <- result
	return true
}

// Await blocks until the response for id arrives. Safe to call from a
// different goroutine than the submitter; each id has exactly one waiter.
func (c *Channel[P, R]) Await(ctx context.Context, id string) (R, error) {
	var zero R

	c.mu.Lock()
	w, ok := c.waiters[id]
	c.mu.Unlock()
	if !ok {
		return zero, ErrClosed
	}

	// A successful Submit means the request is in the queue, and Close keeps
	// the queue receivable, so the reply can still arrive after admission
	// stops. Only Terminate ends the wait for good.
	select {
	case r := <-w:
		return r, nil
	case <-ctx.Done():
		c.dropWaiter(id)
		return zero, ctx.Err()
	case <-c.term:
		// Terminate happens strictly after the authority's last Reply, so
		// anything delivered is already buffered here.
		select {
		case r := <-w:
			return r, nil
		default:
			c.dropWaiter(id)
			return zero, ErrClosed
		}
	}
}

// Call is Submit followed by Await on the same id.
func (c *Channel[P, R]) Call(ctx context.Context, payload P) (R, error) {
	var zero R
	id, err := c.Submit(ctx, payload)
	if err != nil {
		return zero, err
	}
	return c.Await(ctx, id)
}

// Close stops admission. Requests queued before the close remain receivable,
// and their waiters keep waiting for the authority's replies.
func (c *Channel[P, R]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}

// Terminate closes admission and unblocks every waiter that has not received
// a reply with ErrClosed. The authority calls it after its final Reply;
// replies delivered before Terminate still reach their waiters.
func (c *Channel[P, R]) Terminate() {
	c.Close()
	c.mu.Lock()
	if !c.terminated {
		c.terminated = true
		close(c.term)
	}
	c.mu.Unlock()
}

// Pending returns the number of responses still outstanding.
func (c *Channel[P, R]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Channel[P, R]) dropWaiter(id string) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}
