// Package generation runs long-latency work that a user may cancel before it
// completes. Cancellation means "stop observing": the abandoned work may
// finish unseen, but its result is never delivered.
package generation

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCancelled is returned by Run when the token was set before the work
// completed.
var ErrCancelled = errors.New("generation cancelled")

// Token is the cancellation flag owned by one in-flight request.
type Token struct {
	id        string
	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once
}

func NewToken(id string) *Token {
	return &Token{id: id, done: make(chan struct{})}
}

func (t *Token) ID() string {
	return t.id
}

// Set marks the token cancelled. It reports whether this call flipped it.
func (t *Token) Set() bool {
	flipped := t.cancelled.CompareAndSwap(false, true)
	if flipped {
		t.once.Do(func() { close(t.done) })
	}
	return flipped
}

func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed once the token is set.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
