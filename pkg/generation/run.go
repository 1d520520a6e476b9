package generation

import (
	"context"
	"time"
)

// DefaultPollInterval is how often Run samples the token while work is
// outstanding.
const DefaultPollInterval = 500 * time.Millisecond

type outcome[T any] struct {
	value T
	err   error
}

// Run starts work on its own goroutine and waits for whichever comes first:
// the work's result, the token being set, or ctx ending. When the token wins
// the work's context is cancelled on a best-effort basis and any late result
// is dropped.
func Run[T any](ctx context.Context, token *Token, poll time.Duration, work func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if token != nil && token.Cancelled() {
		return zero, ErrCancelled
	}

	workCtx, cancel := context.WithCancel(ctx)
	// Buffered so an abandoned worker never blocks on send.
	results := make(chan outcome[T], 1)
	go func() {
		v, err := work(workCtx)
		results <- outcome[T]{value: v, err: err}
	}()

	var cancelled <-chan struct{}
	if token != nil {
		cancelled = token.Done()
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case res := <-results:
			cancel()
			return res.value, res.err
		case <-cancelled:
			cancel()
			return zero, ErrCancelled
		case <-ticker.C:
			if token != nil && token.Cancelled() {
				cancel()
				return zero, ErrCancelled
			}
		case <-ctx.Done():
			cancel()
			return zero, ctx.Err()
		}
	}
}
