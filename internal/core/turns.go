package core

import "context"

// turn orders network calls for one task id. Each ticket waits for the
// previous ticket's turn to finish before it may call the server.
type turn struct {
	prev <-chan struct{}
	done chan struct{}
}

func newTurn(prev <-chan struct{}) *turn {
	return &turn{prev: prev, done: make(chan struct{})}
}

// wait blocks until the previous ticket has finished or ctx is done.
func (t *turn) wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// afterPrev runs fn once the previous ticket has finished, without blocking
// the caller.
func (t *turn) afterPrev(fn func()) {
	go func() {
		if t.prev != nil {
			<-t.prev
		}
		fn()
	}()
}

func (t *turn) release() {
	close(t.done)
}
