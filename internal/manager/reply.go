package manager

import (
	"context"
	"sync/atomic"
)

type replyResult[T any] struct {
	value T
	err   error
}

// reply is a one-shot result slot shared by racing operator callbacks.
// The first resolve wins; later ones report false and are dropped.
type reply[T any] struct {
	submitted atomic.Bool
	ch        chan replyResult[T]
}

func newReply[T any]() *reply[T] {
	return &reply[T]{ch: make(chan replyResult[T], 1)}
}

func (r *reply[T]) resolve(v T, err error) bool {
	return r.resolveFunc(func() (T, error) { return v, err })
}

// resolveFunc claims the slot and only then computes the result, so side
// effects in fn happen for the winning callback alone and before wait
// returns.
func (r *reply[T]) resolveFunc(fn func() (T, error)) bool {
	if !r.submitted.CompareAndSwap(false, true) {
		return false
	}
	v, err := fn()
	r.ch <- replyResult[T]{value: v, err: err}
	return true
}

// wait blocks for the winning result or ctx cancellation. A cancelled wait
// marks the slot submitted so late callbacks are dropped.
func (r *reply[T]) wait(ctx context.Context) (T, error) {
	select {
	case res := <-r.ch:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		if r.submitted.CompareAndSwap(false, true) {
			return zero, ctx.Err()
		}
		// A callback won the race with cancellation.
		res := <-r.ch
		return res.value, res.err
	}
}
