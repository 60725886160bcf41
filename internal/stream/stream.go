// Package stream implements the cancellable, backpressured fragment sequence
// shared by every generation source.
//
// A producer goroutine pushes fragments into a bounded channel; the consumer
// pulls them with Next. Returning from the producer closes the sequence: a
// nil return is a normal completion (Next reports io.EOF), anything else is
// the terminal error. Close cancels the producer's context, which for HTTP
// sources tears down the connection.
package stream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"llamachat/pkg/types"
)

// DefaultBuffer is the channel capacity used when callers pass 0.
const DefaultBuffer = 16

// Producer emits fragments until the sequence is exhausted. emit returns an
// error once the stream has been closed; producers must stop on it.
type Producer func(ctx context.Context, emit func(types.Fragment) error) error

// Stream is a pull-based fragment sequence.
type Stream struct {
	ch     chan types.Fragment
	done   chan struct{}
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
	err    error
}

// Start runs p on a new goroutine and returns the consumer side.
func Start(ctx context.Context, buf int, p Producer) *Stream {
	if buf <= 0 {
		buf = DefaultBuffer
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan types.Fragment, buf),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	emit := func(f types.Fragment) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case s.ch <- f:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	go func() {
		defer close(s.done)
		defer cancel()
		// err is published before the channel closes so Next observes it.
		s.err = p(ctx, emit)
		close(s.ch)
	}()
	return s
}

// Empty returns a sequence that completes without fragments.
func Empty() *Stream {
	return Start(context.Background(), 1, func(context.Context, func(types.Fragment) error) error { return nil })
}

// Fail returns a sequence that yields no fragments and terminates with err.
func Fail(err error) *Stream {
	return Start(context.Background(), 1, func(context.Context, func(types.Fragment) error) error { return err })
}

// Next blocks for the next fragment. It returns io.EOF when the producer
// finished normally, the producer's error when it failed, and
// context.Canceled once Close has been called.
func (s *Stream) Next(ctx context.Context) (types.Fragment, error) {
	if s.closed.Load() {
		return types.Fragment{}, context.Canceled
	}
	select {
	case f, ok := <-s.ch:
		if s.closed.Load() {
			return types.Fragment{}, context.Canceled
		}
		if !ok {
			if s.err != nil {
				return types.Fragment{}, s.err
			}
			return types.Fragment{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return types.Fragment{}, ctx.Err()
	}
}

// Close stops the producer. Buffered fragments are discarded. Safe to call
// more than once and concurrently with Next.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// Done is closed after the producer has returned.
func (s *Stream) Done() <-chan struct{} { return s.done }
