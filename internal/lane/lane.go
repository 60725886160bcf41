// Package lane runs native engine operations on a single dedicated
// goroutine, one at a time, in submission order.
package lane

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("lane: closed")

const defaultQueueDepth = 32

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "llamachat",
		Subsystem: "lane",
		Name:      "queued_ops",
		Help:      "Engine operations waiting for the lane",
	})
	opsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llamachat",
		Subsystem: "lane",
		Name:      "ops_total",
		Help:      "Engine operations by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(queueDepth, opsTotal)
}

// Config tunes a Lane.
type Config struct {
	// QueueDepth bounds the number of admitted but not yet running
	// operations. Submitters block (honoring their context) when full.
	QueueDepth int
	// Setup runs once on the lane goroutine before the first operation,
	// e.g. native backend initialization.
	Setup  func()
	Logger zerolog.Logger
}

type op struct {
	ctx context.Context
	fn  func()
}

// Lane owns one goroutine, locked to its OS thread, that executes
// operations strictly one after another.
type Lane struct {
	ops       chan op
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	log       zerolog.Logger
}

// New starts the lane goroutine.
func New(cfg Config) *Lane {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	l := &Lane{
		ops:  make(chan op, depth),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		log:  cfg.Logger,
	}
	ready := make(chan struct{})
	go l.run(cfg.Setup, ready)
	<-ready
	return l
}

func (l *Lane) run(setup func(), ready chan<- struct{}) {
	// Native thread-local state must stay on one OS thread for the lane's lifetime.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)
	if setup != nil {
		setup()
	}
	close(ready)
	for {
		select {
		case o := <-l.ops:
			l.exec(o)
		case <-l.quit:
			// Drain what was admitted before Close.
			for {
				select {
				case o := <-l.ops:
					l.exec(o)
				default:
					return
				}
			}
		}
	}
}

func (l *Lane) exec(o op) {
	queueDepth.Dec()
	// Not started yet, so skipping has no native side effects.
	if o.ctx.Err() != nil {
		opsTotal.WithLabelValues("skipped").Inc()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			opsTotal.WithLabelValues("panic").Inc()
			l.log.Error().Interface("panic", r).Msg("lane operation panicked")
		}
	}()
	o.fn()
	opsTotal.WithLabelValues("done").Inc()
}

// submit admits fn to the queue. Admission order is execution order.
func (l *Lane) submit(ctx context.Context, fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Counted before the send so exec's Dec never runs first.
	queueDepth.Inc()
	select {
	case l.ops <- op{ctx: ctx, fn: fn}:
		return nil
	case <-ctx.Done():
		queueDepth.Dec()
		return ctx.Err()
	}
}

// Do runs fn on the lane and waits for its result. If ctx is canceled while
// waiting, Do returns ctx.Err(); an operation the lane has already started
// still runs to completion and its result is dropped.
func Do[T any](ctx context.Context, l *Lane, fn func() (T, error)) (T, error) {
	var (
		zero T
		res  T
		err  error
	)
	finished := make(chan struct{})
	if serr := l.submit(ctx, func() {
		defer close(finished)
		res, err = fn()
	}); serr != nil {
		return zero, serr
	}
	select {
	case <-finished:
		return res, err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-l.done:
		// The lane exited; fn either ran or was skipped.
		select {
		case <-finished:
			return res, err
		default:
			return zero, ErrClosed
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, l *Lane, fn func() error) error {
	_, err := Do(ctx, l, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Close stops accepting operations, runs everything already admitted and
// waits for the lane goroutine to exit.
func (l *Lane) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.quit)
	})
	<-l.done
}
