// Package session implements the session coordinator: it owns the
// transcript, drives one turn at a time against the active generation
// source, merges fragments into the transcript and publishes throughput.
//
// Every mutating operation (Send, Load, SwitchToRemote, Clear, Bench, Close)
// first cancels the in-flight turn and waits for its consumer to exit, so at
// most one fragment sequence is consumed at any time.
package session

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"llamachat/internal/stream"
	"llamachat/pkg/types"
)

// Transcript texts appended by the coordinator.
const (
	InitialMessage = "Initializing..."
	ClearedMessage = "Conversation cleared"
)

var (
	// ErrTurnCancelled reports a turn that was superseded or torn down.
	ErrTurnCancelled = errors.New("session: turn cancelled")
	// ErrClosed is returned by operations after Close.
	ErrClosed = errors.New("session: closed")
	// ErrNoTurn is returned by Wait when no turn was ever started.
	ErrNoTurn = errors.New("session: no turn")
)

// Router is the generation source selection the coordinator drives.
type Router interface {
	Mode() types.Mode
	Load(ctx context.Context, path string, speculative bool) error
	SwitchToRemote(p types.Provider) error
	Source(ctx context.Context, text string) *stream.Stream
	Bench(ctx context.Context, pp, tg, pl, nr int) (string, error)
	Unload(ctx context.Context) error
}

// Config wires a Coordinator.
type Config struct {
	Router Router
	// EngineInfo is reported in snapshots (native backend system info).
	EngineInfo string
	Events     EventPublisher
	// Now is the clock used for throughput and bench timing.
	Now    func() time.Time
	Logger zerolog.Logger
}

type turn struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	src    *stream.Stream
	slot   int
}

// Coordinator owns one conversation.
type Coordinator struct {
	router Router
	info   string
	events EventPublisher
	now    func() time.Time
	log    zerolog.Logger

	// ops serializes the cancel-then-start operations.
	ops    sync.Mutex
	closed bool

	mu           sync.RWMutex
	messages     []types.Message
	input        string
	throughput   float64
	pendingImage bool
	cur          *turn
	last         *types.TurnState
}

// New returns a Coordinator whose transcript holds the initial system
// message.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		router:   cfg.Router,
		info:     cfg.EngineInfo,
		events:   cfg.Events,
		now:      cfg.Now,
		log:      cfg.Logger,
		messages: []types.Message{{Role: types.RoleSystem, Content: InitialMessage}},
	}
	if c.events == nil {
		c.events = noopPublisher{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Send starts a turn for text (the current input value when text is empty)
// and returns its id. The prior turn, if any, is cancelled first.
func (c *Coordinator) Send(ctx context.Context, text string) (string, error) {
	c.ops.Lock()
	defer c.ops.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	c.cancelTurn()

	id := uuid.NewString()
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &turn{id: id, ctx: tctx, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if text == "" {
		text = c.input
	}
	c.input = ""
	if !c.pendingImage {
		c.messages = append(c.messages, types.Message{Role: types.RoleUser, Content: text})
	}
	c.pendingImage = false
	c.messages = append(c.messages, types.Message{Role: types.RoleSystem})
	t.slot = len(c.messages) - 1
	c.throughput = 0
	c.cur = t
	c.last = &types.TurnState{ID: id, Status: types.TurnRunning}
	mode := c.router.Mode()
	c.mu.Unlock()

	c.log.Info().Str("turn", id).Str("mode", mode.String()).Msg("turn started")
	c.events.Publish(Event{Name: EventTurnStart, TurnID: id, Fields: map[string]any{"mode": mode.String()}})

	t.src = c.router.Source(tctx, text)
	go c.consume(t, t.src)
	return id, nil
}

func (c *Coordinator) consume(t *turn, src *stream.Stream) {
	defer close(t.done)
	defer src.Close()
	m := newMeter(c.now)
	for {
		f, err := src.Next(t.ctx)
		if err != nil {
			switch {
			case t.ctx.Err() != nil:
				c.finish(t, types.TurnCancelled, ErrTurnCancelled)
			case errors.Is(err, io.EOF):
				c.finish(t, types.TurnCompleted, nil)
			default:
				c.finish(t, types.TurnFailed, err)
			}
			return
		}

		c.mu.Lock()
		if t.ctx.Err() != nil {
			c.mu.Unlock()
			c.log.Debug().Str("turn", t.id).Msg("stale fragment discarded")
			c.finish(t, types.TurnCancelled, ErrTurnCancelled)
			return
		}
		c.messages[t.slot].Content += f.Text
		rate, ok := m.observe(f)
		if ok {
			c.throughput = rate
		}
		c.mu.Unlock()

		fragmentsTotal.Inc()
		c.events.Publish(Event{Name: EventFragment, TurnID: t.id, Fields: map[string]any{"tokens": f.Tokens}})
		if ok {
			throughputGauge.Set(rate)
			c.events.Publish(Event{Name: EventThroughput, TurnID: t.id, Fields: map[string]any{"tokens_per_second": rate}})
		}
	}
}

func (c *Coordinator) finish(t *turn, status types.TurnStatus, err error) {
	st := types.TurnState{ID: t.id, Status: status}
	c.mu.Lock()
	if status == types.TurnFailed {
		st.Error = err.Error()
		c.messages = append(c.messages, types.Message{Role: types.RoleSystem, Content: err.Error()})
	} else if status == types.TurnCancelled {
		st.Error = err.Error()
	}
	if c.last != nil && c.last.ID == t.id {
		c.last = &st
	}
	c.mu.Unlock()

	turnsTotal.WithLabelValues(string(status)).Inc()
	ev := c.log.Info()
	if status == types.TurnFailed {
		ev = c.log.Warn().Err(err)
	}
	ev.Str("turn", t.id).Str("status", string(status)).Msg("turn finished")
	c.events.Publish(Event{Name: EventTurnEnd, TurnID: t.id, Fields: map[string]any{"status": string(status)}})
}

// cancelTurn stops the in-flight turn and waits for its consumer and for the
// source's producer, so the old turn's engine cleanup lands before the next
// turn starts. Caller holds c.ops.
func (c *Coordinator) cancelTurn() {
	c.mu.RLock()
	t := c.cur
	c.mu.RUnlock()
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
	<-t.src.Done()
	c.mu.Lock()
	if c.cur == t {
		c.cur = nil
	}
	c.mu.Unlock()
}

// Wait blocks until the most recent turn has finished and returns its final
// state. A cancelled turn reports ErrTurnCancelled.
func (c *Coordinator) Wait(ctx context.Context) (types.TurnState, error) {
	c.mu.RLock()
	t, last := c.cur, c.last
	c.mu.RUnlock()
	if last == nil {
		return types.TurnState{}, ErrNoTurn
	}
	if t != nil {
		select {
		case <-t.done:
		case <-ctx.Done():
			return types.TurnState{}, ctx.Err()
		}
	}
	c.mu.RLock()
	st := *c.last
	c.mu.RUnlock()
	if st.Status == types.TurnCancelled {
		return st, ErrTurnCancelled
	}
	return st, nil
}

// Load switches to the local engine (or speculative mode) with the model at
// path. The outcome is appended to the transcript and also returned.
func (c *Coordinator) Load(ctx context.Context, path string, speculative bool) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.cancelTurn()
	if err := c.router.Load(ctx, path, speculative); err != nil {
		c.Log(err.Error())
		return err
	}
	file := filepath.Base(path)
	if speculative {
		c.Log("Using draft model " + file)
	} else {
		c.Log("Loaded model " + file)
	}
	c.events.Publish(Event{Name: EventModeSwitch, Fields: map[string]any{"mode": c.router.Mode().String(), "model": file}})
	return nil
}

// SwitchToRemote selects a remote provider. The local engine is not touched.
func (c *Coordinator) SwitchToRemote(p types.Provider) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.cancelTurn()
	if err := c.router.SwitchToRemote(p); err != nil {
		return err
	}
	c.Log("Switched to " + strings.ToUpper(string(p)) + " API mode")
	c.events.Publish(Event{Name: EventModeSwitch, Fields: map[string]any{"mode": c.router.Mode().String()}})
	return nil
}

// Clear cancels the in-flight turn and resets the transcript.
func (c *Coordinator) Clear() {
	c.ops.Lock()
	defer c.ops.Unlock()
	c.cancelTurn()
	c.mu.Lock()
	c.messages = []types.Message{{Role: types.RoleSystem, Content: ClearedMessage}}
	c.throughput = 0
	c.pendingImage = false
	c.mu.Unlock()
}

// Log appends a system message.
func (c *Coordinator) Log(msg string) {
	c.mu.Lock()
	c.messages = append(c.messages, types.Message{Role: types.RoleSystem, Content: msg})
	c.mu.Unlock()
}

// AttachImage appends a user entry carrying img. The next Send does not add
// its own user entry.
func (c *Coordinator) AttachImage(img types.Image) {
	c.mu.Lock()
	c.messages = append(c.messages, types.Message{Role: types.RoleUser, Image: &img})
	c.pendingImage = true
	c.mu.Unlock()
}

// SetInput replaces the pending input text.
func (c *Coordinator) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
}

// Throughput returns the last published tokens-per-second (0 = unknown).
func (c *Coordinator) Throughput() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.throughput
}

// Snapshot returns a copy of the presentation state.
func (c *Coordinator) Snapshot() types.SessionResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := make([]types.Message, len(c.messages))
	copy(msgs, c.messages)
	out := types.SessionResponse{
		Messages:   msgs,
		Input:      c.input,
		Throughput: c.throughput,
		Mode:       c.router.Mode(),
		EngineInfo: c.info,
	}
	if c.last != nil {
		st := *c.last
		out.Turn = &st
	}
	return out
}

// Close cancels the in-flight turn and unloads the engine. An unload failure
// is appended to the transcript rather than returned.
func (c *Coordinator) Close() {
	c.ops.Lock()
	defer c.ops.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelTurn()
	if err := c.router.Unload(context.Background()); err != nil {
		c.log.Warn().Err(err).Msg("unload on teardown failed")
		c.Log(err.Error())
	}
}
