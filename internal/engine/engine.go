package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"llamachat/internal/lane"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxLength   = 1536
	defaultBatchTokens = 2048
)

// Config encapsulates Engine tunables.
type Config struct {
	Runtime Runtime
	// Speculator is optional; without it speculative generation fails
	// with KindSpeculativeInitFailed.
	Speculator Speculator
	// MaxLength bounds the generation cursor (prompt + generated tokens).
	MaxLength int
	// BatchTokens sizes the native batch.
	BatchTokens int
	// QueueDepth bounds pending lane operations.
	QueueDepth int
	// StreamBuffer is the fragment channel capacity (0 = stream default).
	StreamBuffer int
	Logger       zerolog.Logger
}

// resources are the native handles owned while Loaded.
type resources struct {
	model, ctx, batch, sampler Handle
}

// Engine is the single owner of the native runtime. All state below the
// lane field is touched only from the lane goroutine.
type Engine struct {
	rt        Runtime
	spec      Speculator
	lane      *lane.Lane
	maxLength int
	batchToks int
	buf       int
	log       zerolog.Logger
	info      string

	loaded atomic.Bool // mirror of state for lock-free status reads

	state *resources // nil while Unloaded
	path  string

	// gen numbers every generation started on the lane; live is the one
	// whose native decode state is current (0 = none).
	gen      uint64
	live     uint64
	liveSpec bool
}

// New starts the engine lane and initializes the runtime on it.
func New(cfg Config) *Engine {
	e := &Engine{
		rt:        cfg.Runtime,
		spec:      cfg.Speculator,
		maxLength: cfg.MaxLength,
		batchToks: cfg.BatchTokens,
		buf:       cfg.StreamBuffer,
		log:       cfg.Logger,
	}
	if e.maxLength <= 0 {
		e.maxLength = defaultMaxLength
	}
	if e.batchToks <= 0 {
		e.batchToks = defaultBatchTokens
	}
	e.lane = lane.New(lane.Config{
		QueueDepth: cfg.QueueDepth,
		Logger:     cfg.Logger,
		Setup: func() {
			e.rt.Init()
			e.info = e.rt.SystemInfo()
		},
	})
	e.log.Debug().Str("system_info", e.info).Msg("engine runtime initialized")
	return e
}

// SystemInfo returns the runtime's build/system description.
func (e *Engine) SystemInfo() string { return e.info }

// Loaded reports whether a model is currently loaded.
func (e *Engine) Loaded() bool { return e.loaded.Load() }

// Speculative reports whether speculative generation is available.
func (e *Engine) Speculative() bool { return e.spec != nil }

// MaxLength is the cursor bound used by Generate when maxLength <= 0.
func (e *Engine) MaxLength() int { return e.maxLength }

// Load acquires model, context, batch and sampler in that order. On failure
// everything acquired so far is released and the engine stays Unloaded.
func (e *Engine) Load(ctx context.Context, path string) error {
	return lane.Run(ctx, e.lane, func() error {
		if e.state != nil {
			return errAlreadyLoaded()
		}
		if strings.TrimSpace(path) == "" {
			return errLoadFailed(StageModel, errors.New("empty model path"))
		}
		model, err := e.rt.LoadModel(path)
		if err != nil || model == 0 {
			return errLoadFailed(StageModel, err)
		}
		c, err := e.rt.NewContext(model)
		if err != nil || c == 0 {
			e.rt.FreeModel(model)
			return errLoadFailed(StageContext, err)
		}
		b, err := e.rt.NewBatch(e.batchToks, 0, 1)
		if err != nil || b == 0 {
			e.rt.FreeContext(c)
			e.rt.FreeModel(model)
			return errLoadFailed(StageBatch, err)
		}
		s, err := e.rt.NewSampler()
		if err != nil || s == 0 {
			e.rt.FreeBatch(b)
			e.rt.FreeContext(c)
			e.rt.FreeModel(model)
			return errLoadFailed(StageSampler, err)
		}
		e.state = &resources{model: model, ctx: c, batch: b, sampler: s}
		e.path = path
		e.loaded.Store(true)
		e.log.Info().Str("path", path).Msg("model loaded")
		return nil
	})
}

// Unload releases sampler, batch, context and model (reverse acquisition
// order) plus any speculative side state. No-op while Unloaded. The only
// errors are lane admission errors (ctx canceled, lane closed).
func (e *Engine) Unload(ctx context.Context) error {
	return lane.Run(ctx, e.lane, func() error {
		if e.state == nil {
			return nil
		}
		if e.spec != nil {
			e.spec.Cleanup()
		}
		e.live, e.liveSpec = 0, false
		st := e.state
		e.rt.FreeSampler(st.sampler)
		e.rt.FreeBatch(st.batch)
		e.rt.FreeContext(st.ctx)
		e.rt.FreeModel(st.model)
		e.state = nil
		e.loaded.Store(false)
		e.log.Info().Str("path", e.path).Msg("model unloaded")
		e.path = ""
		return nil
	})
}

// Bench runs the runtime benchmark with the loaded model.
func (e *Engine) Bench(ctx context.Context, pp, tg, pl, nr int) (string, error) {
	return lane.Do(ctx, e.lane, func() (string, error) {
		if e.state == nil {
			return "", errNotLoaded()
		}
		e.retire()
		return e.rt.Bench(e.state.ctx, e.state.batch, pp, tg, pl, nr)
	})
}

// Close unloads the model and stops the lane.
func (e *Engine) Close() error {
	err := e.Unload(context.Background())
	e.lane.Close()
	return err
}
