// Package router selects the generation source for a turn: the local
// engine, the speculative engine path or a remote provider.
package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"llamachat/internal/engine"
	"llamachat/internal/remote"
	"llamachat/internal/stream"
	"llamachat/pkg/types"
)

// DefaultSystemPrompt is used when none is configured.
const DefaultSystemPrompt = "You are Qwen, created by Alibaba Cloud. You are a helpful assistant."

// ErrUnknownProvider is returned when switching to a provider that has no
// configured source.
var ErrUnknownProvider = errors.New("router: provider not configured")

// Engine is the subset of the engine the router drives.
type Engine interface {
	Load(ctx context.Context, path string) error
	Unload(ctx context.Context) error
	Loaded() bool
	Speculative() bool
	Generate(ctx context.Context, prompt string, formatChat bool, maxLength int) *stream.Stream
	GenerateSpeculative(ctx context.Context, prompt string, formatChat bool, maxLength int, draftEndpoint string) *stream.Stream
	Bench(ctx context.Context, pp, tg, pl, nr int) (string, error)
}

// Config wires a Router.
type Config struct {
	Engine  Engine
	Sources []remote.Source
	// SystemPrompt prefixes local prompts and is sent as the system message
	// to remote providers.
	SystemPrompt string
	// DraftEndpoint is the verifier address for speculative mode.
	DraftEndpoint string
	// MaxLength bounds local generation (0 = engine default).
	MaxLength int
	Logger    zerolog.Logger
}

// Router holds the active GenerationMode. The zero mode is Local.
type Router struct {
	eng      Engine
	sources  map[types.Provider]remote.Source
	system   string
	endpoint string
	maxLen   int
	log      zerolog.Logger

	mu        sync.RWMutex
	mode      types.Mode
	modelPath string
}

// New returns a Router in Local mode with no model selected.
func New(cfg Config) *Router {
	r := &Router{
		eng:      cfg.Engine,
		sources:  make(map[types.Provider]remote.Source, len(cfg.Sources)),
		system:   cfg.SystemPrompt,
		endpoint: cfg.DraftEndpoint,
		maxLen:   cfg.MaxLength,
		log:      cfg.Logger,
		mode:     types.Mode{Kind: types.ModeLocal},
	}
	if r.system == "" {
		r.system = DefaultSystemPrompt
	}
	for _, s := range cfg.Sources {
		r.sources[s.Provider()] = s
	}
	return r
}

// Mode returns the active mode.
func (r *Router) Mode() types.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// ModelPath returns the path of the last successfully loaded model.
func (r *Router) ModelPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modelPath
}

// Providers lists configured remote providers.
func (r *Router) Providers() []types.Provider {
	out := make([]types.Provider, 0, len(r.sources))
	for p := range r.sources {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Load unloads whatever is loaded, then loads path and switches to Local or
// Speculative mode. On failure the previous mode value stays in place. The
// engine operations are not canceled with ctx once admitted.
func (r *Router) Load(ctx context.Context, path string, speculative bool) error {
	if speculative && !r.eng.Speculative() {
		// Refuse before unloading so the current model and mode survive.
		return engine.ErrDependencyUnavailable("speculative decoding is not available with this runtime")
	}
	ctx = context.WithoutCancel(ctx)
	if err := r.eng.Unload(ctx); err != nil {
		r.log.Warn().Err(err).Msg("unload before load failed")
	}
	if err := r.eng.Load(ctx, path); err != nil {
		r.log.Error().Err(err).Str("path", path).Msg("load failed")
		return err
	}
	kind := types.ModeLocal
	if speculative {
		kind = types.ModeSpeculative
	}
	r.mu.Lock()
	r.mode = types.Mode{Kind: kind}
	r.modelPath = path
	r.mu.Unlock()
	r.log.Info().Str("mode", string(kind)).Str("model", filepath.Base(path)).Msg("mode switched")
	return nil
}

// SwitchToRemote selects provider. The engine is left as it is.
func (r *Router) SwitchToRemote(p types.Provider) error {
	if _, ok := r.sources[p]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	r.mu.Lock()
	r.mode = types.Mode{Kind: types.ModeRemote, Provider: p}
	r.mu.Unlock()
	r.log.Info().Str("provider", string(p)).Msg("mode switched")
	return nil
}

// Prompt renders text with the chat template used for local models.
func (r *Router) Prompt(text string) string {
	return r.system + "\n\nUser: " + text + "\n\nAssistant:"
}

// Source starts the fragment sequence for text from the active source.
func (r *Router) Source(ctx context.Context, text string) *stream.Stream {
	mode := r.Mode()
	switch mode.Kind {
	case types.ModeRemote:
		src, ok := r.sources[mode.Provider]
		if !ok {
			return stream.Fail(fmt.Errorf("%w: %s", ErrUnknownProvider, mode.Provider))
		}
		return src.Stream(ctx, r.system, text)
	case types.ModeSpeculative:
		return r.eng.GenerateSpeculative(ctx, r.Prompt(text), false, r.maxLen, r.endpoint)
	default:
		return r.eng.Generate(ctx, r.Prompt(text), false, r.maxLen)
	}
}

// Bench runs the engine benchmark.
func (r *Router) Bench(ctx context.Context, pp, tg, pl, nr int) (string, error) {
	return r.eng.Bench(ctx, pp, tg, pl, nr)
}

// Unload releases the engine model. The mode is kept.
func (r *Router) Unload(ctx context.Context) error {
	return r.eng.Unload(context.WithoutCancel(ctx))
}
