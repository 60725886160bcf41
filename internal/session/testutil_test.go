package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"llamachat/internal/stream"
	"llamachat/pkg/types"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

// fakeClock advances by step on every reading and by Advance on demand.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sourceFunc func(ctx context.Context, text string) *stream.Stream

// fakeRouter records every call and serves scripted sources in order.
type fakeRouter struct {
	mu        sync.Mutex
	mode      types.Mode
	known     map[types.Provider]bool
	loadErr   error
	unloadErr error
	calls     []string
	sources   []sourceFunc
	ctxs      []context.Context
	texts     []string

	clock      *fakeClock
	benchErr   error
	benchDelay []time.Duration
	benchArgs  [][4]int
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		mode:  types.Mode{Kind: types.ModeLocal},
		known: map[types.Provider]bool{types.ProviderDeepSeek: true},
	}
}

func (r *fakeRouter) record(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *fakeRouter) Mode() types.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *fakeRouter) Load(_ context.Context, path string, speculative bool) error {
	r.record("load " + path)
	if r.loadErr != nil {
		return r.loadErr
	}
	r.mu.Lock()
	r.mode = types.Mode{Kind: types.ModeLocal}
	if speculative {
		r.mode.Kind = types.ModeSpeculative
	}
	r.mu.Unlock()
	return nil
}

func (r *fakeRouter) SwitchToRemote(p types.Provider) error {
	if !r.known[p] {
		return errors.New("provider not configured")
	}
	r.mu.Lock()
	r.mode = types.Mode{Kind: types.ModeRemote, Provider: p}
	r.mu.Unlock()
	return nil
}

func (r *fakeRouter) Source(ctx context.Context, text string) *stream.Stream {
	r.mu.Lock()
	n := len(r.ctxs)
	r.ctxs = append(r.ctxs, ctx)
	r.texts = append(r.texts, text)
	var src sourceFunc
	if n < len(r.sources) {
		src = r.sources[n]
	}
	r.mu.Unlock()
	if src == nil {
		return stream.Empty()
	}
	return src(ctx, text)
}

func (r *fakeRouter) Bench(_ context.Context, pp, tg, pl, nr int) (string, error) {
	r.mu.Lock()
	n := len(r.benchArgs)
	r.benchArgs = append(r.benchArgs, [4]int{pp, tg, pl, nr})
	r.mu.Unlock()
	if r.benchErr != nil {
		return "", r.benchErr
	}
	if n < len(r.benchDelay) && r.clock != nil {
		r.clock.Advance(r.benchDelay[n])
	}
	if n == 0 {
		return "warm-up table", nil
	}
	return "benchmark table", nil
}

func (r *fakeRouter) Unload(context.Context) error {
	r.record("unload")
	return r.unloadErr
}

// scripted returns a source that emits frags and then ends with err.
func scripted(err error, frags ...types.Fragment) sourceFunc {
	return func(ctx context.Context, _ string) *stream.Stream {
		return stream.Start(ctx, 1, func(ctx context.Context, emit func(types.Fragment) error) error {
			for _, f := range frags {
				if e := emit(f); e != nil {
					return e
				}
			}
			return err
		})
	}
}

// hanging emits frags and then blocks until cancelled.
func hanging(frags ...types.Fragment) sourceFunc {
	return func(ctx context.Context, _ string) *stream.Stream {
		return stream.Start(ctx, 1, func(ctx context.Context, emit func(types.Fragment) error) error {
			for _, f := range frags {
				if e := emit(f); e != nil {
					return e
				}
			}
			<-ctx.Done()
			return ctx.Err()
		})
	}
}

func contents(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

// waitFor polls cond until it holds or the test context expires.
func waitFor(t *testing.T, ctx context.Context, cond func() bool) {
	t.Helper()
	for !cond() {
		select {
		case <-ctx.Done():
			t.Fatalf("condition not reached")
		case <-time.After(2 * time.Millisecond):
		}
	}
}
