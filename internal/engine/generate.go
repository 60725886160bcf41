package engine

import (
	"context"

	"llamachat/internal/lane"
	"llamachat/internal/stream"
	"llamachat/pkg/types"
)

// stepper advances the cursor by one native loop call.
type stepper func(st *resources, nLen, cur int) (piece string, next int, ok bool, err error)

// session captures the state and generation id a generation was started
// against, so its steps and cleanup become no-ops once another generation or
// an Unload/Load cycle has taken over the native decode state.
type session struct {
	st  *resources
	gen uint64
	cur int
}

// Generate produces the fragments for prompt from the loaded model. While
// Unloaded the sequence completes without fragments. maxLength <= 0 uses the
// configured bound.
func (e *Engine) Generate(ctx context.Context, prompt string, formatChat bool, maxLength int) *stream.Stream {
	nLen := e.bound(maxLength)
	return stream.Start(ctx, e.buf, func(ctx context.Context, emit func(types.Fragment) error) error {
		sess, err := lane.Do(ctx, e.lane, func() (session, error) {
			if e.state == nil {
				return session{}, errNotLoaded()
			}
			gen := e.begin(false)
			cur, err := e.rt.CompletionInit(e.state.ctx, e.state.batch, prompt, formatChat, nLen)
			if err != nil {
				e.retire()
				return session{}, err
			}
			return session{st: e.state, gen: gen, cur: cur}, nil
		})
		if IsNotLoaded(err) {
			e.log.Warn().Msg("generate called with no model loaded")
			return nil
		}
		if err != nil {
			return err
		}
		defer e.finish(sess)
		return e.drive(ctx, sess, nLen, emit, func(st *resources, nLen, cur int) (string, int, bool, error) {
			piece, ok, err := e.rt.CompletionLoop(st.ctx, st.batch, st.sampler, nLen, &cur)
			return piece, cur, ok, err
		})
	})
}

// GenerateSpeculative is Generate driven by the speculative decoder against
// draftEndpoint. Initialization failures terminate the sequence with a
// KindSpeculativeInitFailed error and no fragments.
func (e *Engine) GenerateSpeculative(ctx context.Context, prompt string, formatChat bool, maxLength int, draftEndpoint string) *stream.Stream {
	nLen := e.bound(maxLength)
	return stream.Start(ctx, e.buf, func(ctx context.Context, emit func(types.Fragment) error) error {
		sess, err := lane.Do(ctx, e.lane, func() (session, error) {
			if e.state == nil {
				return session{}, errNotLoaded()
			}
			if e.spec == nil {
				return session{}, errSpecInit(ErrDependencyUnavailable("speculative decoding not available with this runtime"))
			}
			gen := e.begin(true)
			cur, err := e.spec.Init(e.state.ctx, e.state.batch, prompt, formatChat, nLen, draftEndpoint)
			if err != nil || cur < 0 {
				e.retire()
				return session{}, errSpecInit(err)
			}
			return session{st: e.state, gen: gen, cur: cur}, nil
		})
		if IsNotLoaded(err) {
			e.log.Warn().Msg("speculative generate called with no model loaded")
			return nil
		}
		if err != nil {
			if IsSpeculativeInitFailed(err) {
				e.log.Warn().Err(err).Str("endpoint", draftEndpoint).Msg("speculative init failed")
			}
			return err
		}
		defer e.finish(sess)
		return e.drive(ctx, sess, nLen, emit, func(st *resources, nLen, cur int) (string, int, bool, error) {
			piece, ok, err := e.spec.Loop(st.ctx, nLen, &cur)
			return piece, cur, ok, err
		})
	})
}

// drive pulls one step at a time through the lane until the runtime reports
// the end, the cursor passes nLen or ctx is done. Pieces that decode to no
// text yet carry their token delta over to the next emitted fragment.
func (e *Engine) drive(ctx context.Context, sess session, nLen int, emit func(types.Fragment) error, step stepper) error {
	type result struct {
		piece string
		cur   int
		ok    bool
	}
	cur, pending, first := sess.cur, 0, true
	for cur <= nLen {
		r, err := lane.Do(ctx, e.lane, func() (result, error) {
			if e.state != sess.st || e.live != sess.gen {
				// Superseded by another generation or a model swap; end quietly.
				return result{}, nil
			}
			piece, next, ok, err := step(sess.st, nLen, cur)
			return result{piece: piece, cur: next, ok: ok}, err
		})
		if err != nil {
			return err
		}
		if !r.ok {
			return nil
		}
		pending += r.cur - cur
		cur = r.cur
		if r.piece == "" {
			continue
		}
		f := types.Fragment{Text: r.piece, Tokens: pending}
		if first {
			f.Tokens = 0
			first = false
		}
		pending = 0
		if err := emit(f); err != nil {
			return err
		}
	}
	return nil
}

// finish clears the decode cache once the loop is over, including after
// cancellation. It is skipped when a later generation or model already owns
// the decode state.
func (e *Engine) finish(sess session) {
	_ = lane.Run(context.Background(), e.lane, func() error {
		if e.state != sess.st || e.live != sess.gen {
			return nil
		}
		e.retire()
		return nil
	})
}

// begin makes a new generation live, retiring the previous one first. Lane
// only.
func (e *Engine) begin(speculative bool) uint64 {
	if e.live != 0 {
		e.retire()
	}
	e.gen++
	e.live, e.liveSpec = e.gen, speculative
	return e.gen
}

// retire releases the live generation's decode state. Lane only.
func (e *Engine) retire() {
	if e.liveSpec && e.spec != nil {
		e.spec.Cleanup()
	}
	if e.live != 0 && e.state != nil {
		e.rt.ClearCache(e.state.ctx)
	}
	e.live, e.liveSpec = 0, false
}

func (e *Engine) bound(maxLength int) int {
	if maxLength <= 0 {
		return e.maxLength
	}
	return maxLength
}
