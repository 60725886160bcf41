// Package hetero implements speculative ("hetero") decoding: a small local
// draft model proposes a few tokens per round and a remote target model,
// reached over a WebSocket, verifies them and returns the accepted run.
package hetero

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"llamachat/internal/engine"
)

// Defaults for Config fields left at zero.
const (
	DefaultDialTimeout = 10 * time.Second
	DefaultVerifyWait  = 500 * time.Millisecond
	DefaultDraftTokens = 3
	DefaultMaxMisses   = 20
)

// Drafter is the local draft model. Calls arrive on the engine lane.
type Drafter interface {
	Tokenize(text string, special bool) ([]int32, error)
	// Prefill decodes prompt into the draft context.
	Prefill(prompt []int32) error
	// Draft proposes up to n tokens continuing prompt+last.
	Draft(prompt []int32, last int32, n int) ([]int32, error)
	// Trim drops cached positions at or beyond pos.
	Trim(pos int)
	IsEOG(tok int32) bool
	Piece(tok int32) string
}

// Config tunes a Decoder.
type Config struct {
	Drafter     Drafter
	DialTimeout time.Duration
	VerifyWait  time.Duration
	DraftTokens int
	// MaxMisses bounds consecutive verify timeouts before the round fails.
	MaxMisses int
	Logger    zerolog.Logger
}

// Decoder drives draft/verify rounds. It satisfies engine.Speculator and,
// like the engine runtime, is only used from the engine lane.
type Decoder struct {
	cfg Config
	log zerolog.Logger

	v       *Verifier
	prompt  []int32
	last    int32
	nPast   int
	pending []byte
	misses  int
	done    bool
}

var _ engine.Speculator = (*Decoder)(nil)

// NewDecoder applies defaults to cfg.
func NewDecoder(cfg Config) *Decoder {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.VerifyWait <= 0 {
		cfg.VerifyWait = DefaultVerifyWait
	}
	if cfg.DraftTokens <= 0 {
		cfg.DraftTokens = DefaultDraftTokens
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = DefaultMaxMisses
	}
	return &Decoder{cfg: cfg, log: cfg.Logger}
}

// Init tokenizes text, connects to endpoint, sends the prefill frame and
// primes the draft model with all but the last prompt token.
func (d *Decoder) Init(_, _ engine.Handle, text string, formatChat bool, nLen int, endpoint string) (int, error) {
	d.Cleanup()
	if d.cfg.Drafter == nil {
		return -1, errors.New("hetero: no draft model runtime")
	}
	toks, err := d.cfg.Drafter.Tokenize(text, formatChat)
	if err != nil {
		return -1, fmt.Errorf("hetero: tokenize: %w", err)
	}
	if len(toks) < 2 {
		return -1, fmt.Errorf("hetero: prompt too short (%d tokens)", len(toks))
	}
	if len(toks) >= nLen {
		return -1, fmt.Errorf("hetero: prompt of %d tokens exceeds length bound %d", len(toks), nLen)
	}
	v, err := Dial(context.Background(), endpoint, d.cfg.DialTimeout, d.log)
	if err != nil {
		return -2, err
	}
	if err := v.Prefill(toks); err != nil {
		_ = v.Close()
		return -2, err
	}
	d.v = v
	d.prompt = append(make([]int32, 0, nLen), toks[:len(toks)-1]...)
	d.last = toks[len(toks)-1]
	d.nPast = len(d.prompt) - 1
	if err := d.cfg.Drafter.Prefill(d.prompt); err != nil {
		d.log.Warn().Err(err).Msg("draft prefill failed")
	}
	d.log.Debug().Int("prompt_tokens", len(toks)).Str("endpoint", endpoint).Msg("hetero session ready")
	return len(d.prompt), nil
}

// Loop runs one draft/verify round. A verify timeout yields an empty piece so
// the caller retries; too many in a row fail the generation.
func (d *Decoder) Loop(_ engine.Handle, nLen int, cur *int) (string, bool, error) {
	if d.v == nil || d.done {
		return "", false, nil
	}
	start := time.Now()
	draft, err := d.cfg.Drafter.Draft(d.prompt, d.last, d.cfg.DraftTokens)
	if err != nil {
		return "", false, fmt.Errorf("hetero: draft: %w", err)
	}
	drafted := time.Since(start)
	accepted, err := d.v.Verify(draft, d.cfg.VerifyWait)
	if errors.Is(err, ErrVerifyTimeout) {
		d.misses++
		if d.misses > d.cfg.MaxMisses {
			return "", false, fmt.Errorf("hetero: %d consecutive verify timeouts", d.misses)
		}
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	d.misses = 0
	d.log.Debug().
		Dur("draft", drafted).
		Dur("verify", time.Since(start)-drafted).
		Int("drafted", len(draft)).
		Int("accepted", len(accepted)).
		Msg("hetero round")

	d.prompt = append(d.prompt, d.last)
	d.last = accepted[len(accepted)-1]
	d.prompt = append(d.prompt, accepted[:len(accepted)-1]...)
	d.nPast += len(accepted)
	d.cfg.Drafter.Trim(d.nPast + 1)

	for _, tok := range accepted {
		if d.cfg.Drafter.IsEOG(tok) || *cur >= nLen {
			d.done = true
			break
		}
		*cur++
		d.pending = append(d.pending, d.cfg.Drafter.Piece(tok)...)
	}
	if !utf8.Valid(d.pending) {
		return "", true, nil
	}
	out := string(d.pending)
	d.pending = d.pending[:0]
	return out, true, nil
}

// Cleanup closes the verifier connection and forgets session state.
func (d *Decoder) Cleanup() {
	if d.v != nil {
		if err := d.v.Close(); err != nil {
			d.log.Debug().Err(err).Msg("verifier close")
		}
		d.v = nil
	}
	d.prompt = nil
	d.pending = nil
	d.last, d.nPast, d.misses, d.done = 0, 0, 0, false
}
