// Package remote turns streaming chat-completion APIs into fragment
// sequences. Every provider answers one request with a server-sent-event
// body of "data: {json}" lines; the text delta lives at
// choices[0].delta.content.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"llamachat/internal/stream"
	"llamachat/pkg/types"
)

// DefaultTimeout applies to connect, read and write when unset.
const DefaultTimeout = 30 * time.Second

var errReadTimeout = errors.New("read timeout")

var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "llamachat",
	Subsystem: "remote",
	Name:      "requests_total",
	Help:      "Remote streaming requests by provider and outcome",
}, []string{"provider", "outcome"})

func init() {
	prometheus.MustRegister(requestsTotal)
}

// Source is one remote provider.
type Source interface {
	Provider() types.Provider
	// Stream starts a chat completion for prompt. Canceling ctx or closing
	// the stream closes the connection.
	Stream(ctx context.Context, system, prompt string) *stream.Stream
}

// Config configures a provider.
type Config struct {
	URL    string
	Model  string
	APIKey string

	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers and each idle gap
	// between body reads.
	ReadTimeout time.Duration
	// WriteTimeout bounds sending the request.
	WriteTimeout time.Duration

	// HTTPClient overrides the transport built from the timeouts.
	HTTPClient   *http.Client
	StreamBuffer int
	Logger       zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultTimeout
	}
}

func newHTTPClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// No client-wide Timeout: a stream may legitimately run for minutes.
	return &http.Client{Transport: tr}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// deltaFunc maps one content delta to a fragment. first is true for the
// first delta of the stream.
type deltaFunc func(content string, first bool) (types.Fragment, error)

// chatSource speaks the raw HTTP+SSE chat-completion protocol.
type chatSource struct {
	provider   types.Provider
	cfg        Config
	requireKey bool
	client     *http.Client
	delta      deltaFunc
	log        zerolog.Logger
}

func newChatSource(p types.Provider, cfg Config, requireKey bool, delta deltaFunc) *chatSource {
	cfg.applyDefaults()
	return &chatSource{
		provider:   p,
		cfg:        cfg,
		requireKey: requireKey,
		client:     newHTTPClient(cfg),
		delta:      delta,
		log:        cfg.Logger.With().Str("provider", string(p)).Logger(),
	}
}

func (s *chatSource) Provider() types.Provider { return s.provider }

func (s *chatSource) Stream(ctx context.Context, system, prompt string) *stream.Stream {
	return stream.Start(ctx, s.cfg.StreamBuffer, func(ctx context.Context, emit func(types.Fragment) error) error {
		err := s.run(ctx, system, prompt, emit)
		requestsTotal.WithLabelValues(string(s.provider), outcome(ctx, err)).Inc()
		return err
	})
}

func (s *chatSource) run(parent context.Context, system, prompt string, emit func(types.Fragment) error) error {
	if s.requireKey && strings.TrimSpace(s.cfg.APIKey) == "" {
		return &Error{Kind: KindUnauthenticated, Provider: s.provider}
	}
	if s.cfg.URL == "" {
		return &Error{Kind: KindNetwork, Provider: s.provider, Err: errors.New("endpoint not configured")}
	}
	body, err := json.Marshal(chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindNetwork, Provider: s.provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	sendTimer := time.AfterFunc(s.cfg.WriteTimeout+s.cfg.ReadTimeout, cancel)
	resp, err := s.client.Do(req)
	sendTimer.Stop()
	if err != nil {
		if parent.Err() != nil {
			return parent.Err()
		}
		return &Error{Kind: KindNetwork, Provider: s.provider, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.log.Warn().Int("status", resp.StatusCode).Msg("remote API error")
		return &Error{Kind: KindHTTP, Provider: s.provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	idle := newIdleReader(resp.Body, s.cfg.ReadTimeout, cancel)
	defer idle.stop()
	first := true
	err = decodeSSE(idle, s.log, func(content string) error {
		f, derr := s.delta(content, first)
		if derr != nil {
			return &Error{Kind: KindMalformedDelta, Provider: s.provider, Err: derr}
		}
		first = false
		return emit(f)
	})
	switch {
	case err == nil:
		return nil
	case parent.Err() != nil:
		return parent.Err()
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Kind: KindBodyRead, Provider: s.provider, Err: err}
}

func outcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case ctx.Err() != nil:
		return "cancelled"
	default:
		if k := KindOf(err); k != 0 {
			return k.String()
		}
		return "error"
	}
}

// idleReader cancels the request when no bytes arrive for d.
type idleReader struct {
	r       io.Reader
	d       time.Duration
	t       *time.Timer
	expired atomic.Bool
}

func newIdleReader(r io.Reader, d time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, d: d}
	if d > 0 {
		ir.t = time.AfterFunc(d, func() {
			ir.expired.Store(true)
			cancel()
		})
	}
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if ir.t != nil && n > 0 {
		ir.t.Reset(ir.d)
	}
	if err != nil && ir.expired.Load() {
		err = errReadTimeout
	}
	return n, err
}

func (ir *idleReader) stop() {
	if ir.t != nil {
		ir.t.Stop()
	}
}
