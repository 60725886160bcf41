package hetero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DefaultServerTimeout bounds each request to the draft server when unset.
const DefaultServerTimeout = 30 * time.Second

const maxServerResponse = 1 << 20

// DefaultEOGPieces are the rendered end-of-generation tokens of common chat
// templates.
var DefaultEOGPieces = []string{"<|im_end|>", "<|endoftext|>", "<|eot_id|>", "</s>"}

// ServerConfig configures a ServerDrafter.
type ServerConfig struct {
	// URL is the base address of a llama.cpp server hosting the draft model.
	URL            string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	// EOGPieces are detokenized pieces treated as end of generation.
	EOGPieces  []string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// ServerDrafter is a Drafter backed by a llama.cpp server's native
// /tokenize, /detokenize and /completion endpoints. The server keeps the
// draft KV cache itself (cache_prompt), so Trim only tracks the position.
type ServerDrafter struct {
	base    string
	timeout time.Duration
	client  *http.Client
	eog     map[string]bool
	pieces  map[int32]string
	pos     int
	log     zerolog.Logger
}

var _ Drafter = (*ServerDrafter)(nil)

// NewServerDrafter applies defaults to cfg.
func NewServerDrafter(cfg ServerConfig) *ServerDrafter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultServerTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultDialTimeout
	}
	if len(cfg.EOGPieces) == 0 {
		cfg.EOGPieces = DefaultEOGPieces
	}
	cli := cfg.HTTPClient
	if cli == nil {
		tr := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		// Deadlines come from per-request contexts.
		cli = &http.Client{Transport: tr}
	}
	eog := make(map[string]bool, len(cfg.EOGPieces))
	for _, p := range cfg.EOGPieces {
		eog[p] = true
	}
	return &ServerDrafter{
		base:    strings.TrimRight(cfg.URL, "/"),
		timeout: cfg.Timeout,
		client:  cli,
		eog:     eog,
		pieces:  map[int32]string{},
		log:     cfg.Logger,
	}
}

// Tokenize asks the server to tokenize text. special enables both the BOS
// prefix and parsing of special tokens in chat-formatted prompts.
func (s *ServerDrafter) Tokenize(text string, special bool) ([]int32, error) {
	out, err := s.post("/tokenize", map[string]any{
		"content":       text,
		"add_special":   special,
		"parse_special": special,
	})
	if err != nil {
		return nil, err
	}
	return tokenList(out, "tokens")
}

// Prefill evaluates prompt on the server so later drafts reuse its cache.
func (s *ServerDrafter) Prefill(prompt []int32) error {
	_, err := s.post("/completion", map[string]any{
		"prompt":       prompt,
		"n_predict":    0,
		"cache_prompt": true,
	})
	if err != nil {
		return err
	}
	s.pos = len(prompt)
	return nil
}

// Draft greedily predicts up to n tokens after prompt+last.
func (s *ServerDrafter) Draft(prompt []int32, last int32, n int) ([]int32, error) {
	toks := append(prompt[:len(prompt):len(prompt)], last)
	out, err := s.post("/completion", map[string]any{
		"prompt":        toks,
		"n_predict":     n,
		"cache_prompt":  true,
		"temperature":   0,
		"top_k":         1,
		"return_tokens": true,
		"stream":        false,
	})
	if err != nil {
		return nil, err
	}
	draft, err := tokenList(out, "tokens")
	if err != nil {
		return nil, err
	}
	if len(draft) > n {
		draft = draft[:n]
	}
	s.pos = len(toks) + len(draft)
	return draft, nil
}

// Trim records the accepted position; the server reconciles its cache
// against the next prompt.
func (s *ServerDrafter) Trim(pos int) {
	if pos < s.pos {
		s.pos = pos
	}
}

// IsEOG reports whether tok renders as one of the configured EOG pieces.
func (s *ServerDrafter) IsEOG(tok int32) bool { return s.eog[s.Piece(tok)] }

// Piece detokenizes one token. Results are cached; failures render empty.
func (s *ServerDrafter) Piece(tok int32) string {
	if p, ok := s.pieces[tok]; ok {
		return p
	}
	out, err := s.post("/detokenize", map[string]any{"tokens": []int32{tok}})
	if err != nil {
		s.log.Warn().Err(err).Int32("token", tok).Msg("detokenize failed")
		return ""
	}
	p := gjson.Get(out, "content").String()
	s.pieces[tok] = p
	return p
}

func (s *ServerDrafter) post(path string, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("hetero: draft server %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxServerResponse))
	if err != nil {
		return "", fmt.Errorf("hetero: draft server %s: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("hetero: draft server %s: %s: %s", path, resp.Status, msg)
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("hetero: draft server %s: malformed response", path)
	}
	return string(raw), nil
}

func tokenList(doc, path string) ([]int32, error) {
	r := gjson.Get(doc, path)
	if !r.IsArray() {
		return nil, fmt.Errorf("hetero: draft server response has no %s", path)
	}
	arr := r.Array()
	out := make([]int32, 0, len(arr))
	for _, t := range arr {
		// /tokenize may return {id, piece} objects when pieces are requested.
		if t.IsObject() {
			t = t.Get("id")
		}
		out = append(out, int32(t.Int()))
	}
	return out, nil
}
