//go:build llama

package engine

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"
)

// LlamaBuilt reports whether this binary carries the native runtime.
const LlamaBuilt = true

// llamaRuntime binds go-llama.cpp. The binding owns context, batch and
// sampler internally, so those handles are bookkeeping records over the one
// *llama.LLama a model handle refers to.
type llamaRuntime struct {
	ctxSize int
	threads int

	next     Handle
	models   map[Handle]*llama.LLama
	contexts map[Handle]*llamaContext
	batches  map[Handle]int
	samplers map[Handle]struct{}
}

type llamaContext struct {
	model *llama.LLama
	gen   *prediction
}

// prediction adapts the callback-driven Predict call into one token per
// CompletionLoop call.
type prediction struct {
	tokens chan string
	stop   chan struct{}
	once   sync.Once
	err    error
}

func (p *prediction) cancel() {
	p.once.Do(func() { close(p.stop) })
	for range p.tokens {
	}
}

// NewLlamaRuntime returns the go-llama.cpp runtime.
func NewLlamaRuntime(ctxSize, threads int) Runtime {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &llamaRuntime{
		ctxSize:  ctxSize,
		threads:  threads,
		models:   map[Handle]*llama.LLama{},
		contexts: map[Handle]*llamaContext{},
		batches:  map[Handle]int{},
		samplers: map[Handle]struct{}{},
	}
}

func (r *llamaRuntime) handle() Handle {
	r.next++
	return r.next
}

func (r *llamaRuntime) Init() {}

func (r *llamaRuntime) SystemInfo() string {
	return fmt.Sprintf("go-llama.cpp | %s/%s | threads = %d | ctx = %d", runtime.GOOS, runtime.GOARCH, r.threads, r.ctxSize)
}

func (r *llamaRuntime) LoadModel(path string) (Handle, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("model path is empty")
	}
	var opts []llama.ModelOption
	if r.ctxSize > 0 {
		opts = append(opts, llama.SetContext(r.ctxSize))
	}
	m, err := llama.New(path, opts...)
	if err != nil {
		return 0, err
	}
	h := r.handle()
	r.models[h] = m
	return h, nil
}

func (r *llamaRuntime) NewContext(model Handle) (Handle, error) {
	m, ok := r.models[model]
	if !ok {
		return 0, errors.New("unknown model handle")
	}
	h := r.handle()
	r.contexts[h] = &llamaContext{model: m}
	return h, nil
}

func (r *llamaRuntime) NewBatch(nTokens, _, _ int) (Handle, error) {
	h := r.handle()
	r.batches[h] = nTokens
	return h, nil
}

func (r *llamaRuntime) NewSampler() (Handle, error) {
	h := r.handle()
	r.samplers[h] = struct{}{}
	return h, nil
}

func (r *llamaRuntime) FreeSampler(h Handle) { delete(r.samplers, h) }
func (r *llamaRuntime) FreeBatch(h Handle)   { delete(r.batches, h) }

func (r *llamaRuntime) FreeContext(h Handle) {
	if c, ok := r.contexts[h]; ok && c.gen != nil {
		c.gen.cancel()
	}
	delete(r.contexts, h)
}

func (r *llamaRuntime) FreeModel(h Handle) {
	if m, ok := r.models[h]; ok {
		m.Free()
	}
	delete(r.models, h)
}

func (r *llamaRuntime) CompletionInit(ctx, _ Handle, text string, _ bool, nLen int) (int, error) {
	c, ok := r.contexts[ctx]
	if !ok {
		return 0, errors.New("unknown context handle")
	}
	if c.gen != nil {
		c.gen.cancel()
		c.gen = nil
	}
	n, _, err := c.model.TokenizeString(text, llama.SetThreads(r.threads))
	if err != nil {
		return 0, fmt.Errorf("tokenize: %w", err)
	}
	cur := int(n)
	if cur >= nLen {
		return 0, fmt.Errorf("prompt of %d tokens exceeds length bound %d", cur, nLen)
	}
	p := &prediction{tokens: make(chan string), stop: make(chan struct{})}
	c.model.SetTokenCallback(func(tok string) bool {
		select {
		case p.tokens <- tok:
			return true
		case <-p.stop:
			return false
		}
	})
	go func() {
		defer close(p.tokens)
		_, p.err = c.model.Predict(text,
			llama.SetTokens(nLen-cur),
			llama.SetThreads(r.threads),
		)
	}()
	c.gen = p
	return cur, nil
}

func (r *llamaRuntime) CompletionLoop(ctx, _, _ Handle, nLen int, cur *int) (string, bool, error) {
	c, ok := r.contexts[ctx]
	if !ok || c.gen == nil {
		return "", false, nil
	}
	if *cur >= nLen {
		return "", false, nil
	}
	tok, ok := <-c.gen.tokens
	if !ok {
		return "", false, c.gen.err
	}
	*cur++
	return tok, true, nil
}

func (r *llamaRuntime) ClearCache(ctx Handle) {
	c, ok := r.contexts[ctx]
	if !ok || c.gen == nil {
		return
	}
	c.gen.cancel()
	c.gen = nil
}

// Bench times prompt processing and generation with synthetic prompts and
// reports a markdown table like llama-bench.
func (r *llamaRuntime) Bench(ctx, _ Handle, pp, tg, pl, nr int) (string, error) {
	c, ok := r.contexts[ctx]
	if !ok {
		return "", errors.New("unknown context handle")
	}
	// Predict must not overlap a completion's background Predict on the
	// same model.
	if c.gen != nil {
		c.gen.cancel()
		c.gen = nil
	}
	if nr <= 0 {
		nr = 1
	}
	prompt := strings.TrimSpace(strings.Repeat(" the", pp))
	c.model.SetTokenCallback(func(string) bool { return true })
	var ppTotal, tgTotal time.Duration
	for i := 0; i < nr; i++ {
		start := time.Now()
		if _, err := c.model.Predict(prompt, llama.SetTokens(1), llama.SetThreads(r.threads)); err != nil {
			return "", fmt.Errorf("bench pp: %w", err)
		}
		ppTotal += time.Since(start)
		start = time.Now()
		if _, err := c.model.Predict("the", llama.SetTokens(tg), llama.SetThreads(r.threads)); err != nil {
			return "", fmt.Errorf("bench tg: %w", err)
		}
		tgTotal += time.Since(start)
	}
	rate := func(tokens int, d time.Duration) float64 {
		if d <= 0 {
			return 0
		}
		return float64(tokens*nr) / d.Seconds()
	}
	var b strings.Builder
	b.WriteString("| backend | threads | test | t/s |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	fmt.Fprintf(&b, "| go-llama.cpp | %d | pp %d | %.2f |\n", r.threads, pp, rate(pp, ppTotal))
	fmt.Fprintf(&b, "| go-llama.cpp | %d | tg %d | %.2f |\n", r.threads, tg, rate(tg, tgTotal))
	if pl > 1 {
		fmt.Fprintf(&b, "\nparallel sequences (%d) are not supported by this runtime; ran 1\n", pl)
	}
	return b.String(), nil
}
