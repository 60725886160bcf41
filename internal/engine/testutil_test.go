package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"llamachat/internal/stream"
	"llamachat/pkg/types"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// fakeRuntime records every native call. pieces are returned one per
// CompletionLoop, each advancing the cursor by step (default 1).
type fakeRuntime struct {
	mu       sync.Mutex
	calls    []string
	live     map[Handle]string
	next     Handle
	failAt   Stage
	pieces   []string
	step     int
	promptN  int
	idx      int
	gate     chan struct{} // when set, each loop call waits for a receive
	initErr  error
	benchOut string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{live: map[Handle]string{}, promptN: 4, benchOut: "pp 512 | tg 128"}
}

func (f *fakeRuntime) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeRuntime) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRuntime) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeRuntime) acquire(kind Stage) (Handle, error) {
	f.record("new_" + string(kind))
	if f.failAt == kind {
		return 0, errors.New(string(kind) + " failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.live[f.next] = string(kind)
	return f.next, nil
}

func (f *fakeRuntime) release(kind string, h Handle) {
	f.record("free_" + kind)
	f.mu.Lock()
	delete(f.live, h)
	f.mu.Unlock()
}

func (f *fakeRuntime) Init()              { f.record("init") }
func (f *fakeRuntime) SystemInfo() string { return "fake" }

func (f *fakeRuntime) LoadModel(string) (Handle, error)       { return f.acquire(StageModel) }
func (f *fakeRuntime) NewContext(Handle) (Handle, error)      { return f.acquire(StageContext) }
func (f *fakeRuntime) NewBatch(int, int, int) (Handle, error) { return f.acquire(StageBatch) }
func (f *fakeRuntime) NewSampler() (Handle, error)            { return f.acquire(StageSampler) }

func (f *fakeRuntime) FreeSampler(h Handle) { f.release("sampler", h) }
func (f *fakeRuntime) FreeBatch(h Handle)   { f.release("batch", h) }
func (f *fakeRuntime) FreeContext(h Handle) { f.release("context", h) }
func (f *fakeRuntime) FreeModel(h Handle)   { f.release("model", h) }

func (f *fakeRuntime) CompletionInit(Handle, Handle, string, bool, int) (int, error) {
	f.record("completion_init")
	if f.initErr != nil {
		return 0, f.initErr
	}
	f.mu.Lock()
	f.idx = 0
	f.mu.Unlock()
	return f.promptN, nil
}

func (f *fakeRuntime) CompletionLoop(_, _, _ Handle, nLen int, cur *int) (string, bool, error) {
	f.record("completion_loop")
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.pieces) || *cur >= nLen {
		return "", false, nil
	}
	step := f.step
	if step == 0 {
		step = 1
	}
	p := f.pieces[f.idx]
	f.idx++
	*cur += step
	return p, true, nil
}

func (f *fakeRuntime) ClearCache(Handle) { f.record("clear_cache") }

func (f *fakeRuntime) Bench(Handle, Handle, int, int, int, int) (string, error) {
	f.record("bench")
	return f.benchOut, nil
}

// fakeSpeculator emits pieces like fakeRuntime and records cleanups.
type fakeSpeculator struct {
	mu       sync.Mutex
	initErr  error
	pieces   []string
	idx      int
	cleanups int
	endpoint string
}

func (s *fakeSpeculator) Init(_, _ Handle, _ string, _ bool, _ int, endpoint string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = endpoint
	s.idx = 0
	if s.initErr != nil {
		return -2, s.initErr
	}
	return 3, nil
}

func (s *fakeSpeculator) Loop(_ Handle, nLen int, cur *int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.pieces) || *cur >= nLen {
		return "", false, nil
	}
	p := s.pieces[s.idx]
	s.idx++
	*cur += 3
	return p, true, nil
}

func (s *fakeSpeculator) Cleanup() {
	s.mu.Lock()
	s.cleanups++
	s.mu.Unlock()
}

func (s *fakeSpeculator) Cleanups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanups
}

// drain collects all fragments and the terminal error (nil on completion).
func drain(ctx context.Context, s *stream.Stream) ([]types.Fragment, error) {
	var out []types.Fragment
	for {
		f, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}
