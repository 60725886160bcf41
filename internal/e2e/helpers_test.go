package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llamachat/internal/engine"
	"llamachat/internal/httpapi"
	"llamachat/internal/registry"
	"llamachat/internal/remote"
	"llamachat/internal/router"
	"llamachat/internal/session"
	"llamachat/pkg/types"
)

// createTempModelsDir creates a temporary directory populated with empty .gguf files
// and returns the directory path and the list of model IDs (filenames).
func createTempModelsDir(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir, names
}

// pieceRuntime is an in-memory engine.Runtime that emits pieces once per
// completion loop and fails LoadModel for paths listed in broken.
type pieceRuntime struct {
	mu     sync.Mutex
	next   engine.Handle
	pieces []string
	idx    int
	broken map[string]bool
}

func (r *pieceRuntime) handle() (engine.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	return r.next, nil
}

func (r *pieceRuntime) Init()              {}
func (r *pieceRuntime) SystemInfo() string { return "pieces" }

func (r *pieceRuntime) LoadModel(path string) (engine.Handle, error) {
	if r.broken[filepath.Base(path)] {
		return 0, errBrokenModel
	}
	return r.handle()
}

func (r *pieceRuntime) NewContext(engine.Handle) (engine.Handle, error) { return r.handle() }
func (r *pieceRuntime) NewBatch(int, int, int) (engine.Handle, error)   { return r.handle() }
func (r *pieceRuntime) NewSampler() (engine.Handle, error)              { return r.handle() }

func (r *pieceRuntime) FreeSampler(engine.Handle) {}
func (r *pieceRuntime) FreeBatch(engine.Handle)   {}
func (r *pieceRuntime) FreeContext(engine.Handle) {}
func (r *pieceRuntime) FreeModel(engine.Handle)   {}
func (r *pieceRuntime) ClearCache(engine.Handle)  {}

func (r *pieceRuntime) CompletionInit(engine.Handle, engine.Handle, string, bool, int) (int, error) {
	r.mu.Lock()
	r.idx = 0
	r.mu.Unlock()
	return 4, nil
}

func (r *pieceRuntime) CompletionLoop(_, _, _ engine.Handle, nLen int, cur *int) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx >= len(r.pieces) || *cur >= nLen {
		return "", false, nil
	}
	p := r.pieces[r.idx]
	r.idx++
	*cur++
	return p, true, nil
}

func (r *pieceRuntime) Bench(engine.Handle, engine.Handle, int, int, int, int) (string, error) {
	return "pp 512 | tg 128", nil
}

var errBrokenModel = errors.New("unsupported model file")

// newSSEServer streams one chat-completion chunk per part and a final [DONE].
func newSSEServer(t *testing.T, parts ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range parts {
			b, _ := json.Marshal(map[string]any{
				"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": p}}},
			})
			_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newServerForDir wires engine, remote source, router and session behind the
// HTTP mux, the same way the serve command does.
func newServerForDir(t *testing.T, modelsDir string, rt engine.Runtime, remoteURL string) *httptest.Server {
	t.Helper()
	eng := engine.New(engine.Config{Runtime: rt, MaxLength: 64, Logger: zerolog.Nop()})
	src := remote.NewDeepSeek(remote.Config{URL: remoteURL, Model: "deepseek-chat", APIKey: "test-key", Logger: zerolog.Nop()})
	rtr := router.New(router.Config{Engine: eng, Sources: []remote.Source{src}, MaxLength: 64, Logger: zerolog.Nop()})
	coord := session.New(session.Config{Router: rtr, EngineInfo: eng.SystemInfo(), Logger: zerolog.Nop()})
	t.Cleanup(func() {
		coord.Close()
		_ = eng.Close()
	})
	srv := httptest.NewServer(httpapi.NewMux(coord, registry.New(modelsDir)))
	t.Cleanup(srv.Close)
	return srv
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func getSession(t *testing.T, base string) types.SessionResponse {
	t.Helper()
	resp, body := httpGet(t, base+"/session")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /session status=%d body=%s", resp.StatusCode, string(body))
	}
	var snap types.SessionResponse
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return snap
}

// waitTurn polls /session until turn id reaches a terminal status.
func waitTurn(t *testing.T, base, id string) types.SessionResponse {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := getSession(t, base)
		if snap.Turn != nil && snap.Turn.ID == id && snap.Turn.Status != types.TurnRunning {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("turn %s did not finish", id)
	return types.SessionResponse{}
}

func send(t *testing.T, base, text string) string {
	t.Helper()
	resp, body := httpPostJSON(t, base+"/send", []byte(`{"text":`+quote(text)+`}`))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /send status=%d body=%s", resp.StatusCode, string(body))
	}
	var out types.SendResponse
	if err := json.Unmarshal(body, &out); err != nil || out.TurnID == "" {
		t.Fatalf("send response %s err=%v", string(body), err)
	}
	return out.TurnID
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func last(snap types.SessionResponse) types.Message {
	return snap.Messages[len(snap.Messages)-1]
}
