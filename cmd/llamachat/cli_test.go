package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"llamachat/internal/config"
	"llamachat/internal/engine"
	"llamachat/pkg/types"
)

func TestResolve_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "llamachat.yaml")
	if err := os.WriteFile(p, []byte("addr: \":9000\"\nmodels_dir: /from/file\nengine:\n  threads: 2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	o := &options{configPath: p, modelsDir: "/from/flag", corsOrigins: "http://a, http://b"}
	cfg, err := o.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.ModelsDir != "/from/flag" || cfg.Engine.Threads != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.HTTP.CORS.Enabled || len(cfg.HTTP.CORS.Origins) != 2 {
		t.Fatalf("cors %+v", cfg.HTTP.CORS)
	}
	if cfg.Engine.MaxLength != config.DefaultMaxLength {
		t.Fatalf("defaults not applied: %+v", cfg.Engine)
	}

	if _, err := (&options{configPath: filepath.Join(dir, "missing.yaml")}).resolve(); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestVersionAndModelsCommands(t *testing.T) {
	var out bytes.Buffer
	root := buildRootCmdWith(&options{}, &out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "llamachat ") {
		t.Fatalf("version output %q", out.String())
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m.gguf"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out.Reset()
	root = buildRootCmdWith(&options{}, &out)
	root.SetArgs([]string{"models", "--models-dir", dir})
	if err := root.Execute(); err != nil {
		t.Fatalf("models: %v", err)
	}
	var models []types.Model
	if err := json.Unmarshal(out.Bytes(), &models); err != nil || len(models) != 1 || models[0].ID != "m.gguf" {
		t.Fatalf("models output %q err=%v", out.String(), err)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("warn", "json", &buf)
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output %q", buf.String())
	}
	if newLogger("bogus", "json", &buf).GetLevel() != zerolog.InfoLevel {
		t.Fatalf("bogus level should fall back to info")
	}
}

func TestCompose_ServesSession(t *testing.T) {
	cfg := config.Config{ModelsDir: t.TempDir()}.WithDefaults()
	a := compose(cfg, engine.NewLlamaRuntime(0, 0), zerolog.Nop())
	defer a.close()

	req := httptest.NewRequest(http.MethodPost, "/remote", strings.NewReader(`{"provider":"deepseek"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("remote status=%d body=%s", w.Code, w.Body.String())
	}
	var snap types.SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("json: %v", err)
	}
	if snap.Mode.Kind != types.ModeRemote || snap.Mode.Provider != types.ProviderDeepSeek {
		t.Fatalf("mode %+v", snap.Mode)
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Content != "Switched to DEEPSEEK API mode" {
		t.Fatalf("transcript %+v", snap.Messages)
	}

	// Qwen is only wired when an endpoint is configured.
	req = httptest.NewRequest(http.MethodPost, "/remote", strings.NewReader(`{"provider":"qwen"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("qwen status=%d", w.Code)
	}
}

func TestCompose_DraftServerEnablesSpeculative(t *testing.T) {
	cfg := config.Config{ModelsDir: t.TempDir()}.WithDefaults()
	a := compose(cfg, engine.NewLlamaRuntime(0, 0), zerolog.Nop())
	if a.engine.Speculative() {
		t.Fatalf("speculative available without a drafter")
	}
	a.close()

	o := &options{draftServer: "http://127.0.0.1:8081"}
	cfg, err := o.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Engine.DraftServer != "http://127.0.0.1:8081" {
		t.Fatalf("draft server %q", cfg.Engine.DraftServer)
	}
	cfg.ModelsDir = t.TempDir()
	a = compose(cfg, engine.NewLlamaRuntime(0, 0), zerolog.Nop())
	defer a.close()
	if !a.engine.Speculative() {
		t.Fatalf("draft server did not enable speculative decoding")
	}
}
