// Package httpapi exposes one chat session over HTTP: the presentation layer
// polls GET /session and drives the session with the POST/PUT endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llamachat/internal/common/fsutil"
	"llamachat/pkg/types"
)

// Service defines the session operations required by the HTTP API layer.
type Service interface {
	Snapshot() types.SessionResponse
	Send(ctx context.Context, text string) (string, error)
	Load(ctx context.Context, path string, speculative bool) error
	SwitchToRemote(p types.Provider) error
	Clear()
	Bench(ctx context.Context, pp, tg, pl, nr int) error
	AttachImage(img types.Image)
	SetInput(text string)
}

// Models lists and resolves model artifacts.
type Models interface {
	List() ([]types.Model, error)
	Resolve(id string) (types.Model, error)
}

// NewMux builds the HTTP handler. models may be nil, in which case /models
// is empty and /load only accepts explicit paths.
func NewMux(svc Service, models Models) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: corsOrDefault(corsAllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
			AllowedHeaders: corsOrDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}

	r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Snapshot())
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		resp := types.ModelsResponse{Models: []types.Model{}}
		if models != nil {
			list, err := models.List()
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if list != nil {
				resp.Models = list
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/send", func(w http.ResponseWriter, r *http.Request) {
		var req types.SendRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id, err := svc.Send(r.Context(), req.Text)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, types.SendResponse{TurnID: id})
	})

	r.Post("/load", func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		path := req.Path
		if path == "" {
			if req.Model == "" {
				writeJSONError(w, http.StatusBadRequest, "model or path is required")
				return
			}
			if models == nil {
				writeJSONError(w, http.StatusNotFound, "no model registry configured")
				return
			}
			m, err := models.Resolve(req.Model)
			if err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			path = m.Path
		}
		abs, err := fsutil.RegularFile(path)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
		defer cancel()
		if err := svc.Load(ctx, abs, req.Speculative); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, svc.Snapshot())
	})

	r.Post("/remote", func(w http.ResponseWriter, r *http.Request) {
		var req types.RemoteRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		p, err := types.ParseProvider(strings.ToLower(strings.TrimSpace(req.Provider)))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := svc.SwitchToRemote(p); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, svc.Snapshot())
	})

	r.Post("/clear", func(w http.ResponseWriter, r *http.Request) {
		svc.Clear()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/bench", func(w http.ResponseWriter, r *http.Request) {
		var req types.BenchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.PromptTokens <= 0 || req.GenTokens <= 0 || req.Parallel <= 0 || req.Repeats < 0 {
			writeJSONError(w, http.StatusBadRequest, "pp, tg and pl must be positive and nr must not be negative")
			return
		}
		ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
		defer cancel()
		if err := svc.Bench(ctx, req.PromptTokens, req.GenTokens, req.Parallel, req.Repeats); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, svc.Snapshot())
	})

	r.Post("/image", func(w http.ResponseWriter, r *http.Request) {
		var img types.Image
		if !decodeJSON(w, r, &img) {
			return
		}
		if len(img.Data) == 0 {
			writeJSONError(w, http.StatusBadRequest, "image data is required")
			return
		}
		svc.AttachImage(img)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Put("/input", func(w http.ResponseWriter, r *http.Request) {
		var req types.InputRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		svc.SetInput(req.Text)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeJSON enforces the content type and body limit and decodes into v.
// It writes the error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
