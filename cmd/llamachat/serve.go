package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"llamachat/internal/common/fsutil"
	"llamachat/internal/config"
	"llamachat/internal/engine"
	"llamachat/internal/hetero"
	"llamachat/internal/httpapi"
	"llamachat/internal/registry"
	"llamachat/internal/remote"
	"llamachat/internal/router"
	"llamachat/internal/session"
)

const shutdownTimeout = 5 * time.Second

// app is the composed object graph for one process.
type app struct {
	engine  *engine.Engine
	session *session.Coordinator
	handler http.Handler
	log     zerolog.Logger
}

// compose builds the engine, sources, router, session and HTTP handler.
func compose(cfg config.Config, rt engine.Runtime, log zerolog.Logger) *app {
	hlog := log.With().Str("component", "hetero").Logger()
	var drafter hetero.Drafter
	if d, ok := rt.(hetero.Drafter); ok {
		drafter = d
	} else if cfg.Engine.DraftServer != "" {
		drafter = hetero.NewServerDrafter(hetero.ServerConfig{
			URL:            cfg.Engine.DraftServer,
			Timeout:        cfg.Remote.ReadTimeout.Std(),
			ConnectTimeout: cfg.Remote.ConnectTimeout.Std(),
			Logger:         hlog,
		})
	}
	var spec engine.Speculator
	if drafter != nil {
		spec = hetero.NewDecoder(hetero.Config{Drafter: drafter, Logger: hlog})
	}
	eng := engine.New(engine.Config{
		Runtime:     rt,
		Speculator:  spec,
		MaxLength:   cfg.Engine.MaxLength,
		BatchTokens: cfg.Engine.BatchTokens,
		QueueDepth:  cfg.Engine.QueueDepth,
		Logger:      log.With().Str("component", "engine").Logger(),
	})

	rlog := log.With().Str("component", "remote").Logger()
	remoteCfg := func(p config.Provider) remote.Config {
		return remote.Config{
			URL:            p.URL,
			Model:          p.Model,
			APIKey:         p.APIKey,
			ConnectTimeout: cfg.Remote.ConnectTimeout.Std(),
			ReadTimeout:    cfg.Remote.ReadTimeout.Std(),
			WriteTimeout:   cfg.Remote.WriteTimeout.Std(),
			Logger:         rlog,
		}
	}
	sources := []remote.Source{
		remote.NewDeepSeek(remoteCfg(cfg.Remote.DeepSeek)),
		remote.NewOpenAI(remoteCfg(cfg.Remote.OpenAI)),
	}
	// Qwen has no public default endpoint.
	if cfg.Remote.Qwen.URL != "" {
		sources = append(sources, remote.NewQwen(remoteCfg(cfg.Remote.Qwen)))
	}

	rtr := router.New(router.Config{
		Engine:        eng,
		Sources:       sources,
		SystemPrompt:  cfg.SystemPrompt,
		DraftEndpoint: cfg.Engine.DraftEndpoint,
		MaxLength:     cfg.Engine.MaxLength,
		Logger:        log.With().Str("component", "router").Logger(),
	})
	slog := log.With().Str("component", "session").Logger()
	coord := session.New(session.Config{
		Router:     rtr,
		EngineInfo: eng.SystemInfo(),
		Events:     session.LogPublisher{Log: slog},
		Logger:     slog,
	})

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.HTTP.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.HTTP.CORS.Enabled, cfg.HTTP.CORS.Origins, cfg.HTTP.CORS.Methods, cfg.HTTP.CORS.Headers)

	return &app{
		engine:  eng,
		session: coord,
		handler: httpapi.NewMux(coord, registry.New(cfg.ModelsDir)),
		log:     log,
	}
}

// close tears the session down (unloading the model) and stops the lane.
func (a *app) close() {
	a.session.Close()
	if err := a.engine.Close(); err != nil {
		a.log.Warn().Err(err).Msg("engine close")
	}
}

func serve(parent context.Context, cfg config.Config, log zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dir, err := fsutil.ExpandHome(cfg.ModelsDir); err != nil || !fsutil.PathExists(dir) {
		log.Warn().Str("models_dir", cfg.ModelsDir).Msg("models directory not found")
	}
	if !engine.LlamaBuilt {
		log.Warn().Msg("built without the 'llama' tag; local models cannot be loaded")
	}

	a := compose(cfg, engine.NewLlamaRuntime(cfg.Engine.CtxSize, cfg.Engine.Threads), log)
	defer a.close()

	httpapi.SetBaseContext(ctx)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("llamachat listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
