package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llamachat/internal/config"
	"llamachat/internal/engine"
	"llamachat/internal/registry"
)

// options are the command-line inputs shared by all subcommands.
type options struct {
	configPath string
	logLevel   string
	logFormat  string

	addr          string
	modelsDir     string
	draftEndpoint string
	draftServer   string
	corsOrigins   string
	threads       int
	ctxSize       int
}

func buildRootCmd() *cobra.Command { return buildRootCmdWith(&options{}, os.Stdout) }

// buildRootCmdWith constructs the command tree writing command output to out.
func buildRootCmdWith(o *options, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "llamachat",
		Short:         "Chat session coordinator for local and remote LLMs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Config file (.yaml, .yml, .json or .toml)")
	pf.StringVar(&o.logLevel, "log-level", "", "Log level: debug|info|warn|error (default info)")
	pf.StringVar(&o.logFormat, "log-format", "json", "Log format: json|console")
	pf.StringVar(&o.modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat session HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolve()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, newLogger(cfg.LogLevel, o.logFormat, os.Stderr))
		},
	}
	sf := serveCmd.Flags()
	sf.StringVar(&o.addr, "addr", "", "HTTP listen address, e.g. :8080")
	sf.StringVar(&o.draftEndpoint, "draft-endpoint", "", "Verifier WebSocket address for speculative mode")
	sf.StringVar(&o.draftServer, "draft-server", "", "llama.cpp server URL hosting the draft model for speculative mode")
	sf.StringVar(&o.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	sf.IntVar(&o.threads, "threads", 0, "Native engine threads (0 = runtime default)")
	sf.IntVar(&o.ctxSize, "ctx-size", 0, "Native context size in tokens (0 = runtime default)")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List model files in the models directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolve()
			if err != nil {
				return err
			}
			models, err := registry.LoadDir(cfg.ModelsDir)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(models)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and native backend availability",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "llamachat %s (llama built: %t)\n", version, engine.LlamaBuilt)
		},
	}

	root.AddCommand(serveCmd, modelsCmd, versionCmd)
	return root
}

// resolve merges defaults, the config file and flags, in increasing
// precedence.
func (o *options) resolve() (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.addr != "" {
		cfg.Addr = o.addr
	}
	if o.modelsDir != "" {
		cfg.ModelsDir = o.modelsDir
	}
	if o.draftEndpoint != "" {
		cfg.Engine.DraftEndpoint = o.draftEndpoint
	}
	if o.draftServer != "" {
		cfg.Engine.DraftServer = o.draftServer
	}
	if o.threads > 0 {
		cfg.Engine.Threads = o.threads
	}
	if o.ctxSize > 0 {
		cfg.Engine.CtxSize = o.ctxSize
	}
	if origins := splitCSV(o.corsOrigins); len(origins) > 0 {
		cfg.HTTP.CORS.Enabled = true
		cfg.HTTP.CORS.Origins = origins
	}
	return cfg.WithDefaults(), nil
}

func newLogger(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// splitCSV splits a comma-separated list, trimming blanks and dropping
// empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
