// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/mcp"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/server"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/stream"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

func newServeCmd(o *options) *cobra.Command {
	var (
		addr    string
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay",
		Long: `Run the HTTP relay between chat clients and Ollama.

The relay streams replies as NDJSON on POST /api/chat, executes model tool
calls, and persists conversations. The config file is watched and log level
and disabled tools are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := o.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger, level, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			r, err := newRelay(cfg, logger, level)
			if err != nil {
				return err
			}
			defer r.Close()

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), SuccessStyle.Render("[OK]")+" relay listening on http://"+ln.Addr().String())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if noWatch {
				path = ""
			}
			return r.Run(ctx, ln, path)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

// =============================================================================
// RELAY
// =============================================================================

// relay owns everything serve starts.
type relay struct {
	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel

	server   *server.Server
	store    *storage.Store
	registry *tools.Registry
	mcp      *mcp.Manager
}

// newRelay opens the store and wires the backend, tools and telemetry into
// the chat handler and HTTP server.
func newRelay(cfg *config.Config, logger *zap.Logger, level zap.AtomicLevel) (*relay, error) {
	r := &relay{cfg: cfg, logger: logger, level: level}

	backend := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:       cfg.Ollama.URL,
		Timeout:       cfg.Ollama.Timeout.D(),
		DefaultModel:  cfg.Ollama.DefaultModel,
		KeepAlive:     cfg.Ollama.KeepAlive,
		CapabilityTTL: cfg.Ollama.CapabilityTTL.D(),
	})
	metrics := telemetry.NewMetrics()
	usage := telemetry.NewUsageTracker()

	opts := []stream.Option{
		stream.WithConfig(stream.Config{
			DefaultModel:    cfg.Ollama.DefaultModel,
			MaxRounds:       cfg.Tools.MaxRounds,
			PersistInterval: cfg.Persistence.Interval.D(),
			DrainTimeout:    cfg.Persistence.DrainTimeout.D(),
		}),
		stream.WithProbe(backend),
		stream.WithTelemetry(metrics, usage),
		stream.WithLogger(logger.Named("stream")),
	}

	if cfg.Storage.Path != "" {
		store, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open chat database: %w", err)
		}
		r.store = store
		opts = append(opts, stream.WithStore(store))
	}

	var provider tools.Provider
	if cfg.Tools.Enabled {
		r.registry = tools.NewRegistry()
		err := tools.RegisterBuiltins(r.registry, tools.BuiltinConfig{
			WorkspaceDir:      cfg.Tools.Workspace,
			EnableFetch:       cfg.Tools.EnableFetch,
			FetchAllowPrivate: cfg.Tools.FetchAllowPrivate,
			FetchMaxBytes:     cfg.Tools.FetchMaxBytes,
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("register tools: %w", err)
		}
		r.registry.SetDisabled(cfg.Tools.Disabled)
		executor := tools.NewExecutor(r.registry, logger.Named("tools"), tools.WithTimeout(cfg.Tools.Timeout.D()))

		if len(cfg.Tools.MCP) > 0 {
			r.mcp = mcp.NewManager(cfg.Tools.MCP, logger.Named("mcp"))
			provider = tools.NewChain(executor, r.mcp)
		} else {
			provider = executor
		}
		opts = append(opts, stream.WithTools(provider))
	}

	handler := stream.NewHandler(stream.OllamaBackend{Client: backend}, opts...)

	r.server = server.New(server.Config{
		Addr:              cfg.Server.Addr,
		AuthToken:         cfg.Server.AuthToken,
		RateLimit:         cfg.Server.RateLimit,
		RateBurst:         cfg.Server.RateBurst,
		CORSOrigins:       cfg.Server.CORSOrigins,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.D(),
	}, handler).
		WithModels(backend).
		WithTelemetry(metrics, usage).
		WithLogger(logger.Named("http"))
	if r.store != nil {
		r.server.WithStore(r.store)
	}
	if provider != nil {
		r.server.WithTools(provider)
	}
	if r.mcp != nil {
		r.server.WithMCP(r.mcp)
	}
	return r, nil
}

// Run serves on ln until ctx is done, then drains open streams. When
// configPath is set the file is watched for live changes.
func (r *relay) Run(ctx context.Context, ln net.Listener, configPath string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.server.Serve(ln)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownTimeout.D())
		defer cancel()
		if err := r.server.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("shutdown_incomplete", zap.Error(err))
		}
		return nil
	})

	if r.mcp != nil {
		g.Go(func() error {
			if err := r.mcp.Start(gctx); err != nil && gctx.Err() == nil {
				r.logger.Warn("mcp_start_failed", zap.Error(err))
			}
			return nil
		})
	}

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, r.logger.Named("config"), r.apply)
		})
	}

	return g.Wait()
}

// apply takes the settings that can change without a restart from a
// reloaded configuration.
func (r *relay) apply(cfg *config.Config) {
	if lvl, err := logging.ParseLevel(cfg.Logging.Level); err == nil && lvl != r.level.Level() {
		r.level.SetLevel(lvl)
		r.logger.Info("log_level_changed", zap.Stringer("level", lvl))
	}
	if r.registry != nil {
		r.registry.SetDisabled(cfg.Tools.Disabled)
	}
	config.SetGlobal(cfg)
}

// Close releases the store and MCP servers.
func (r *relay) Close() {
	if r.mcp != nil {
		if err := r.mcp.Close(); err != nil {
			r.logger.Warn("mcp_close_failed", zap.Error(err))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("store_close_failed", zap.Error(err))
		}
	}
}
