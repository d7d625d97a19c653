// Tsuiseki is an LLM trace daemon: an instrumenting proxy in front of a
// local Ollama server, plus an admin API, SSE feed, and MCP server over
// the recorded spans.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/tsuiseki/internal/config"
	"github.com/ashita-ai/tsuiseki/internal/events"
	"github.com/ashita-ai/tsuiseki/internal/mcp"
	"github.com/ashita-ai/tsuiseki/internal/proxy"
	"github.com/ashita-ai/tsuiseki/internal/server"
	"github.com/ashita-ai/tsuiseki/internal/store"
	"github.com/ashita-ai/tsuiseki/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		apiAddr   string
		proxyAddr string
		ollamaURL string
	)

	root := &cobra.Command{
		Use:          "tsuiseki",
		Short:        "LLM trace daemon with Ollama proxy",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Load .env file if present (non-fatal; production won't have one).
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			// Flags override env-derived values.
			if cmd.Flags().Changed("api-addr") {
				cfg.APIAddr = apiAddr
			}
			if cmd.Flags().Changed("proxy-addr") {
				cfg.ProxyAddr = proxyAddr
			}
			if cmd.Flags().Changed("ollama-url") {
				cfg.OllamaURL = ollamaURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger(cfg.LogLevel)
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("fatal error", "error", err)
				return err
			}
			return nil
		},
	}

	root.Flags().StringVar(&apiAddr, "api-addr", "127.0.0.1:3000", "admin API listen address")
	root.Flags().StringVar(&proxyAddr, "proxy-addr", "127.0.0.1:3001", "proxy listen address")
	root.Flags().StringVar(&ollamaURL, "ollama-url", "http://localhost:11434", "Ollama server URL")

	return root
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("tsuiseki starting", "version", version)

	// Initialize OpenTelemetry (noop when no endpoint is configured).
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// One store and one broker, shared by both listeners.
	st := store.New()
	broker := events.NewBroker(logger)
	mcpSrv := mcp.New(st, logger, version)

	apiSrv := server.New(server.ServerConfig{
		Store:        st,
		Broker:       broker,
		MCPServer:    mcpSrv.MCPServer(),
		Logger:       logger,
		Addr:         cfg.APIAddr,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
	})

	proxySrv := proxy.NewServer(proxy.ServerConfig{
		Store:       st,
		Client:      proxy.NewClient(cfg.OllamaURL, cfg.OllamaTimeout),
		Broker:      broker,
		Logger:      logger,
		Addr:        cfg.ProxyAddr,
		ReadTimeout: cfg.ReadTimeout,
		// A proxied generation may run right up to the Ollama timeout;
		// leave room to relay the response.
		WriteTimeout: cfg.OllamaTimeout + 30*time.Second,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := apiSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := proxySrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("proxy server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var firstErr error
		if err := proxySrv.Shutdown(shutdownCtx); err != nil {
			firstErr = err
		}
		if err := apiSrv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	})

	logger.Info("daemon ready",
		"api_addr", cfg.APIAddr,
		"proxy_addr", cfg.ProxyAddr,
		"ollama_url", cfg.OllamaURL)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
