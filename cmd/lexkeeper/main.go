// CLAUDE:SUMMARY CLI entry point for lexkeeper — sync daemon with HTTP API, optional MCP over QUIC, one-shot modes.
// Command lexkeeper tracks a consolidated-legislation source and serves the
// versioned corpus over HTTP and MCP.
//
// Usage:
//
//	lexkeeper -config lexkeeper.yaml             # daemon: sync loop + HTTP API
//	lexkeeper -config lexkeeper.yaml -sync-once  # one sweep, then exit
//	lexkeeper -config lexkeeper.yaml -search "potestad sancionadora"
//	lexkeeper -config lexkeeper.yaml -stats
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/lexkeeper"
	"github.com/hazyhaar/lexkeeper/mcpquic"

	_ "modernc.org/sqlite"
)

type options struct {
	configPath string
	dbPath     string
	baseURL    string
	syncOnce   bool
	search     string
	stats      bool
	limit      int
}

func main() {
	opts := options{}
	flag.StringVar(&opts.configPath, "config", "", "path to lexkeeper.yaml config file")
	flag.StringVar(&opts.dbPath, "db", "", "path to SQLite database")
	flag.StringVar(&opts.baseURL, "source", "", "base URL of the consolidated-legislation API")
	flag.BoolVar(&opts.syncOnce, "sync-once", false, "run one sync sweep and exit")
	flag.StringVar(&opts.search, "search", "", "full-text search query (exit after results)")
	flag.BoolVar(&opts.stats, "stats", false, "show corpus stats and exit")
	flag.IntVar(&opts.limit, "limit", 20, "max search results")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("lexkeeper: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}

	k, err := lexkeeper.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer k.Close()

	// One-shot: single sweep.
	if opts.syncOnce {
		sr, err := k.SyncOnce(ctx)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		return printJSON(sr)
	}

	// One-shot: search.
	if opts.search != "" {
		hits, err := k.Search(ctx, opts.search, "", opts.limit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		return printJSON(hits)
	}

	// One-shot: stats.
	if opts.stats {
		stats, err := k.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		return printJSON(stats)
	}

	// Daemon mode.

	// Optional MCP over QUIC.
	if env("MCP_TRANSPORT", "") == "quic" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "lexkeeper",
			Version: "1.0.0",
		}, nil)
		k.RegisterMCP(mcpSrv)

		quicAddr := env("MCP_QUIC_ADDR", ":9444")
		certFile := env("TLS_CERT", "")
		keyFile := env("TLS_KEY", "")

		var tlsCfg *tls.Config
		if certFile != "" && keyFile != "" {
			tlsCfg, err = mcpquic.ServerTLSConfig(certFile, keyFile)
		} else {
			tlsCfg, err = mcpquic.SelfSignedTLSConfig()
		}
		if err != nil {
			logger.Error("MCP QUIC TLS", "error", err)
		} else {
			ql, qErr := mcpquic.NewListener(quicAddr, tlsCfg, mcpSrv, logger)
			if qErr != nil {
				logger.Error("MCP QUIC listener", "error", qErr)
			} else {
				go func() {
					logger.Info("MCP QUIC starting", "addr", quicAddr)
					if sErr := ql.Serve(ctx); sErr != nil && ctx.Err() == nil {
						logger.Error("MCP QUIC", "error", sErr)
					}
				}()
			}
		}
	}

	k.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           k.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// resolveConfig layers flags and environment over the YAML file: flags win,
// then env, then the file.
func resolveConfig(opts options) (*lexkeeper.Config, error) {
	cfg := &lexkeeper.Config{}
	if opts.configPath != "" {
		loaded, err := lexkeeper.LoadConfigFile(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SOURCE_BASE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if opts.baseURL != "" {
		cfg.Source.BaseURL = opts.baseURL
	}

	if cfg.Source.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "usage: lexkeeper -config <file> | -source <url> [-db <path>] [-sync-once] [-search <query>] [-stats]")
		os.Exit(1)
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
