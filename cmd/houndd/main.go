// Command houndd is the Tracehound daemon. It loads a YAML configuration
// file, opens the audit chain, wires the core System, serves the HTTP
// intercept adapter, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adapterhttp "github.com/tracehound/tracehound/internal/adapter/http"
	"github.com/tracehound/tracehound/internal/audit"
	"github.com/tracehound/tracehound/internal/config"
	"github.com/tracehound/tracehound/internal/ipc"
	"github.com/tracehound/tracehound/tracehound"
)

func main() {
	configPath := flag.String("config", "/etc/tracehound/config.yaml", "path to the Tracehound YAML configuration file")
	listenAddr := flag.String("listen", "127.0.0.1:8443", "HTTP listen address for the intercept adapter")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "houndd: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("audit_chain_path", cfg.AuditChainPath),
		slog.Int("hound_pool_size", cfg.HoundPool.PoolSize),
	)

	chain, cerr := audit.OpenFileChain(cfg.AuditChainPath)
	if cerr != nil {
		logger.Error("failed to open audit chain", slog.Any("error", cerr))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	houndAdapter := ipc.NewAdapter(logger)
	sys, err := tracehound.New(ctx, cfg, chain, tracehound.WithLogger(logger), tracehound.WithHoundPool(houndAdapter))
	if err != nil {
		logger.Error("failed to wire tracehound system", slog.Any("error", err))
		os.Exit(1)
	}

	router := adapterhttp.NewRouter(sys.Agent, nil, sys.SecurityState)
	server := &http.Server{
		Addr:         *listenAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("houndd listening", slog.String("addr", *listenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", slog.Any("error", err))
	}
	if err := sys.Shutdown(); err != nil {
		logger.Warn("system shutdown error", slog.Any("error", err))
	}

	logger.Info("houndd exited cleanly")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
