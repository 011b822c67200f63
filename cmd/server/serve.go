package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/liar-game/internal/archive"
	"github.com/DoyleJ11/liar-game/internal/config"
	"github.com/DoyleJ11/liar-game/internal/game"
	"github.com/DoyleJ11/liar-game/internal/httpapi"
	"github.com/DoyleJ11/liar-game/internal/hub"
	"github.com/DoyleJ11/liar-game/internal/logging"
	"github.com/DoyleJ11/liar-game/internal/session"
)

const shutdownTimeout = 10 * time.Second

var (
	listenAddr string
	backendURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := session.NewClient(cfg.BackendURL,
		session.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		session.WithLogger(logger.With(zap.String("component", "session"))))

	opts := game.Options{
		Backend:        client,
		Logger:         logger,
		TurnDelay:      cfg.AITurnDelay,
		RequestTimeout: cfg.RequestTimeout,
	}

	srv := &httpapi.Server{
		Starter:        client,
		FixedKeyword:   cfg.FixedKeyword,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	}

	var games *archive.Archive
	if cfg.ArchiveDSN != "" {
		if games, err = archive.Open(cfg.ArchiveDSN, logger); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, games.Close()) }()
		opts.Recorder = games
		srv.Games = games
		logger.Info("game archive enabled")
	}

	h := hub.NewHub(ctx, opts)
	// Runs before the archive is closed and waits out pending game records.
	defer h.Shutdown()
	srv.Hub = h

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.SetupRoutes(srv),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("backend", cfg.BackendURL),
			zap.Duration("ai_turn_delay", cfg.AITurnDelay))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
