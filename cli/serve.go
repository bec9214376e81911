package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/handler"
	"github.com/AnTengye/contractsign/service"
	"github.com/AnTengye/contractsign/verification"
)

func newServeCmd(opts *rootOpts) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signing and verification portal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

// newArchive returns the PDF archive, or nil when it is disabled or the
// bucket cannot be reached. Archiving never blocks verification.
func newArchive(ctx context.Context, cfg *config.ArchiveConfig) verification.Archive {
	if !cfg.Enabled {
		return nil
	}

	svc, err := service.NewArchiveService(cfg)
	if err != nil {
		slog.Warn("pdf archive disabled", "error", err)
		return nil
	}
	if err := svc.EnsureBucket(ctx); err != nil {
		slog.Warn("pdf archive disabled", "bucket", cfg.Bucket, "error", err)
		return nil
	}
	return svc
}

func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.Session.Secret == "" {
		// Sessions live in memory, so a per-process key loses nothing
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		cfg.Session.Secret = hex.EncodeToString(secret)
		slog.Info("session.secret not set, using a generated key")
	}

	cache := service.NewResultCache(&cfg.Cache)
	client := service.NewAPIClient(&cfg.API, cache)
	sessions := service.NewSessionStore(&cfg.Session)
	handoff := service.NewHandoffStore(cfg.Session.HandoffLimit)

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.RouterDeps{
		Config:     cfg,
		SigningAPI: client,
		VerifyAPI:  client,
		Archive:    newArchive(ctx, &cfg.Archive),
		Sessions:   sessions,
		Handoff:    handoff,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port, "api", cfg.API.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	sessions.CloseAll()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server exited gracefully")
	return nil
}
