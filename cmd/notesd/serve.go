package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/generation"
	httpapi "github.com/tbourn/go-notes-backend/internal/http"
	"github.com/tbourn/go-notes-backend/internal/identity"
	"github.com/tbourn/go-notes-backend/internal/observability"
	"github.com/tbourn/go-notes-backend/internal/repo"
	"github.com/tbourn/go-notes-backend/internal/services"
	"github.com/tbourn/go-notes-backend/internal/sysutil"
)

const (
	shutdownTimeout = 15 * time.Second
	purgeEvery      = 10 * time.Minute
	purgeBatch      = 500
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, lg := rt.cfg, rt.log
	version := sysutil.Version("")

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, observability.ResourceAttrs(cfg)...)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			lg.Error().Err(err).Msg("otel shutdown")
		}
	}()

	verifier, closeVerifier, err := identity.New(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	defer closeVerifier()

	gen, err := generation.New(ctx, cfg.Generation)
	if err != nil {
		return fmt.Errorf("generation: %w", err)
	}
	app := services.NewApp(rt.db, gen, cfg)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, rt.db, app, verifier, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return lg.WithContext(context.Background()) },
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg conc.WaitGroup
	defer bg.Wait()
	defer stopBackground()
	bg.Go(func() { purgeIdempotency(bgCtx, rt.db, lg) })

	errCh := make(chan error, 1)
	go func() {
		lg.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("db", cfg.DB.Driver).
			Str("auth", cfg.Auth.Mode).
			Str("generation", gen.Name()).
			Int("pid", os.Getpid()).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	lg.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		lg.Error().Err(err).Msg("http shutdown")
	}
	app.Generation.Wait()
	lg.Info().Msg("bye")
	return nil
}

// purgeIdempotency drops expired Idempotency-Key records until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB, lg zerolog.Logger) {
	t := time.NewTicker(purgeEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for {
				n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC(), purgeBatch)
				if err != nil {
					if ctx.Err() == nil {
						lg.Warn().Err(err).Msg("purge idempotency keys")
					}
					break
				}
				if n > 0 {
					lg.Debug().Int64("deleted", n).Msg("purged idempotency keys")
				}
				if n < purgeBatch {
					break
				}
			}
		}
	}
}
