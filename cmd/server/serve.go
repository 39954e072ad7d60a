package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	appserver "github.com/sifan077/PowerTrack/internal/app/server"
	"github.com/sifan077/PowerTrack/internal/http/middleware"
	infraPostgres "github.com/sifan077/PowerTrack/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracking API together with the event consumers and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := connectAll(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := infraPostgres.AutoMigrate(ctx, rt.gorm, &model.Campaign{}, &model.Affiliate{}, &model.Commission{}); err != nil {
			return eris.Wrap(err, "run database migrations")
		}
		if err := repository.NewConversionRepository(rt.pool).EnsureSchema(ctx); err != nil {
			return eris.Wrap(err, "ensure conversions schema")
		}

		svc := buildServices(rt)
		server := appserver.New(appserver.Dependencies{
			Logger:         log,
			Redis:          rt.redis,
			RateLimit:      middleware.DefaultRateLimitConfig(),
			Clicks:         svc.clicks,
			Conversions:    svc.conversions,
			Links:          svc.issuer,
			Fraud:          svc.detector,
			Metrics:        svc.aggregator,
			Commissions:    svc.commissions,
			Failures:       svc.failures,
			CookieSecret:   []byte(cfg.App.CookieSecret),
			CookieMaxAge:   cfg.Tracking.CookieMaxAge,
			SecureCookies:  cfg.App.SecureCookies,
			CORSOrigins:    cfg.App.CORSOrigins,
			ProxyHeader:    cfg.App.ProxyHeader,
			TrustedProxies: cfg.App.TrustedProxies,
		})
		promServer := infraPrometheus.NewServer(cfg.Prometheus)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info("Starting HTTP server", zap.String("addr", cfg.App.HTTPAddr))
			if err := server.Listen(cfg.App.HTTPAddr); err != nil {
				return eris.Wrap(err, "fiber server exited")
			}
			return nil
		})
		g.Go(func() error {
			log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "metrics server exited")
			}
			return nil
		})
		g.Go(func() error { return svc.consumer.Run(gctx) })
		g.Go(func() error { return svc.sweeper.Run(gctx) })
		g.Go(func() error { return svc.settlement.Run(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			log.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("Failed to shut down HTTP server", zap.Error(err))
			}
			if err := promServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("Failed to shut down Prometheus server", zap.Error(err))
			}
			return nil
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
