package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/pdftools/internal/api"
	"github.com/local/pdftools/internal/artifact"
	cfgpkg "github.com/local/pdftools/internal/config"
	"github.com/local/pdftools/internal/convert"
	logpkg "github.com/local/pdftools/internal/logger"
	"github.com/local/pdftools/internal/metrics"
	"github.com/local/pdftools/internal/pdfops"
	"github.com/local/pdftools/internal/statuscheck"
	"github.com/local/pdftools/internal/storage"
	"github.com/local/pdftools/internal/store"
	"github.com/local/pdftools/internal/web"
)

func newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service and the artifact sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgpkg.FromEnv()
			if port != "" {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func runServe(ctx context.Context, cfg cfgpkg.Config) error {
	if err := initLogging(cfg); err != nil {
		return err
	}
	defer logpkg.Close()
	metrics.Init()

	st, err := artifact.NewFSStore(cfg.Storage.UploadDir)
	if err != nil {
		return err
	}
	if err := st.EnsureRoot(); err != nil {
		return err
	}

	renderer, err := pdfops.NewRenderer(cfg.Convert.RasterBackend, cfg.Convert.MutoolPath)
	if err != nil {
		return err
	}
	if err := renderer.Available(); err != nil {
		log.Warn().Err(err).Str("backend", renderer.Name()).Msg("rasterizer unavailable; compress and pdf-to-jpg will fail")
	}

	var (
		recorder convert.Recorder = store.Nop{}
		records  api.RecordGetter
		pinger   statuscheck.RedisPinger
	)
	if cfg.Redis.URL != "" {
		rr, err := store.NewRedisRecords(cfg.Redis.URL, cfg.Storage.SweepMaxAge)
		if err != nil {
			log.Warn().Err(err).Msg("conversion records disabled")
		} else {
			defer rr.Close()
			recorder, records, pinger = rr, rr, rr
		}
	}

	var (
		archiver convert.Archiver
		bucket   statuscheck.BucketChecker
	)
	if cfg.Archive.Enabled() {
		a, err := storage.NewS3Archiver(ctx, storage.Options{
			Bucket:       cfg.Archive.Bucket,
			Prefix:       cfg.Archive.Prefix,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			log.Warn().Err(err).Msg("artifact archival disabled")
		} else {
			archiver = storage.NewBreakerArchiver(a, 3, 30*time.Second, 5*time.Minute)
			bucket = a
		}
	}

	svc := convert.New(convert.Options{
		Store:         st,
		Renderer:      renderer,
		Recorder:      recorder,
		Archiver:      archiver,
		MaxConcurrent: cfg.Convert.MaxConcurrent,
		RasterDPI:     cfg.Convert.RasterDPI,
		JPEGQuality:   cfg.Convert.JPEGQuality,
		MinDPI:        cfg.Convert.MinDPI,
		MaxDPI:        cfg.Convert.MaxDPI,
	})

	pages, err := web.New(cfg.Server.StaticDir, web.WithQualityRange(svc.DPIRange()))
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	server := api.New(api.Options{
		Converter: svc,
		Records:   records,
		Health: statuscheck.New(statuscheck.Options{
			StoreRoot: st.Root(),
			Redis:     pinger,
			Bucket:    bucket,
			Renderer:  renderer,
		}),
		Pages:          pages,
		Metrics:        metrics.Handler(),
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	sweeper := artifact.NewSweeper(st, cfg.Storage.SweepMaxAge, cfg.Storage.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
	return nil
}
