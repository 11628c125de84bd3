package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/imagecleaner/internal/batch"
	cfgpkg "github.com/local/imagecleaner/internal/config"
	"github.com/local/imagecleaner/internal/document"
	"github.com/local/imagecleaner/internal/filetype"
	"github.com/local/imagecleaner/internal/imaging"
	logpkg "github.com/local/imagecleaner/internal/logger"
	"github.com/local/imagecleaner/internal/metrics"
	"github.com/local/imagecleaner/internal/pipeline"
	"github.com/local/imagecleaner/internal/queue"
	"github.com/local/imagecleaner/internal/service"
	"github.com/local/imagecleaner/internal/storage"
	"github.com/local/imagecleaner/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	if err := logpkg.Init(cfg.Logging, cfg.Axiom); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logpkg.Close()

	metrics.Init()

	opener := document.NewMutoolOpener()
	opener.Bin = cfg.Pipeline.MutoolBin
	if !opener.IsAvailable() {
		log.Fatal().Str("bin", opener.Bin).Msg("mutool is not available")
	}

	// Queue and status store: Redis when configured, in-process otherwise.
	var (
		q  queue.Queue
		st store.StatusStore
	)
	if cfg.Queue.RedisURL != "" {
		rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		rs, err := store.NewRedisStatus(cfg.Queue.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init redis status store")
		}
		q, st = rq, rs
	} else {
		log.Info().Msg("REDIS_URL not set, using in-process queue and status store")
		q, st = queue.NewMemoryQueue(), store.NewMemoryStatus()
	}
	defer q.Close()
	defer st.Close()

	controller := pipeline.New(opener, imaging.NewQRDetector(), pipeline.Config{
		PollInterval:    cfg.Pipeline.PollInterval,
		ClassifyWorkers: cfg.Pipeline.ClassifyWorkers,
	})
	controller.Start()
	defer controller.Stop()

	uploads, err := storage.NewUploader(context.Background())
	if err != nil {
		if storage.IsS3URL(cfg.OutputDir) {
			log.Fatal().Err(err).Msg("failed to init s3 client for output destination")
		}
		log.Warn().Err(err).Msg("s3 client unavailable, s3:// paths will be rejected")
		uploads = nil
	}

	saver := &batch.DocumentSaver{Opener: opener, Uploads: uploads}

	// Stage s3:// source documents into a temp directory for the run.
	fetch := func(ctx context.Context, path string) (string, func(), error) {
		if !storage.IsS3URL(path) {
			return path, nil, nil
		}
		if uploads == nil {
			return "", nil, fmt.Errorf("s3 source %s but no s3 client configured", path)
		}
		local, err := uploads.DownloadFile(ctx, path)
		if err != nil {
			return "", nil, err
		}
		return local, func() { os.RemoveAll(filepath.Dir(local)) }, nil
	}

	detector := filetype.New()
	validate := func(path string) error {
		if err := detector.ValidatePDF(path); err != nil {
			return err
		}
		if _, err := document.PageCountFile(path); err != nil {
			return err
		}
		return nil
	}

	svc := service.New(service.Deps{
		Cfg:      cfg,
		Queue:    q,
		Store:    st,
		Runner:   controller,
		Saver:    saver,
		Validate: validate,
		Fetch:    fetch,
	})
	svc.Start()
	defer svc.Stop()

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("shutdown complete")
}
