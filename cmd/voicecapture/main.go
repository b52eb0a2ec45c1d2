// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command voicecapture runs the group-recording processing pipeline:
// "process" drives one session through the Processor synchronously;
// "serve" exposes a health endpoint for the worker deployment.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rapidaai/voicecapture/internal/background"
	"github.com/rapidaai/voicecapture/internal/blobstore"
	"github.com/rapidaai/voicecapture/internal/cache"
	"github.com/rapidaai/voicecapture/internal/commons"
	"github.com/rapidaai/voicecapture/internal/config"
	"github.com/rapidaai/voicecapture/internal/corrections"
	"github.com/rapidaai/voicecapture/internal/diarizer"
	"github.com/rapidaai/voicecapture/internal/model"
	"github.com/rapidaai/voicecapture/internal/processor"
	"github.com/rapidaai/voicecapture/internal/repository"
	"github.com/rapidaai/voicecapture/internal/transcriber"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: voicecapture <process|serve> [args...]")
		os.Exit(2)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := commons.NewApplicationLogger(commons.Name("voicecapture"), commons.Path(cfg.LogPath), commons.Level(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	app, err := wire(cfg, logger)
	if err != nil {
		logger.Fatalf("wiring failed: %v", err)
	}

	switch os.Args[1] {
	case "process":
		if len(os.Args) < 3 {
			logger.Fatalf("usage: voicecapture process <session-id>")
		}
		runProcess(app, os.Args[2])
	case "serve":
		runServe(app, cfg)
	default:
		logger.Fatalf("unknown subcommand %q", os.Args[1])
	}
}

// application holds every wired dependency needed by either
// subcommand, built once at startup and owned by the process rather
// than kept as package-level globals.
type application struct {
	cfg         *config.Config
	logger      commons.Logger
	repo        repository.Repository
	blobStore   blobstore.BlobStore
	diarizer    *diarizer.Diarizer
	transcriber *transcriber.Transcriber
	corrector   *corrections.Corrector
	background  *background.BackgroundTranscriber
}

func wire(cfg *config.Config, logger commons.Logger) (*application, error) {
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&model.Session{}, &model.AudioChunk{}, &model.SpeakerResult{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	transcriptionCache := cache.NewRedisCache(redisClient, 24*time.Hour)

	store, err := blobstore.NewFilesystemStore(cfg.BlobRoot, "")
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	d := diarizer.New(diarizer.Config{
		SegmentationModelPath: cfg.DiarizationSegmentationModel,
		EmbeddingModelPath:    cfg.DiarizationEmbeddingModel,
		ModelToken:            cfg.ModelAccessToken,
		NumClusteringThreads:  cfg.NumClusteringThreads,
		OverlapToleranceSecs:  cfg.OverlapToleranceSeconds,
	})
	t := transcriber.New(transcriber.Config{
		ModelPath:  cfg.WhisperModelPath,
		ModelToken: cfg.ModelAccessToken,
		BeamSize:   5,
	})

	corrector := corrections.New(cfg.Corrections, cfg.TargetWords)

	// backgroundCapacity self-limits concurrent background transcriptions.
	// Unbounded by design, but a cap keeps a burst of uploads from starving CPU.
	const backgroundCapacity = 4
	bg := background.New(transcriptionCache, t, corrector, store, logger, backgroundCapacity)

	return &application{
		cfg:         cfg,
		logger:      logger,
		repo:        repository.New(db, transcriptionCache),
		blobStore:   store,
		diarizer:    d,
		transcriber: t,
		corrector:   corrector,
		background:  bg,
	}, nil
}

func (a *application) processor() *processor.Processor {
	return processor.New(a.repo, a.blobStore, a.diarizer, a.transcriber, a.corrector, a.logger, processor.Config{
		CacheCoverageThreshold:   a.cfg.SegmentCacheCoverageThreshold,
		MaxParallelLive:          int64(a.cfg.MaxParallelLiveTranscriptions),
		ExcludeOverlapFromCounts: a.cfg.ExcludeOverlapFromCounts,
		SegmentTimeout:           time.Duration(a.cfg.SegmentTimeoutSeconds * float64(time.Second)),
		SampleLengthSeconds:      a.cfg.SampleLengthSeconds,
	})
}

func runProcess(app *application, sessionID string) {
	if err := app.diarizer.WarmUp(); err != nil {
		app.logger.Fatalf("diarizer warm-up failed: %v", err)
	}
	if err := app.transcriber.WarmUp(); err != nil {
		app.logger.Fatalf("transcriber warm-up failed: %v", err)
	}

	ctx := context.Background()
	if err := app.processor().Run(ctx, sessionID); err != nil {
		app.logger.Fatalf("session %s failed: %v", sessionID, err)
	}
	app.logger.Infof("session %s processed successfully", sessionID)
}

func runServe(app *application, cfg *config.Config) {
	go func() {
		if err := app.diarizer.WarmUp(); err != nil {
			app.logger.Errorf("diarizer warm-up failed: %v", err)
		}
		if err := app.transcriber.WarmUp(); err != nil {
			app.logger.Errorf("transcriber warm-up failed: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	app.logger.Infof("listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil {
		app.logger.Fatalf("http server: %v", err)
	}
}
