// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package background implements the BackgroundTranscriber: a
// fire-and-forget task scheduled on every chunk upload that
// transcribes, corrects, counts, and upserts into the
// TranscriptionCache, independent of the ingest request's lifecycle.
package background

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rapidaai/voicecapture/internal/blobstore"
	"github.com/rapidaai/voicecapture/internal/cache"
	"github.com/rapidaai/voicecapture/internal/commons"
	"github.com/rapidaai/voicecapture/internal/corrections"
	"github.com/rapidaai/voicecapture/internal/model"
)

// Transcriber is the slice of the Transcriber capability this package
// needs, so tests can substitute a fake.
type Transcriber interface {
	TranscribeWAV(data []byte) (string, error)
}

// BackgroundTranscriber schedules one task per chunk upload onto a
// bounded, in-process pool. The pool has no queue depth limit of its
// own: Submit never blocks the ingest path, it only blocks the
// background goroutine on the semaphore once launched — an in-process
// task queue with bounded concurrency, not a distributed job system.
type BackgroundTranscriber struct {
	cache       cache.TranscriptionCache
	transcriber Transcriber
	corrector   *corrections.Corrector
	blobStore   blobstore.BlobStore
	logger      commons.Logger
	sem         *semaphore.Weighted
}

// New builds a BackgroundTranscriber. capacity is the self-imposed cap
// on concurrent background transcriptions, clamped to a minimum of 1.
func New(transcriptionCache cache.TranscriptionCache, t Transcriber, corrector *corrections.Corrector, store blobstore.BlobStore, logger commons.Logger, capacity int64) *BackgroundTranscriber {
	if capacity < 1 {
		capacity = 1
	}
	return &BackgroundTranscriber{
		cache:       transcriptionCache,
		transcriber: t,
		corrector:   corrector,
		blobStore:   store,
		logger:      logger,
		sem:         semaphore.NewWeighted(capacity),
	}
}

// Submit schedules background transcription for one chunk and returns
// immediately; the caller should return success to the uploader
// without waiting on this call.
func (b *BackgroundTranscriber) Submit(sessionID string, chunk model.AudioChunk) {
	go b.run(sessionID, chunk)
}

func (b *BackgroundTranscriber) run(sessionID string, chunk model.AudioChunk) {
	ctx := context.Background()
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer b.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			b.upsertError(ctx, sessionID, chunk, "background transcription panicked")
			b.logger.Errorf("background transcription panic for session=%s chunk=%d: %v", sessionID, chunk.ChunkNumber, r)
		}
	}()

	data, err := b.blobStore.GetBytes(chunk.BlobPath)
	if err != nil {
		b.upsertError(ctx, sessionID, chunk, err.Error())
		return
	}

	rawText, err := b.transcriber.TranscribeWAV(data)
	if err != nil {
		b.upsertError(ctx, sessionID, chunk, err.Error())
		return
	}

	correctedText := b.corrector.ApplyCorrections(rawText)
	wordCounts := b.corrector.CountTargetWords(correctedText)

	row := cache.ChunkTranscription{
		ChunkNumber:     chunk.ChunkNumber,
		RawText:         rawText,
		CorrectedText:   correctedText,
		WordCounts:      wordCounts,
		DurationSeconds: chunk.DurationSeconds,
		TranscribedAt:   time.Now(),
	}
	if err := b.cache.Upsert(ctx, sessionID, row); err != nil {
		b.logger.Errorf("cache upsert failed for session=%s chunk=%d: %v", sessionID, chunk.ChunkNumber, err)
	}
}

func (b *BackgroundTranscriber) upsertError(ctx context.Context, sessionID string, chunk model.AudioChunk, message string) {
	row := cache.ChunkTranscription{
		ChunkNumber:     chunk.ChunkNumber,
		DurationSeconds: chunk.DurationSeconds,
		Error:           message,
	}
	if err := b.cache.Upsert(ctx, sessionID, row); err != nil {
		b.logger.Errorf("cache error-upsert failed for session=%s chunk=%d: %v", sessionID, chunk.ChunkNumber, err)
	}
}
