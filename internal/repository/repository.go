// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package repository implements the Repository contract the core is
// parameterized by: session lifecycle, chunk listing,
// chunk-transcription upsert/list, and the final speaker-result
// write. Session/AudioChunk/SpeakerResult are durable Postgres rows;
// ChunkTranscription is delegated to the TranscriptionCache (Redis)
// since it is upsert-heavy, session-scoped, and never queried once
// the session completes. The contract's method set is preserved so
// callers never see the split.
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/voicecapture/internal/cache"
	"github.com/rapidaai/voicecapture/internal/model"
	"github.com/rapidaai/voicecapture/internal/pipelineerr"
)

// Repository is the persistence contract consumed by the core.
type Repository interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
	// SetSessionStatus is idempotent and conditional on the session existing.
	SetSessionStatus(ctx context.Context, id, status string, progress *int, errMsg string) error
	// BeginProcessing performs the recording -> processing CAS transition,
	// guaranteeing at most one Processor run per session.
	BeginProcessing(ctx context.Context, id string) (bool, error)
	ListChunks(ctx context.Context, sessionID string) ([]model.AudioChunk, error)
	UpsertChunkTranscription(ctx context.Context, sessionID string, row cache.ChunkTranscription) error
	ListChunkTranscriptions(ctx context.Context, sessionID string) ([]cache.ChunkTranscription, error)
	// SaveSpeakerResults atomically replaces any prior results for the session.
	SaveSpeakerResults(ctx context.Context, sessionID string, results []model.SpeakerResult) error
}

// gormRepository is the Postgres-backed implementation, with
// ChunkTranscription delegated to a TranscriptionCache.
type gormRepository struct {
	db    *gorm.DB
	cache cache.TranscriptionCache
}

// New builds a Repository over db (Postgres in production, SQLite in
// tests) and the given TranscriptionCache.
func New(db *gorm.DB, transcriptionCache cache.TranscriptionCache) Repository {
	return &gormRepository{db: db, cache: transcriptionCache}
}

func (r *gormRepository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, pipelineerr.Repository(err, "get session %s", id)
	}
	return &s, nil
}

func (r *gormRepository) SetSessionStatus(ctx context.Context, id, status string, progress *int, errMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if progress != nil {
		updates["progress"] = *progress
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	res := r.db.WithContext(ctx).Model(&model.Session{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return pipelineerr.Repository(res.Error, "set status for session %s", id)
	}
	if res.RowsAffected == 0 {
		return pipelineerr.New(pipelineerr.KindRepository, "session "+id+" does not exist")
	}
	return nil
}

// BeginProcessing guarantees at most one Processor run per session_id,
// enforced by a conditional UPDATE rather than a SELECT-then-UPDATE
// race.
func (r *gormRepository) BeginProcessing(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND status = ?", id, model.StatusRecording).
		Updates(map[string]interface{}{
			"status":     model.StatusProcessing,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, pipelineerr.Repository(res.Error, "begin processing for session %s", id)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) ListChunks(ctx context.Context, sessionID string) ([]model.AudioChunk, error) {
	var chunks []model.AudioChunk
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("chunk_number ASC").
		Find(&chunks).Error; err != nil {
		return nil, pipelineerr.Repository(err, "list chunks for session %s", sessionID)
	}
	return chunks, nil
}

func (r *gormRepository) UpsertChunkTranscription(ctx context.Context, sessionID string, row cache.ChunkTranscription) error {
	if err := r.cache.Upsert(ctx, sessionID, row); err != nil {
		return pipelineerr.Repository(err, "upsert chunk transcription for session %s chunk %d", sessionID, row.ChunkNumber)
	}
	return nil
}

func (r *gormRepository) ListChunkTranscriptions(ctx context.Context, sessionID string) ([]cache.ChunkTranscription, error) {
	rows, err := r.cache.List(ctx, sessionID)
	if err != nil {
		return nil, pipelineerr.Repository(err, "list chunk transcriptions for session %s", sessionID)
	}
	return rows, nil
}

func (r *gormRepository) SaveSpeakerResults(ctx context.Context, sessionID string, results []model.SpeakerResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.SpeakerResult{}).Error; err != nil {
			return pipelineerr.Repository(err, "clear prior speaker results for session %s", sessionID)
		}
		if len(results) == 0 {
			return nil
		}
		for i := range results {
			results[i].SessionID = sessionID
		}
		if err := tx.Create(&results).Error; err != nil {
			return pipelineerr.Repository(err, "save speaker results for session %s", sessionID)
		}
		return nil
	})
}
