// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package cache implements the TranscriptionCache: a per-session
// chunk_number -> transcription mapping with upsert semantics, backed
// by a Redis hash so that a chunk uploaded twice — or retried after a
// background transcription failure — can never produce two rows.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/voicecapture/internal/pipelineerr"
)

// ChunkTranscription is one row of the TranscriptionCache. Either
// CorrectedText is non-empty or Error is non-empty, never neither and
// never (meaningfully) both.
type ChunkTranscription struct {
	ChunkNumber     int            `json:"chunkNumber"`
	RawText         string         `json:"rawText,omitempty"`
	CorrectedText   string         `json:"correctedText,omitempty"`
	WordCounts      map[string]int `json:"wordCounts,omitempty"`
	DurationSeconds float64        `json:"durationSeconds"`
	TranscribedAt   time.Time      `json:"transcribedAt,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func (c ChunkTranscription) IsError() bool { return c.Error != "" }

// TranscriptionCache is the per-session chunk-transcription store.
type TranscriptionCache interface {
	// Upsert writes or replaces the row for (sessionID, row.ChunkNumber).
	Upsert(ctx context.Context, sessionID string, row ChunkTranscription) error
	// Get returns the row for one chunk, and false if it is absent.
	Get(ctx context.Context, sessionID string, chunkNumber int) (ChunkTranscription, bool, error)
	// List returns every cached row for the session, in no particular order.
	List(ctx context.Context, sessionID string) ([]ChunkTranscription, error)
}

// RedisCache stores each session as a hash keyed "cache:{session_id}"
// with one field per chunk number, JSON-encoded.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache builds a RedisCache. ttl, when non-zero, is applied to
// the session hash on every write so abandoned sessions expire.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func hashKey(sessionID string) string {
	return fmt.Sprintf("cache:%s", sessionID)
}

func fieldKey(chunkNumber int) string {
	return strconv.Itoa(chunkNumber)
}

func (r *RedisCache) Upsert(ctx context.Context, sessionID string, row ChunkTranscription) error {
	data, err := json.Marshal(row)
	if err != nil {
		return pipelineerr.Cache(err, "marshal chunk %d transcription", row.ChunkNumber)
	}
	key := hashKey(sessionID)
	if err := r.client.HSet(ctx, key, fieldKey(row.ChunkNumber), data).Err(); err != nil {
		return pipelineerr.Cache(err, "upsert chunk %d for session %s", row.ChunkNumber, sessionID)
	}
	if r.ttl > 0 {
		r.client.Expire(ctx, key, r.ttl)
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, sessionID string, chunkNumber int) (ChunkTranscription, bool, error) {
	raw, err := r.client.HGet(ctx, hashKey(sessionID), fieldKey(chunkNumber)).Result()
	if err == redis.Nil {
		return ChunkTranscription{}, false, nil
	}
	if err != nil {
		return ChunkTranscription{}, false, pipelineerr.Cache(err, "get chunk %d for session %s", chunkNumber, sessionID)
	}
	var row ChunkTranscription
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return ChunkTranscription{}, false, pipelineerr.Cache(err, "unmarshal chunk %d for session %s", chunkNumber, sessionID)
	}
	return row, true, nil
}

func (r *RedisCache) List(ctx context.Context, sessionID string) ([]ChunkTranscription, error) {
	all, err := r.client.HGetAll(ctx, hashKey(sessionID)).Result()
	if err != nil {
		return nil, pipelineerr.Cache(err, "list chunks for session %s", sessionID)
	}
	rows := make([]ChunkTranscription, 0, len(all))
	for _, raw := range all {
		var row ChunkTranscription
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, pipelineerr.Cache(err, "unmarshal cached row for session %s", sessionID)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
