// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package model holds the persisted entities of the voice capture
// pipeline: Session, AudioChunk, SpeakerSegment and SpeakerResult.
// ChunkTranscription, the transcription cache row, lives in
// internal/cache instead — it is upsert-heavy and session-scoped, not
// a durable record.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session status values. Transitions are monotonic along this order
// except Failed, which is terminal from any non-terminal state.
const (
	StatusRecording        = "recording"
	StatusProcessing       = "processing"
	StatusReadyForClaiming = "ready_for_claiming"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
)

// Session is the top-level recording session. Progress is 0-100 and
// only ever 100 once Status is one of the three terminal/near-terminal
// values above.
type Session struct {
	ID              string     `json:"id" gorm:"column:id;type:varchar(36);primaryKey"`
	Status          string     `json:"status" gorm:"column:status;type:varchar(32);not null;default:recording"`
	Progress        int        `json:"progress" gorm:"column:progress;not null;default:0"`
	StartedAt       time.Time  `json:"startedAt" gorm:"column:started_at;not null;<-:create"`
	EndedAt         *time.Time `json:"endedAt,omitempty" gorm:"column:ended_at"`
	DurationSeconds *float64   `json:"durationSeconds,omitempty" gorm:"column:duration_seconds"`
	ErrorMessage    string     `json:"errorMessage,omitempty" gorm:"column:error_message;type:text"`
	CreatedAt       time.Time  `json:"createdAt" gorm:"column:created_at;<-:create"`
	UpdatedAt       time.Time  `json:"updatedAt" gorm:"column:updated_at"`
}

func (Session) TableName() string { return "sessions" }

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	if s.Status == "" {
		s.Status = StatusRecording
	}
	return nil
}

// AudioChunk is one uploaded fragment of the recording. ChunkNumber is
// 1-based and chunks must form a gapless prefix per session.
type AudioChunk struct {
	ID              uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	SessionID       string    `json:"sessionId" gorm:"column:session_id;type:varchar(36);not null;uniqueIndex:idx_session_chunk"`
	ChunkNumber     int       `json:"chunkNumber" gorm:"column:chunk_number;not null;uniqueIndex:idx_session_chunk"`
	BlobPath        string    `json:"blobPath" gorm:"column:blob_path;type:text;not null;<-:create"`
	DurationSeconds float64   `json:"durationSeconds" gorm:"column:duration_seconds;not null;<-:create"`
	UploadedAt      time.Time `json:"uploadedAt" gorm:"column:uploaded_at;not null;<-:create"`
}

func (AudioChunk) TableName() string { return "audio_chunks" }

func (c *AudioChunk) BeforeCreate(tx *gorm.DB) error {
	if c.UploadedAt.IsZero() {
		c.UploadedAt = time.Now()
	}
	return nil
}

// SpeakerSegment is a diarized time interval attributed to one opaque
// speaker label. Produced by the Diarizer, consumed once by the
// Processor; never persisted on its own (SpeakerResult is the
// durable, aggregated record).
type SpeakerSegment struct {
	SpeakerLabel string
	StartTime    float64
	EndTime      float64
	OverlapFlag  bool
}

func (s SpeakerSegment) Duration() float64 { return s.EndTime - s.StartTime }

// SpeakerResult is the final, persisted per-speaker aggregate for a
// session. Written exactly once, at the end of a successful Processor
// run; WordCounts keys are a subset of the configured TargetWords.
type SpeakerResult struct {
	ID               uint64         `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	SessionID        string         `json:"sessionId" gorm:"column:session_id;type:varchar(36);not null;uniqueIndex:idx_session_speaker"`
	SpeakerLabel     string         `json:"speakerLabel" gorm:"column:speaker_label;type:varchar(64);not null;uniqueIndex:idx_session_speaker"`
	SegmentCount     int            `json:"segmentCount" gorm:"column:segment_count;not null"`
	TotalDuration    float64        `json:"totalDuration" gorm:"column:total_duration;not null"`
	SampleBlobPath   string         `json:"sampleBlobPath" gorm:"column:sample_blob_path;type:text;not null"`
	SampleStartTime  float64        `json:"sampleStartTime" gorm:"column:sample_start_time;not null"`
	WordCounts       map[string]int `json:"wordCounts" gorm:"column:word_counts;serializer:json;not null"`
	CreatedAt        time.Time      `json:"createdAt" gorm:"column:created_at;<-:create"`
}

func (SpeakerResult) TableName() string { return "speaker_results" }
