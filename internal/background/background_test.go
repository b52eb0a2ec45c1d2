// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package background

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rapidaai/voicecapture/internal/cache"
	"github.com/rapidaai/voicecapture/internal/commons"
	"github.com/rapidaai/voicecapture/internal/corrections"
	"github.com/rapidaai/voicecapture/internal/model"
)

type noopLogger struct{}

func (noopLogger) Debug(args ...interface{})                 {}
func (noopLogger) Debugf(format string, args ...interface{}) {}
func (noopLogger) Info(args ...interface{})                  {}
func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Warn(args ...interface{})                  {}
func (noopLogger) Warnf(format string, args ...interface{})  {}
func (noopLogger) Error(args ...interface{})                 {}
func (noopLogger) Errorf(format string, args ...interface{}) {}
func (noopLogger) Fatalf(format string, args ...interface{}) {}
func (noopLogger) Sync() error                                { return nil }
func (l noopLogger) With(args ...interface{}) commons.Logger  { return l }

type memCache struct {
	mu   sync.Mutex
	rows map[int]cache.ChunkTranscription
}

func newMemCache() *memCache { return &memCache{rows: make(map[int]cache.ChunkTranscription)} }

func (m *memCache) Upsert(ctx context.Context, sessionID string, row cache.ChunkTranscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.ChunkNumber] = row
	return nil
}

func (m *memCache) Get(ctx context.Context, sessionID string, chunkNumber int) (cache.ChunkTranscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[chunkNumber]
	return row, ok, nil
}

func (m *memCache) List(ctx context.Context, sessionID string) ([]cache.ChunkTranscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]cache.ChunkTranscription, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

type memBlobStore struct{ data []byte }

func (m *memBlobStore) GetBytes(path string) ([]byte, error) { return m.data, nil }
func (m *memBlobStore) PutBytes(path string, data []byte) (string, error) {
	return path, nil
}
func (m *memBlobStore) PublicURL(path string) string { return path }

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) TranscribeWAV(data []byte) (string, error) { return f.text, f.err }

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubmit_SuccessUpsertsCorrectedRow(t *testing.T) {
	c := newMemCache()
	corrector := corrections.New(map[string]string{"wa lao": "walao"}, []string{"walao", "lah"})
	bt := New(c, fakeTranscriber{text: "wa lao lah"}, corrector, &memBlobStore{}, noopLogger{}, 2)

	bt.Submit("sess-1", model.AudioChunk{ChunkNumber: 1, DurationSeconds: 30})

	waitFor(t, func() bool {
		row, ok, _ := c.Get(context.Background(), "sess-1", 1)
		return ok && row.CorrectedText == "walao lah"
	})

	row, _, _ := c.Get(context.Background(), "sess-1", 1)
	if row.Error != "" {
		t.Fatalf("row.Error = %q, want empty", row.Error)
	}
	if row.WordCounts["walao"] != 1 || row.WordCounts["lah"] != 1 {
		t.Fatalf("row.WordCounts = %v, want walao=1 lah=1", row.WordCounts)
	}
}

func TestSubmit_TranscriberErrorUpsertsErrorRow(t *testing.T) {
	c := newMemCache()
	corrector := corrections.New(nil, []string{"lah"})
	bt := New(c, fakeTranscriber{err: errors.New("timeout")}, corrector, &memBlobStore{}, noopLogger{}, 2)

	bt.Submit("sess-2", model.AudioChunk{ChunkNumber: 1, DurationSeconds: 30})

	waitFor(t, func() bool {
		row, ok, _ := c.Get(context.Background(), "sess-2", 1)
		return ok && row.Error != ""
	})

	row, _, _ := c.Get(context.Background(), "sess-2", 1)
	if row.Error != "timeout" {
		t.Fatalf("row.Error = %q, want %q", row.Error, "timeout")
	}
	if row.CorrectedText != "" {
		t.Fatalf("row.CorrectedText = %q, want empty on error", row.CorrectedText)
	}
}

func TestSubmit_UpsertIsKeyedByChunkNumber(t *testing.T) {
	c := newMemCache()
	corrector := corrections.New(nil, []string{"lah"})
	bt := New(c, fakeTranscriber{text: "lah"}, corrector, &memBlobStore{}, noopLogger{}, 1)

	bt.Submit("sess-3", model.AudioChunk{ChunkNumber: 1, DurationSeconds: 30})
	bt.Submit("sess-3", model.AudioChunk{ChunkNumber: 1, DurationSeconds: 30})

	waitFor(t, func() bool {
		rows, _ := c.List(context.Background(), "sess-3")
		return len(rows) == 1
	})
}
