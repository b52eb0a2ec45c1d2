// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package processor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rapidaai/voicecapture/internal/cache"
	"github.com/rapidaai/voicecapture/internal/commons"
	"github.com/rapidaai/voicecapture/internal/corrections"
	"github.com/rapidaai/voicecapture/internal/model"
	"github.com/rapidaai/voicecapture/internal/wavutil"
)

var targetWords = []string{"walao", "cheebai", "lanjiao", "lah", "lor", "sia", "meh", "can", "paiseh", "shiok", "sian"}

func newTestCorrector() *corrections.Corrector {
	return corrections.New(map[string]string{"wa lao": "walao", "pai seh": "paiseh", "cheap buy": "cheebai"}, targetWords)
}

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

type fakeBlobStore struct{ blobs map[string][]byte }

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{blobs: make(map[string][]byte)} }

func (f *fakeBlobStore) GetBytes(path string) ([]byte, error) {
	data, ok := f.blobs[path]
	if !ok {
		return nil, errors.New("blob not found: " + path)
	}
	return data, nil
}

func (f *fakeBlobStore) PutBytes(path string, data []byte) (string, error) {
	f.blobs[path] = data
	return path, nil
}

func (f *fakeBlobStore) PublicURL(path string) string { return path }

type fakeDiarizer struct {
	segments []model.SpeakerSegment
	err      error
}

func (f *fakeDiarizer) Diarize(wavPath string) ([]model.SpeakerSegment, error) {
	return f.segments, f.err
}

type fakeTranscriber struct {
	calls int32
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(samples []int) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.text, f.err
}

func (f *fakeTranscriber) callCount() int32 { return atomic.LoadInt32(&f.calls) }

type fakeRepository struct {
	chunks       []model.AudioChunk
	cachedRows   []cache.ChunkTranscription
	savedResults []model.SpeakerResult
	statuses     []string
	progresses   []int
}

func (r *fakeRepository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return &model.Session{ID: id, Status: model.StatusProcessing}, nil
}

func (r *fakeRepository) SetSessionStatus(ctx context.Context, id, status string, progress *int, errMsg string) error {
	r.statuses = append(r.statuses, status)
	if progress != nil {
		r.progresses = append(r.progresses, *progress)
	} else {
		r.progresses = append(r.progresses, -1)
	}
	return nil
}

func (r *fakeRepository) BeginProcessing(ctx context.Context, id string) (bool, error) {
	return true, nil
}

func (r *fakeRepository) ListChunks(ctx context.Context, sessionID string) ([]model.AudioChunk, error) {
	return r.chunks, nil
}

func (r *fakeRepository) UpsertChunkTranscription(ctx context.Context, sessionID string, row cache.ChunkTranscription) error {
	r.cachedRows = append(r.cachedRows, row)
	return nil
}

func (r *fakeRepository) ListChunkTranscriptions(ctx context.Context, sessionID string) ([]cache.ChunkTranscription, error) {
	return r.cachedRows, nil
}

func (r *fakeRepository) SaveSpeakerResults(ctx context.Context, sessionID string, results []model.SpeakerResult) error {
	r.savedResults = results
	return nil
}

func silentWAV(seconds float64) []byte {
	return wavutil.Encode(make([]int, int(seconds*wavutil.TargetSampleRate)))
}

func chunkOfDuration(n int, seconds float64, store *fakeBlobStore) model.AudioChunk {
	path := fmt.Sprintf("chunk-%d", n)
	store.blobs[path] = silentWAV(seconds)
	return model.AudioChunk{ChunkNumber: n, BlobPath: path, DurationSeconds: seconds}
}

func TestProcessor_Scenario1_SingleSpeakerCacheHit(t *testing.T) {
	store := newFakeBlobStore()
	repo := &fakeRepository{
		chunks: []model.AudioChunk{
			chunkOfDuration(1, 30, store),
			chunkOfDuration(2, 30, store),
		},
		cachedRows: []cache.ChunkTranscription{
			{ChunkNumber: 1, CorrectedText: "wah this food shiok lah", DurationSeconds: 30},
			{ChunkNumber: 2, CorrectedText: "paiseh lah", DurationSeconds: 30},
		},
	}
	diarizer := &fakeDiarizer{segments: []model.SpeakerSegment{{SpeakerLabel: "S0", StartTime: 0, EndTime: 60}}}
	transcriber := &fakeTranscriber{}

	p := New(repo, store, diarizer, transcriber, newTestCorrector(), noopLogger{}, Config{})
	if err := p.Run(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if transcriber.callCount() != 0 {
		t.Fatalf("Transcriber called %d times, want 0 (cache hit)", transcriber.callCount())
	}
	if len(repo.savedResults) != 1 {
		t.Fatalf("len(savedResults) = %d, want 1", len(repo.savedResults))
	}
	res := repo.savedResults[0]
	if res.SegmentCount != 1 || res.TotalDuration != 60 {
		t.Fatalf("result = %+v, want segment_count=1 total_duration=60", res)
	}
	want := map[string]int{"shiok": 1, "lah": 2, "paiseh": 1}
	if len(res.WordCounts) != len(want) {
		t.Fatalf("WordCounts = %v, want %v", res.WordCounts, want)
	}
	for k, v := range want {
		if res.WordCounts[k] != v {
			t.Errorf("WordCounts[%q] = %d, want %d", k, res.WordCounts[k], v)
		}
	}
}

func TestProcessor_Scenario3_CacheMissLiveFallback(t *testing.T) {
	store := newFakeBlobStore()
	repo := &fakeRepository{
		chunks: []model.AudioChunk{chunkOfDuration(1, 30, store)},
		cachedRows: []cache.ChunkTranscription{
			{ChunkNumber: 1, Error: "timeout", DurationSeconds: 30},
		},
	}
	diarizer := &fakeDiarizer{segments: []model.SpeakerSegment{{SpeakerLabel: "S0", StartTime: 0, EndTime: 30}}}
	transcriber := &fakeTranscriber{text: "can lah"}

	p := New(repo, store, diarizer, transcriber, newTestCorrector(), noopLogger{}, Config{})
	if err := p.Run(context.Background(), "sess-3"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if transcriber.callCount() != 1 {
		t.Fatalf("Transcriber called %d times, want exactly 1", transcriber.callCount())
	}
	if len(repo.savedResults) != 1 {
		t.Fatalf("len(savedResults) = %d, want 1", len(repo.savedResults))
	}
	if repo.savedResults[0].WordCounts["can"] != 1 || repo.savedResults[0].WordCounts["lah"] != 1 {
		t.Fatalf("WordCounts = %v, want can=1 lah=1", repo.savedResults[0].WordCounts)
	}
}

func TestProcessor_Scenario5_OverlapExcludedFromCounts(t *testing.T) {
	store := newFakeBlobStore()
	repo := &fakeRepository{
		chunks: []model.AudioChunk{chunkOfDuration(1, 30, store)},
		cachedRows: []cache.ChunkTranscription{
			{ChunkNumber: 1, CorrectedText: "lah can", DurationSeconds: 30},
		},
	}
	diarizer := &fakeDiarizer{segments: []model.SpeakerSegment{
		{SpeakerLabel: "S0", StartTime: 0, EndTime: 15, OverlapFlag: true},
		{SpeakerLabel: "S1", StartTime: 14.5, EndTime: 30, OverlapFlag: true},
	}}
	transcriber := &fakeTranscriber{}

	p := New(repo, store, diarizer, transcriber, newTestCorrector(), noopLogger{}, Config{ExcludeOverlapFromCounts: true})
	if err := p.Run(context.Background(), "sess-5"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(repo.savedResults) != 2 {
		t.Fatalf("len(savedResults) = %d, want 2", len(repo.savedResults))
	}
	for _, res := range repo.savedResults {
		if len(res.WordCounts) != 0 {
			t.Errorf("speaker %s WordCounts = %v, want empty (overlap excluded)", res.SpeakerLabel, res.WordCounts)
		}
		if res.SegmentCount != 1 {
			t.Errorf("speaker %s SegmentCount = %d, want 1 (still counted)", res.SpeakerLabel, res.SegmentCount)
		}
	}
}

func TestProcessor_Scenario6_MissingChunkFailsSession(t *testing.T) {
	store := newFakeBlobStore()
	repo := &fakeRepository{
		chunks: []model.AudioChunk{
			chunkOfDuration(1, 30, store),
			chunkOfDuration(2, 30, store),
			chunkOfDuration(4, 30, store),
		},
	}
	diarizer := &fakeDiarizer{}
	transcriber := &fakeTranscriber{}

	p := New(repo, store, diarizer, transcriber, newTestCorrector(), noopLogger{}, Config{})
	err := p.Run(context.Background(), "sess-6")
	if err == nil {
		t.Fatal("Run() error = nil, want IncompleteSessionError for missing chunk")
	}
	if len(repo.savedResults) != 0 {
		t.Fatalf("savedResults should be empty on failure, got %v", repo.savedResults)
	}
	if len(repo.statuses) == 0 || repo.statuses[len(repo.statuses)-1] != model.StatusFailed {
		t.Fatalf("last status = %v, want failed", repo.statuses)
	}
	if len(repo.progresses) == 0 || repo.progresses[len(repo.progresses)-1] != 100 {
		t.Fatalf("last progress = %v, want 100 (progress=100 iff status is terminal)", repo.progresses)
	}
}

func TestProcessor_MaxParallelLiveIsHonored(t *testing.T) {
	store := newFakeBlobStore()
	chunks := []model.AudioChunk{chunkOfDuration(1, 120, store)}
	repo := &fakeRepository{chunks: chunks}

	segments := make([]model.SpeakerSegment, 0, 10)
	for i := 0; i < 10; i++ {
		segments = append(segments, model.SpeakerSegment{
			SpeakerLabel: "S0",
			StartTime:    float64(i) * 10,
			EndTime:      float64(i)*10 + 9,
		})
	}
	diarizer := &fakeDiarizer{segments: segments}

	var current, maxSeen int32
	blocking := &blockingTranscriber{
		onStart: func() {
			n := atomic.AddInt32(&current, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
		},
		onEnd: func() { atomic.AddInt32(&current, -1) },
		delay: 20 * time.Millisecond,
	}

	p := New(repo, store, diarizer, blocking, newTestCorrector(), noopLogger{}, Config{MaxParallelLive: 3})
	if err := p.Run(context.Background(), "sess-7"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if atomic.LoadInt32(&maxSeen) > 3 {
		t.Fatalf("observed %d concurrent Transcriber calls, want <= 3", maxSeen)
	}
}

type blockingTranscriber struct {
	onStart func()
	onEnd   func()
	delay   time.Duration
}

func (b *blockingTranscriber) Transcribe(samples []int) (string, error) {
	b.onStart()
	defer b.onEnd()
	time.Sleep(b.delay)
	return "lah", nil
}
