// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package processor implements the Processor orchestration:
// assemble -> diarize -> per-segment transcription (cache-first,
// parallel fallback) -> aggregation -> sample extraction ->
// persistence, with weighted progress reporting and a single failure
// funnel.
package processor

import (
	"context"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voicecapture/internal/assembler"
	"github.com/rapidaai/voicecapture/internal/blobstore"
	"github.com/rapidaai/voicecapture/internal/cache"
	"github.com/rapidaai/voicecapture/internal/commons"
	"github.com/rapidaai/voicecapture/internal/corrections"
	"github.com/rapidaai/voicecapture/internal/model"
	"github.com/rapidaai/voicecapture/internal/pipelineerr"
	"github.com/rapidaai/voicecapture/internal/progress"
	"github.com/rapidaai/voicecapture/internal/repository"
	"github.com/rapidaai/voicecapture/internal/sample"
	"github.com/rapidaai/voicecapture/internal/wavutil"
)

// Diarizer is the slice of the diarization capability the Processor
// depends on.
type Diarizer interface {
	Diarize(wavPath string) ([]model.SpeakerSegment, error)
}

// Transcriber is the slice of the ASR capability the Processor's live
// fallback path depends on.
type Transcriber interface {
	Transcribe(samples []int) (string, error)
}

// Config is the subset of the typed application config the Processor
// reads, passed explicitly rather than read from ambient globals.
type Config struct {
	CacheCoverageThreshold float64
	MaxParallelLive        int64
	ExcludeOverlapFromCounts bool
	SegmentTimeout         time.Duration
	SampleLengthSeconds    float64
}

// Processor runs the end-to-end pipeline for one session.
type Processor struct {
	repo        repository.Repository
	blobStore   blobstore.BlobStore
	diarizer    Diarizer
	transcriber Transcriber
	corrector   *corrections.Corrector
	logger      commons.Logger
	cfg         Config
}

// New builds a Processor. All dependencies are passed explicitly;
// there is no hidden process-wide state.
func New(repo repository.Repository, store blobstore.BlobStore, d Diarizer, t Transcriber, corrector *corrections.Corrector, logger commons.Logger, cfg Config) *Processor {
	return &Processor{
		repo:        repo,
		blobStore:   store,
		diarizer:    d,
		transcriber: t,
		corrector:   corrector,
		logger:      logger,
		cfg:         cfg,
	}
}

// Run executes the pipeline for sessionID. Run itself performs the
// recording -> processing CAS so at most one run per session is ever
// active; a session that is not in recording state is skipped and Run
// returns nil.
func (p *Processor) Run(ctx context.Context, sessionID string) error {
	began, err := p.repo.BeginProcessing(ctx, sessionID)
	if err != nil {
		return pipelineerr.Repository(err, "begin processing session %s", sessionID)
	}
	if !began {
		p.logger.Infof("session %s is already processing or not in recording state, skipping", sessionID)
		return nil
	}

	reporter := progress.New(p.repo, sessionID)

	result, runErr := p.run(ctx, sessionID, reporter)
	if runErr != nil {
		p.logger.Errorf("session %s failed: %v", sessionID, runErr)
		if failErr := reporter.Fail(ctx, runErr); failErr != nil {
			p.logger.Errorf("failed to record failure for session %s: %v", sessionID, failErr)
		}
		return runErr
	}

	if err := p.repo.SaveSpeakerResults(ctx, sessionID, result); err != nil {
		wrapped := pipelineerr.Repository(err, "save speaker results for session %s", sessionID)
		if failErr := reporter.Fail(ctx, wrapped); failErr != nil {
			p.logger.Errorf("failed to record failure for session %s: %v", sessionID, failErr)
		}
		return wrapped
	}

	return reporter.Complete(ctx)
}

func (p *Processor) run(ctx context.Context, sessionID string, reporter *progress.Reporter) ([]model.SpeakerResult, error) {
	chunks, err := p.repo.ListChunks(ctx, sessionID)
	if err != nil {
		return nil, pipelineerr.Repository(err, "list chunks for session %s", sessionID)
	}

	assembled, err := assembler.Assemble(ctx, p.blobStore, chunks)
	if err != nil {
		return nil, err
	}
	defer assembled.Cleanup()

	if err := reporter.Report(ctx, model.StatusProcessing, 10); err != nil {
		p.logger.Warnf("progress report failed for session %s: %v", sessionID, err)
	}

	segments, err := p.diarizer.Diarize(assembled.Path)
	if err != nil {
		return nil, err
	}
	if err := reporter.Report(ctx, model.StatusProcessing, 40); err != nil {
		p.logger.Warnf("progress report failed for session %s: %v", sessionID, err)
	}

	assembledData, err := os.ReadFile(assembled.Path)
	if err != nil {
		return nil, pipelineerr.Storage(err, "read assembled audio")
	}
	pcm, err := wavutil.DecodeCanonical(assembledData)
	if err != nil {
		return nil, pipelineerr.Format(err, "decode assembled audio for segment extraction")
	}

	cachedRows, err := p.repo.ListChunkTranscriptions(ctx, sessionID)
	if err != nil {
		p.logger.Warnf("cache read failed for session %s, falling back to live transcription for all segments: %v", sessionID, err)
		cachedRows = nil
	}
	windows := chunkWindows(chunks)

	counts := p.transcribeSegments(ctx, sessionID, segments, pcm.Samples, windows, cachedRows, reporter)

	aggregates := aggregate(segments, counts, p.cfg.ExcludeOverlapFromCounts)

	if err := reporter.Report(ctx, model.StatusProcessing, 80); err != nil {
		p.logger.Warnf("progress report failed for session %s: %v", sessionID, err)
	}

	segmentsByLabel := make(map[string][]model.SpeakerSegment)
	for _, seg := range segments {
		segmentsByLabel[seg.SpeakerLabel] = append(segmentsByLabel[seg.SpeakerLabel], seg)
	}
	sampleLength := p.cfg.SampleLengthSeconds
	if sampleLength <= 0 {
		sampleLength = 5.0
	}
	samples, err := sample.Extract(p.blobStore, sessionID, pcm.Samples, segmentsByLabel, sampleLength)
	if err != nil {
		return nil, err
	}
	sampleByLabel := make(map[string]sample.Result, len(samples))
	for _, s := range samples {
		sampleByLabel[s.SpeakerLabel] = s
	}

	if err := reporter.Report(ctx, model.StatusProcessing, 90); err != nil {
		p.logger.Warnf("progress report failed for session %s: %v", sessionID, err)
	}

	results := make([]model.SpeakerResult, 0, len(aggregates))
	for label, agg := range aggregates {
		s := sampleByLabel[label]
		results = append(results, model.SpeakerResult{
			SessionID:       sessionID,
			SpeakerLabel:    label,
			SegmentCount:    agg.segmentCount,
			TotalDuration:   agg.totalDuration,
			WordCounts:      agg.wordCounts,
			SampleBlobPath:  s.BlobPath,
			SampleStartTime: s.StartTime,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].SpeakerLabel < results[j].SpeakerLabel })

	return results, nil
}

type speakerAggregate struct {
	segmentCount  int
	totalDuration float64
	wordCounts    map[string]int
}

func aggregate(segments []model.SpeakerSegment, counts []map[string]int, excludeOverlap bool) map[string]*speakerAggregate {
	byLabel := make(map[string]*speakerAggregate)
	for i, seg := range segments {
		agg := byLabel[seg.SpeakerLabel]
		if agg == nil {
			agg = &speakerAggregate{wordCounts: make(map[string]int)}
			byLabel[seg.SpeakerLabel] = agg
		}
		agg.segmentCount++
		agg.totalDuration += seg.Duration()

		if excludeOverlap && seg.OverlapFlag {
			continue
		}
		for word, n := range counts[i] {
			agg.wordCounts[word] += n
		}
	}
	return byLabel
}

// chunkWindow is a chunk's [start, end) offset in assembled-audio time.
type chunkWindow struct {
	chunkNumber int
	start       float64
	end         float64
}

func chunkWindows(chunks []model.AudioChunk) []chunkWindow {
	windows := make([]chunkWindow, 0, len(chunks))
	offset := 0.0
	for _, c := range chunks {
		windows = append(windows, chunkWindow{chunkNumber: c.ChunkNumber, start: offset, end: offset + c.DurationSeconds})
		offset += c.DurationSeconds
	}
	return windows
}

// transcribeSegments resolves word counts for every segment, using
// the TranscriptionCache where coverage allows and falling back to
// live transcription (bounded to cfg.MaxParallelLive concurrent
// calls) otherwise.
func (p *Processor) transcribeSegments(ctx context.Context, sessionID string, segments []model.SpeakerSegment, samples []int, windows []chunkWindow, cachedRows []cache.ChunkTranscription, reporter *progress.Reporter) []map[string]int {
	cacheByChunk := make(map[int]cache.ChunkTranscription, len(cachedRows))
	for _, row := range cachedRows {
		cacheByChunk[row.ChunkNumber] = row
	}

	counts := make([]map[string]int, len(segments))
	threshold := p.cfg.CacheCoverageThreshold
	if threshold <= 0 {
		threshold = 0.80
	}

	maxLive := p.cfg.MaxParallelLive
	if maxLive < 1 {
		maxLive = 3
	}

	var g errgroup.Group
	g.SetLimit(int(maxLive))
	var completed int32
	var mu sync.Mutex
	total := len(segments)

	for i, seg := range segments {
		hit, text := coverage(seg, windows, cacheByChunk, threshold)
		if hit {
			counts[i] = p.corrector.Process(text)
			p.tickProgress(ctx, reporter, &completed, total)
			continue
		}

		i, seg := i, seg
		g.Go(func() error {
			clip := wavutil.Slice(samples, seg.StartTime, seg.EndTime)
			result := p.liveTranscribe(clip)

			mu.Lock()
			counts[i] = result
			mu.Unlock()
			p.tickProgress(ctx, reporter, &completed, total)
			return nil
		})
	}
	g.Wait()

	for i := range counts {
		if counts[i] == nil {
			counts[i] = map[string]int{}
		}
	}
	return counts
}

func (p *Processor) tickProgress(ctx context.Context, reporter *progress.Reporter, completed *int32, total int) {
	n := atomic.AddInt32(completed, 1)
	if total == 0 {
		return
	}
	pct := 40 + int(float64(n)/float64(total)*40.0)
	if err := reporter.Report(ctx, model.StatusProcessing, pct); err != nil {
		p.logger.Warnf("progress report failed: %v", err)
	}
}

// liveTranscribe runs the Transcriber on one segment's audio slice,
// bounded by the configured per-segment timeout. On error or timeout
// it returns an empty count map rather than failing the pipeline;
// the underlying TranscriptionError is recovered locally.
func (p *Processor) liveTranscribe(clip []int) map[string]int {
	timeout := p.cfg.SegmentTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := p.transcriber.Transcribe(clip)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			p.logger.Warnf("live transcription failed: %v", r.err)
			return map[string]int{}
		}
		return p.corrector.Process(r.text)
	case <-time.After(timeout):
		p.logger.Warnf("live transcription timed out after %s", timeout)
		return map[string]int{}
	}
}

// coverage implements the segment -> cache mapping rule: a hit
// requires the covering chunks to jointly account for >= threshold of
// the segment's duration, with every covering chunk carrying a
// non-error cache row.
func coverage(seg model.SpeakerSegment, windows []chunkWindow, cacheByChunk map[int]cache.ChunkTranscription, threshold float64) (bool, string) {
	segDuration := seg.EndTime - seg.StartTime
	if segDuration <= 0 {
		return false, ""
	}

	type covering struct {
		chunkNumber int
		overlap     float64
	}
	var covered []covering
	coveredDuration := 0.0
	for _, w := range windows {
		start := maxFloat(seg.StartTime, w.start)
		end := minFloat(seg.EndTime, w.end)
		if end <= start {
			continue
		}
		covered = append(covered, covering{chunkNumber: w.chunkNumber, overlap: end - start})
		coveredDuration += end - start
	}

	if coveredDuration/segDuration < threshold {
		return false, ""
	}

	sort.Slice(covered, func(i, j int) bool { return covered[i].chunkNumber < covered[j].chunkNumber })

	var text string
	for _, c := range covered {
		row, ok := cacheByChunk[c.chunkNumber]
		if !ok || row.IsError() {
			return false, ""
		}
		if text != "" {
			text += " "
		}
		text += row.CorrectedText
	}
	return true, text
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

