// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package diarizer wraps sherpa-onnx's offline speaker diarization
// (pyannote segmentation + a speaker-embedding model, clustered with
// the library's fast-clustering backend) behind the Diarizer
// capability contract: one warm-up, many idempotent Diarize calls,
// each producing a deterministically ordered, overlap-flagged segment
// list.
package diarizer

import (
	"fmt"
	"os"
	"sort"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/rapidaai/voicecapture/internal/model"
	"github.com/rapidaai/voicecapture/internal/pipelineerr"
	"github.com/rapidaai/voicecapture/internal/wavutil"
)

// maxDiarizationSamples bounds a single native Process call to ~15s of
// audio at the canonical 16 kHz rate — past this the native ONNX call
// can hang on pathological input, so longer audio is split into
// overlapping windows and the per-window segments merged back together.
const maxDiarizationSamples = 240000

// diarizationOverlapSamples is the window overlap used when chunking,
// so a speaker turn that straddles a chunk boundary still merges into
// one segment instead of being cut in two.
const diarizationOverlapSamples = 16000

// Config holds the model paths and tunables the diarizer is built
// from. A missing ModelToken is a fatal startup error for this
// component.
type Config struct {
	SegmentationModelPath string
	EmbeddingModelPath    string
	ModelToken            string
	NumClusteringThreads  int
	// NumSpeakers, when > 0, fixes the cluster count; otherwise the
	// clustering threshold below drives automatic speaker count.
	NumSpeakers          int
	ClusterThreshold     float32
	OverlapToleranceSecs float64
}

// Diarizer is a process-wide ModelHandle: the native model is loaded
// exactly once, shared by every Diarize call, and inference is
// serialized because the underlying sherpa-onnx handle is not
// reentrant.
type Diarizer struct {
	cfg Config

	once    sync.Once
	loadErr error
	native  *sherpa.OfflineSpeakerDiarization

	mu sync.Mutex
}

// New returns a Diarizer that lazily loads its models on first use.
// Construction never touches the filesystem or GPU; call WarmUp to do
// that eagerly (e.g. at process startup) instead of paying the cost
// on the first request.
func New(cfg Config) *Diarizer {
	return &Diarizer{cfg: cfg}
}

// WarmUp triggers the one real model load. Safe to call concurrently
// and idempotent: only the first caller pays the load cost, everyone
// else blocks on the same sync.Once and observes the same result.
func (d *Diarizer) WarmUp() error {
	d.once.Do(func() {
		if d.cfg.ModelToken == "" {
			d.loadErr = pipelineerr.Auth(nil, "diarization model token is not configured")
			return
		}
		config := sherpa.OfflineSpeakerDiarizationConfig{
			Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
				Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
					Model: d.cfg.SegmentationModelPath,
				},
				NumThreads: d.cfg.NumClusteringThreads,
			},
			Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
				Model:      d.cfg.EmbeddingModelPath,
				NumThreads: d.cfg.NumClusteringThreads,
			},
			Clustering: sherpa.FastClusteringConfig{
				NumClusters: d.cfg.NumSpeakers,
				Threshold:   d.cfg.ClusterThreshold,
			},
		}
		sd := sherpa.NewOfflineSpeakerDiarization(&config)
		if sd == nil {
			d.loadErr = pipelineerr.Diarization(nil, "failed to load speaker diarization models")
			return
		}
		d.native = sd
	})
	return d.loadErr
}

// Diarize runs diarization on a 16 kHz mono WAV file and returns its
// segments ordered deterministically: start_time ascending, ties
// broken by end_time ascending then label lexicographically.
func (d *Diarizer) Diarize(wavPath string) ([]model.SpeakerSegment, error) {
	if err := d.WarmUp(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, pipelineerr.Diarization(err, "read assembled audio %s", wavPath)
	}
	pcm, err := wavutil.DecodeCanonical(data)
	if err != nil {
		return nil, pipelineerr.Format(err, "decode assembled audio for diarization")
	}

	samples := make([]float32, len(pcm.Samples))
	for i, s := range pcm.Samples {
		samples[i] = float32(s) / 32768.0
	}

	if !d.mu.TryLock() {
		return nil, pipelineerr.Diarization(nil, "diarizer is busy")
	}
	defer d.mu.Unlock()

	var segments []model.SpeakerSegment
	if len(samples) > maxDiarizationSamples {
		segments, err = d.diarizeInChunks(samples)
	} else {
		segments, err = d.diarizeSingle(samples)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(segments, func(i, j int) bool {
		if segments[i].StartTime != segments[j].StartTime {
			return segments[i].StartTime < segments[j].StartTime
		}
		if segments[i].EndTime != segments[j].EndTime {
			return segments[i].EndTime < segments[j].EndTime
		}
		return segments[i].SpeakerLabel < segments[j].SpeakerLabel
	})

	flagOverlaps(segments, d.cfg.OverlapToleranceSecs)
	return segments, nil
}

// diarizeSingle runs one native Process call over samples already
// known to be within maxDiarizationSamples. Caller holds d.mu.
func (d *Diarizer) diarizeSingle(samples []float32) ([]model.SpeakerSegment, error) {
	result := d.native.Process(samples)
	if result == nil {
		return nil, pipelineerr.Diarization(nil, "diarization returned no result")
	}

	n := result.NumSegments()
	segments := make([]model.SpeakerSegment, 0, n)
	for i := 0; i < n; i++ {
		seg := result.GetSegment(i)
		segments = append(segments, model.SpeakerSegment{
			SpeakerLabel: fmt.Sprintf("S%d", seg.Speaker),
			StartTime:    seg.Start,
			EndTime:      seg.End,
		})
	}
	return segments, nil
}

// diarizeInChunks splits samples into overlapping maxDiarizationSamples
// windows, diarizes each independently, offsets their timestamps back
// into the full recording's timeline, and merges the results. Caller
// holds d.mu.
func (d *Diarizer) diarizeInChunks(samples []float32) ([]model.SpeakerSegment, error) {
	const sampleRate = wavutil.TargetSampleRate

	var all []model.SpeakerSegment
	offset := 0
	for offset < len(samples) {
		end := offset + maxDiarizationSamples
		if end > len(samples) {
			end = len(samples)
		}
		chunkOffsetSec := float64(offset) / float64(sampleRate)

		chunkSegments, err := d.diarizeSingle(samples[offset:end])
		if err != nil {
			return nil, err
		}
		for _, seg := range chunkSegments {
			seg.StartTime += chunkOffsetSec
			seg.EndTime += chunkOffsetSec
			all = append(all, seg)
		}

		next := end - diarizationOverlapSamples
		if next <= offset {
			next = end
		}
		if len(samples)-next < sampleRate {
			break
		}
		offset = next
	}

	return mergeOverlappingSegments(all), nil
}

// mergeOverlappingSegments combines same-speaker segments produced
// from adjacent windows that overlap or nearly touch (within 0.5s),
// following the reference chunked-diarization merge step.
func mergeOverlappingSegments(segments []model.SpeakerSegment) []model.SpeakerSegment {
	if len(segments) <= 1 {
		return segments
	}

	sorted := append([]model.SpeakerSegment(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTime < sorted[j].StartTime })

	merged := []model.SpeakerSegment{sorted[0]}
	for _, seg := range sorted[1:] {
		last := &merged[len(merged)-1]
		if seg.SpeakerLabel == last.SpeakerLabel && seg.StartTime <= last.EndTime+0.5 {
			if seg.EndTime > last.EndTime {
				last.EndTime = seg.EndTime
			}
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

// flagOverlaps sets OverlapFlag on any segment whose interval
// intersects another's by more than tolerance seconds. O(n^2) but n is
// the per-session segment count, typically tens not thousands.
func flagOverlaps(segments []model.SpeakerSegment, tolerance float64) {
	for i := range segments {
		for j := range segments {
			if i == j {
				continue
			}
			overlap := intersection(segments[i], segments[j])
			if overlap > tolerance {
				segments[i].OverlapFlag = true
				break
			}
		}
	}
}

func intersection(a, b model.SpeakerSegment) float64 {
	start := a.StartTime
	if b.StartTime > start {
		start = b.StartTime
	}
	end := a.EndTime
	if b.EndTime < end {
		end = b.EndTime
	}
	if end <= start {
		return 0
	}
	return end - start
}
