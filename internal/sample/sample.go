// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package sample implements the SampleExtractor: picking a short
// representative clip per speaker from the assembled recording and
// writing it to the BlobStore.
package sample

import (
	"fmt"

	"github.com/rapidaai/voicecapture/internal/blobstore"
	"github.com/rapidaai/voicecapture/internal/model"
	"github.com/rapidaai/voicecapture/internal/pipelineerr"
	"github.com/rapidaai/voicecapture/internal/wavutil"
)

// Result is the outcome of extracting one speaker's sample.
type Result struct {
	SpeakerLabel string
	BlobPath     string
	StartTime    float64
}

// Extract picks a clip for each speaker label present in segments and
// writes it to the BlobStore at "sessions/{sessionID}/samples/{label}.wav".
// samples is the assembled recording's canonical 16 kHz mono PCM.
func Extract(store blobstore.BlobStore, sessionID string, samples []int, segmentsByLabel map[string][]model.SpeakerSegment, sampleLength float64) ([]Result, error) {
	results := make([]Result, 0, len(segmentsByLabel))
	for label, segments := range segmentsByLabel {
		if len(segments) == 0 {
			continue
		}
		chosen, offset := ChooseSegment(segments, sampleLength)
		clipLength := sampleLength
		if chosen.Duration() < clipLength {
			clipLength = chosen.Duration()
		}

		clip := wavutil.Slice(samples, offset, offset+clipLength)
		if len(clip) == 0 {
			return nil, pipelineerr.Storage(nil, "speaker %s sample window [%.2f,%.2f) is empty", label, offset, offset+clipLength)
		}

		path := fmt.Sprintf("sessions/%s/samples/%s.wav", sessionID, label)
		if _, err := store.PutBytes(path, wavutil.Encode(clip)); err != nil {
			return nil, pipelineerr.Storage(err, "write sample for speaker %s", label)
		}

		results = append(results, Result{SpeakerLabel: label, BlobPath: path, StartTime: offset})
	}
	return results, nil
}

// ChooseSegment implements the sample selection policy:
//  1. the longest non-overlapping segment whose length >= sampleLength, if any;
//  2. otherwise the longest segment overall;
//  3. the offset within the chosen segment is start_time + 0.5s if the
//     segment is long enough to still yield a full-length clip after
//     that offset, otherwise start_time.
func ChooseSegment(segments []model.SpeakerSegment, sampleLength float64) (model.SpeakerSegment, float64) {
	var best model.SpeakerSegment
	found := false
	for _, seg := range segments {
		if seg.OverlapFlag || seg.Duration() < sampleLength {
			continue
		}
		if !found || seg.Duration() > best.Duration() {
			best = seg
			found = true
		}
	}

	if !found {
		for _, seg := range segments {
			if !found || seg.Duration() > best.Duration() {
				best = seg
				found = true
			}
		}
	}

	offset := best.StartTime
	if best.Duration() >= sampleLength+0.5 {
		offset = best.StartTime + 0.5
	}
	return best, offset
}
