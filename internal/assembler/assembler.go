// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package assembler implements ChunkStore assembly: fetching
// each of a session's chunks from the BlobStore, canonicalizing them
// to 16 kHz mono 16-bit PCM, and concatenating them in chunk_number
// order into one temporary WAV file.
package assembler

import (
	"context"
	"math"
	"os"

	"github.com/rapidaai/voicecapture/internal/blobstore"
	"github.com/rapidaai/voicecapture/internal/model"
	"github.com/rapidaai/voicecapture/internal/pipelineerr"
	"github.com/rapidaai/voicecapture/internal/wavutil"
)

// maxDurationDrift is the tolerance between the sum of declared chunk
// durations and the assembled audio's actual duration.
const maxDurationDrift = 0.05 // 50ms

// Result is the output of Assemble: a temporary WAV file and its
// measured duration.
type Result struct {
	Path     string
	Duration float64
}

// Assemble fetches chunks in chunk_number order, canonicalizes and
// concatenates them, and writes the result to a temp file. chunks
// must already be sorted by ChunkNumber and form a gapless prefix
// starting at 1 — Assemble checks that with ValidateChunkNumbering
// before fetching any bytes.
func Assemble(ctx context.Context, store blobstore.BlobStore, chunks []model.AudioChunk) (Result, error) {
	if err := ValidateChunkNumbering(chunks); err != nil {
		return Result{}, err
	}

	var samples []int
	declaredDuration := 0.0
	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return Result{}, pipelineerr.Wrap(pipelineerr.KindStorage, "assembly cancelled", ctx.Err())
		default:
		}

		raw, err := store.GetBytes(chunk.BlobPath)
		if err != nil {
			return Result{}, pipelineerr.Storage(err, "fetch chunk %d", chunk.ChunkNumber)
		}
		pcm, err := wavutil.DecodeCanonical(raw)
		if err != nil {
			return Result{}, pipelineerr.Format(err, "decode chunk %d", chunk.ChunkNumber)
		}
		samples = append(samples, pcm.Samples...)
		declaredDuration += chunk.DurationSeconds
	}

	actualDuration := float64(len(samples)) / float64(wavutil.TargetSampleRate)
	if math.Abs(actualDuration-declaredDuration) > maxDurationDrift {
		return Result{}, pipelineerr.Incomplete(
			"assembled duration %.3fs drifts from declared %.3fs by more than %.0fms",
			actualDuration, declaredDuration, maxDurationDrift*1000)
	}

	tmp, err := os.CreateTemp("", "voicecapture-assembled-*.wav")
	if err != nil {
		return Result{}, pipelineerr.Storage(err, "create temp assembly file")
	}
	defer tmp.Close()

	if _, err := tmp.Write(wavutil.Encode(samples)); err != nil {
		os.Remove(tmp.Name())
		return Result{}, pipelineerr.Storage(err, "write temp assembly file")
	}

	return Result{Path: tmp.Name(), Duration: actualDuration}, nil
}

// ValidateChunkNumbering enforces the non-empty, gapless-prefix
// invariant before any bytes are fetched.
func ValidateChunkNumbering(chunks []model.AudioChunk) error {
	if len(chunks) == 0 {
		return pipelineerr.Incomplete("session has no uploaded chunks")
	}
	for i, chunk := range chunks {
		want := i + 1
		if chunk.ChunkNumber != want {
			return pipelineerr.Incomplete("chunk numbering has a gap: expected chunk %d, found %d", want, chunk.ChunkNumber)
		}
	}
	return nil
}

// Cleanup removes the temporary assembled file. It is safe to call
// multiple times and on a zero Result.
func (r Result) Cleanup() {
	if r.Path != "" {
		os.Remove(r.Path)
	}
}
