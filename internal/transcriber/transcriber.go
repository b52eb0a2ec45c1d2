// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package transcriber wraps whisper.cpp behind the Transcriber
// capability contract: a single model load, deterministic decoding,
// and thread-safe inference serialized through the native context's
// own mutex requirement.
package transcriber

import (
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go"

	"github.com/rapidaai/voicecapture/internal/pipelineerr"
	"github.com/rapidaai/voicecapture/internal/wavutil"
)

// Config holds the model path and decoding tunables.
type Config struct {
	ModelPath  string
	ModelToken string
	BeamSize   int
	Language   string
}

// Transcriber is a process-wide ModelHandle around one whisper.cpp
// model. Native whisper contexts are not safe for concurrent
// decoding, so every Transcribe call is serialized through mu; the
// MAX_PARALLEL_LIVE_TRANSCRIPTIONS errgroup limit upstream bounds how
// many goroutines queue on it at once.
type Transcriber struct {
	cfg Config

	once    sync.Once
	loadErr error
	model   whisper.Model

	mu sync.Mutex
}

// New returns a Transcriber that lazily loads its model on first use.
func New(cfg Config) *Transcriber {
	return &Transcriber{cfg: cfg}
}

// WarmUp triggers the one real model load, shared by all callers.
func (t *Transcriber) WarmUp() error {
	t.once.Do(func() {
		if t.cfg.ModelToken == "" {
			t.loadErr = pipelineerr.Auth(nil, "transcription model token is not configured")
			return
		}
		m, err := whisper.New(t.cfg.ModelPath)
		if err != nil {
			t.loadErr = pipelineerr.Transcription(err, "load whisper model %s", t.cfg.ModelPath)
			return
		}
		t.model = m
	})
	return t.loadErr
}

// Transcribe returns the raw (uncorrected) text for a canonical
// 16 kHz mono PCM sample slice. Decoding is deterministic:
// temperature 0, fixed beam size, no cross-segment conditioning.
func (t *Transcriber) Transcribe(samples []int) (string, error) {
	if err := t.WarmUp(); err != nil {
		return "", err
	}

	floatSamples := make([]float32, len(samples))
	for i, s := range samples {
		floatSamples[i] = float32(s) / 32768.0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, err := t.model.NewContext()
	if err != nil {
		return "", pipelineerr.Transcription(err, "create whisper context")
	}
	ctx.SetBeamSize(t.cfg.BeamSize)
	ctx.SetTemperature(0.0)
	ctx.SetMaxContext(-1)
	if t.cfg.Language != "" {
		_ = ctx.SetLanguage(t.cfg.Language)
	}

	if err := ctx.Process(floatSamples, nil, nil); err != nil {
		return "", pipelineerr.Transcription(err, "whisper decode")
	}

	var text string
	for {
		segment, err := ctx.NextSegment()
		if err != nil {
			break
		}
		if text != "" {
			text += " "
		}
		text += segment.Text
	}
	return text, nil
}

// TranscribeWAV reads a 16 kHz mono WAV file (or non-canonical audio,
// which is canonicalized first) and transcribes it. Used by the
// background transcriber for whole uploaded chunks; the Processor's
// per-segment slices go through Transcribe directly.
func (t *Transcriber) TranscribeWAV(data []byte) (string, error) {
	pcm, err := wavutil.DecodeCanonical(data)
	if err != nil {
		return "", pipelineerr.Format(err, "decode audio for transcription")
	}
	return t.Transcribe(pcm.Samples)
}
