// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package wavutil holds the WAV decode/encode/resample helpers shared
// by chunk assembly and speaker-sample extraction. All audio in this
// system is canonicalized to 16 kHz mono 16-bit PCM; this package is
// where that canonicalization happens.
package wavutil

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	resampler "github.com/tphakala/go-audio-resampler"
)

// TargetSampleRate is the canonical sample rate for every WAV this
// system produces or consumes downstream of assembly.
const TargetSampleRate = 16000

// PCM is a decoded, canonicalized mono 16-bit PCM buffer.
type PCM struct {
	Samples    []int
	SampleRate int
}

// Duration returns the clip length in seconds.
func (p PCM) Duration() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// Decode reads a WAV container (any sample rate, mono or stereo,
// 16-bit PCM) and returns its full-buffer decode with no resampling
// applied yet.
func Decode(data []byte) (PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, fmt.Errorf("wavutil: not a valid WAV container")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("wavutil: decode PCM buffer: %w", err)
	}
	return fromIntBuffer(buf), nil
}

func fromIntBuffer(buf *audio.IntBuffer) PCM {
	channels := buf.Format.NumChannels
	if channels <= 1 {
		return PCM{Samples: append([]int(nil), buf.Data...), SampleRate: buf.Format.SampleRate}
	}
	mono := make([]int, len(buf.Data)/channels)
	for i := range mono {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += buf.Data[i*channels+c]
		}
		mono[i] = sum / channels
	}
	return PCM{Samples: mono, SampleRate: buf.Format.SampleRate}
}

// Canonicalize down-mixes to mono (already done by Decode) and
// resamples to TargetSampleRate if needed.
func Canonicalize(p PCM) (PCM, error) {
	if p.SampleRate == TargetSampleRate {
		return p, nil
	}
	resampled, err := resampler.Resample(p.Samples, p.SampleRate, TargetSampleRate)
	if err != nil {
		return PCM{}, fmt.Errorf("wavutil: resample %d -> %d Hz: %w", p.SampleRate, TargetSampleRate, err)
	}
	return PCM{Samples: resampled, SampleRate: TargetSampleRate}, nil
}

// DecodeCanonical decodes and canonicalizes in one step — the common
// case for every chunk the assembler reads.
func DecodeCanonical(data []byte) (PCM, error) {
	raw, err := Decode(data)
	if err != nil {
		return PCM{}, err
	}
	return Canonicalize(raw)
}

// Encode writes samples as a 16 kHz mono 16-bit PCM little-endian WAV
// container, in the manual RIFF-header style used across the audio
// recorder: a minimal encoder with no dependency on the decode path.
func Encode(samples []int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
		byteRate      = TargetSampleRate * numChannels * bitsPerSample / 8
		blockAlign    = numChannels * bitsPerSample / 8
	)
	dataSize := len(samples) * 2
	buf := &bytes.Buffer{}

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16)) // PCM fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM format tag
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(TargetSampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, int16(s))
	}
	return buf.Bytes()
}

// Slice extracts the samples covering [startSeconds, endSeconds) from
// a canonical 16 kHz buffer, clamped to the buffer's bounds.
func Slice(samples []int, startSeconds, endSeconds float64) []int {
	start := int(startSeconds * TargetSampleRate)
	end := int(endSeconds * TargetSampleRate)
	if start < 0 {
		start = 0
	}
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return nil
	}
	return samples[start:end]
}
