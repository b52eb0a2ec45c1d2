// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wavutil

import (
	"testing"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWave(n int) []int {
	samples := make([]int, n)
	for i := range samples {
		samples[i] = (i % 200) - 100
	}
	return samples
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	original := sineWave(TargetSampleRate * 2)

	wav := Encode(original)
	decoded, err := Decode(wav)
	require.NoError(t, err)

	assert.Equal(t, TargetSampleRate, decoded.SampleRate)
	assert.Equal(t, original, decoded.Samples)
	assert.InDelta(t, 2.0, decoded.Duration(), 0.001)
}

func TestCanonicalize_AlreadyTargetRateIsNoop(t *testing.T) {
	p := PCM{Samples: sineWave(1000), SampleRate: TargetSampleRate}
	out, err := Canonicalize(p)
	require.NoError(t, err)
	assert.Equal(t, p.Samples, out.Samples)
}

func TestDecode_RejectsInvalidContainer(t *testing.T) {
	_, err := Decode([]byte("not a wav file"))
	assert.Error(t, err)
}

func TestSlice(t *testing.T) {
	samples := sineWave(TargetSampleRate * 4)

	mid := Slice(samples, 1, 2)
	assert.Len(t, mid, TargetSampleRate)
	assert.Equal(t, samples[TargetSampleRate:2*TargetSampleRate], mid)

	clamped := Slice(samples, -1, 100)
	assert.Equal(t, samples, clamped)

	assert.Nil(t, Slice(samples, 3, 1))
}

func TestFromIntBuffer_DownmixesStereo(t *testing.T) {
	buf := &audio.IntBuffer{
		Data:   []int{10, 20, 30, 40},
		Format: &audio.Format{NumChannels: 2, SampleRate: TargetSampleRate},
	}
	got := fromIntBuffer(buf)
	assert.Equal(t, []int{15, 35}, got.Samples)
}
