/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// stereoStreamer feeds interleaved left/right test samples to beep
type stereoStreamer struct {
	left, right []float64
	pos         int
}

func (s *stereoStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.pos >= len(s.left) {
		return 0, false
	}
	for n < len(samples) && s.pos < len(s.left) {
		samples[n][0] = s.left[s.pos]
		samples[n][1] = s.right[s.pos]
		n++
		s.pos++
	}
	return n, true
}

func (s *stereoStreamer) Err() error { return nil }

func sine(freq float64, rate, frames int, amp float64) []float64 {
	out := make([]float64, frames)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func encodeTestWAV(t *testing.T, left, right []float64, rate, channels int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: channels, Precision: 2}
	require.NoError(t, wav.Encode(f, &stereoStreamer{left: left, right: right}, format))
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func peakOf(samples []float32) float64 {
	var peak float64
	for _, v := range samples {
		if a := math.Abs(float64(v)); a > peak {
			peak = a
		}
	}
	return peak
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary audio files must not outlive the operation")
}

func TestPreprocess_StereoWAVIsResampledAndNormalized(t *testing.T) {
	tempDir := t.TempDir()
	p := NewPreprocessor(tempDir)

	left := sine(440, 44100, 44100/2, 0.25)
	right := sine(220, 44100, 44100/2, 0.25)
	data := encodeTestWAV(t, left, right, 44100, 2)

	clip, err := p.Preprocess(context.Background(), bytes.NewReader(data), FormatWAV, 16000)
	require.NoError(t, err)

	assert.Equal(t, 16000, clip.SampleRate)
	assert.Equal(t, 44100, clip.SourceRate)
	assert.Equal(t, 2, clip.SourceChannels)
	assert.False(t, clip.Silent)
	assert.InDelta(t, 8000, len(clip.Samples), 80, "half a second at 16 kHz")
	assert.InDelta(t, 1.0, peakOf(clip.Samples), 1e-6)
	assert.True(t, bytes.HasPrefix(clip.WAV, []byte("RIFF")))

	assertEmptyDir(t, tempDir)
}

func TestPreprocess_Idempotent(t *testing.T) {
	p := NewPreprocessor(t.TempDir())

	rapid.Check(t, func(rt *rapid.T) {
		rate := rapid.SampledFrom([]int{8000, 16000, 22050}).Draw(rt, "rate")
		raw := rapid.SliceOfN(rapid.Float32Range(-1, 1), 1, 2048).Draw(rt, "samples")

		first, err := p.ProcessSamples(context.Background(), raw, rate, 1, rate)
		if err != nil {
			rt.Fatalf("first pass: %v", err)
		}

		second, err := p.ProcessSamples(context.Background(), first.Samples, rate, 1, rate)
		if err != nil {
			rt.Fatalf("second pass: %v", err)
		}

		if len(first.Samples) != len(second.Samples) {
			rt.Fatalf("length changed: %d -> %d", len(first.Samples), len(second.Samples))
		}
		for i := range first.Samples {
			if first.Samples[i] != second.Samples[i] {
				rt.Fatalf("sample %d changed: %v -> %v", i, first.Samples[i], second.Samples[i])
			}
		}
	})
}

func TestPreprocess_IdempotentThroughWAV(t *testing.T) {
	p := NewPreprocessor(t.TempDir())

	raw := make([]float32, 4000)
	for i, v := range sine(300, 16000, len(raw), 0.4) {
		raw[i] = float32(v)
	}

	first, err := p.ProcessSamples(context.Background(), raw, 16000, 1, 16000)
	require.NoError(t, err)

	second, err := p.Preprocess(context.Background(), bytes.NewReader(first.WAV), FormatWAV, 16000)
	require.NoError(t, err)

	require.Len(t, second.Samples, len(first.Samples))
	for i := range first.Samples {
		if math.Abs(float64(first.Samples[i]-second.Samples[i])) > 1e-3 {
			t.Fatalf("sample %d: %v vs %v", i, first.Samples[i], second.Samples[i])
		}
	}
}

func TestProcessSamples_Downmix(t *testing.T) {
	p := NewPreprocessor(t.TempDir())

	// Interleaved stereo where the channels cancel on the first frame
	clip, err := p.ProcessSamples(context.Background(), []float32{0.5, -0.5, 0.2, 0.2, -0.1, -0.3}, 16000, 2, 16000)
	require.NoError(t, err)

	require.Len(t, clip.Samples, 3)
	assert.InDelta(t, 0.0, clip.Samples[0], 1e-7)
	assert.InDelta(t, 1.0, clip.Samples[1], 1e-7)
	assert.InDelta(t, -1.0, clip.Samples[2], 1e-7)
}

func TestProcessSamples_SilenceStaysSilent(t *testing.T) {
	p := NewPreprocessor(t.TempDir())

	clip, err := p.ProcessSamples(context.Background(), make([]float32, 160), 16000, 1, 16000)
	require.NoError(t, err)

	assert.True(t, clip.Silent)
	for _, v := range clip.Samples {
		assert.Zero(t, v)
	}
}

func TestProcessSamples_InvalidInput(t *testing.T) {
	p := NewPreprocessor(t.TempDir())

	tests := []struct {
		name     string
		samples  []float32
		rate     int
		channels int
	}{
		{"Empty", nil, 16000, 1},
		{"Zero rate", []float32{0.1}, 0, 1},
		{"Zero channels", []float32{0.1}, 16000, 0},
		{"Partial frame", []float32{0.1, 0.2, 0.3}, 16000, 2},
		{"NaN sample", []float32{0.1, float32(math.NaN()), 0.3}, 16000, 1},
		{"Infinite sample", []float32{0.1, float32(math.Inf(1))}, 16000, 1},
		{"Negative infinite sample", []float32{float32(math.Inf(-1)), 0.2}, 16000, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ProcessSamples(context.Background(), tt.samples, tt.rate, tt.channels, 16000)
			var formatErr *AudioFormatError
			assert.True(t, errors.As(err, &formatErr), "got %v", err)
		})
	}
}

func TestPreprocess_UndecodableInputCleansUp(t *testing.T) {
	tempDir := t.TempDir()
	p := NewPreprocessor(tempDir)

	for _, format := range []Format{FormatWAV, FormatMP3} {
		t.Run(string(format), func(t *testing.T) {
			_, err := p.Preprocess(context.Background(), strings.NewReader("definitely not audio"), format, 16000)

			var formatErr *AudioFormatError
			require.True(t, errors.As(err, &formatErr), "got %v", err)
			assert.Equal(t, format, formatErr.Format)
			assertEmptyDir(t, tempDir)
		})
	}
}

func TestPreprocess_InvalidHeaderRate(t *testing.T) {
	tests := []struct {
		name string
		rate int32
	}{
		{"Zero rate", 0},
		{"Negative rate", -8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			p := NewPreprocessor(tempDir)

			tone := sine(440, 16000, 100, 0.5)
			data := encodeTestWAV(t, tone, tone, 16000, 1)
			// sample rate and byte rate fields of the canonical 44-byte header, mono 16-bit
			binary.LittleEndian.PutUint32(data[24:28], uint32(tt.rate))
			binary.LittleEndian.PutUint32(data[28:32], uint32(tt.rate*2))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			clip, err := p.Preprocess(ctx, bytes.NewReader(data), FormatWAV, 16000)
			assert.Nil(t, clip)

			var formatErr *AudioFormatError
			require.True(t, errors.As(err, &formatErr), "got %v", err)
			assert.Equal(t, FormatWAV, formatErr.Format)
			assert.Contains(t, formatErr.Reason, "invalid source layout")
			assertEmptyDir(t, tempDir)
		})
	}
}

func TestPreprocess_CancelledContextCleansUp(t *testing.T) {
	tempDir := t.TempDir()
	p := NewPreprocessor(tempDir)

	data := encodeTestWAV(t, sine(440, 16000, 1600, 0.5), sine(440, 16000, 1600, 0.5), 16000, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Preprocess(ctx, bytes.NewReader(data), FormatWAV, 16000)
	assert.ErrorIs(t, err, context.Canceled)
	assertEmptyDir(t, tempDir)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename    string
		contentType string
		want        Format
		wantErr     bool
	}{
		{"recording.wav", "", FormatWAV, false},
		{"RECORDING.WAV", "", FormatWAV, false},
		{"clip.mp3", "", FormatMP3, false},
		{"blob", "audio/mpeg", FormatMP3, false},
		{"blob", "audio/wav; codecs=1", FormatWAV, false},
		{"clip.ogg", "audio/ogg", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename+"|"+tt.contentType, func(t *testing.T) {
			got, err := DetectFormat(tt.filename, tt.contentType)
			if tt.wantErr {
				var formatErr *AudioFormatError
				assert.True(t, errors.As(err, &formatErr))
				return
			}
			require.NoError(t, err)
			if got != tt.want {
				t.Errorf("DetectFormat(%q, %q) = %q, want %q", tt.filename, tt.contentType, got, tt.want)
			}
		})
	}
}
