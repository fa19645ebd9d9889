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
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-concierge/internal/logging"
)

const (
	// DefaultResampleQuality is passed to beep.Resample (valid range 1-64)
	DefaultResampleQuality = 4

	// wavPrecision is bytes per sample in the encoded output (16-bit PCM)
	wavPrecision = 2

	streamChunk = 1024
)

// Clip is preprocessed audio: mono, at the target rate, peak-normalized
type Clip struct {
	Samples        []float32
	SampleRate     int
	WAV            []byte
	SourceRate     int
	SourceChannels int
	Duration       time.Duration
	Silent         bool
}

// Preprocessor converts uploaded or raw audio into the canonical form sent to transcription.
// It holds no per-call state and is safe for concurrent use.
type Preprocessor struct {
	tempDir string
	quality int
}

// NewPreprocessor creates a preprocessor that spools work files under tempDir
// (the OS default when empty).
func NewPreprocessor(tempDir string) *Preprocessor {
	return &Preprocessor{
		tempDir: tempDir,
		quality: DefaultResampleQuality,
	}
}

// Preprocess decodes r as the given container format and converts it to a Clip at targetRate.
func (p *Preprocessor) Preprocess(ctx context.Context, r io.Reader, format Format, targetRate int) (*Clip, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("invalid target sample rate: %d", targetRate)
	}

	workDir, err := os.MkdirTemp(p.tempDir, "concierge-audio-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create audio work directory: %w", err)
	}
	defer p.cleanup(workDir)

	input, err := spool(ctx, workDir, r)
	if err != nil {
		return nil, err
	}

	var (
		streamer beep.StreamSeekCloser
		srcFmt   beep.Format
	)
	switch format {
	case FormatWAV:
		streamer, srcFmt, err = wav.Decode(input)
	case FormatMP3:
		streamer, srcFmt, err = mp3.Decode(input)
	default:
		_ = input.Close()
		return nil, &AudioFormatError{Format: format, Reason: "unsupported audio format"}
	}
	if err != nil {
		_ = input.Close()
		return nil, &AudioFormatError{Format: format, Reason: "failed to decode audio", Cause: err}
	}
	defer func() {
		// Closing the decoder closes the spooled file too
		_ = streamer.Close()
	}()

	if srcFmt.SampleRate <= 0 || srcFmt.NumChannels <= 0 {
		return nil, &AudioFormatError{
			Format: format,
			Reason: fmt.Sprintf("invalid source layout: rate=%d channels=%d", int(srcFmt.SampleRate), srcFmt.NumChannels),
		}
	}

	logging.LogAudioProcessing("decoded",
		zap.String("format", string(format)),
		zap.Int("source_rate", int(srcFmt.SampleRate)),
		zap.Int("source_channels", srcFmt.NumChannels),
		zap.Int("target_rate", targetRate),
	)

	return p.process(ctx, workDir, streamer, srcFmt, format, targetRate)
}

// ProcessSamples runs the same pipeline over raw interleaved PCM samples.
func (p *Preprocessor) ProcessSamples(ctx context.Context, samples []float32, srcRate, channels, targetRate int) (*Clip, error) {
	if srcRate <= 0 || channels <= 0 {
		return nil, &AudioFormatError{
			Format: "pcm",
			Reason: fmt.Sprintf("invalid source layout: rate=%d channels=%d", srcRate, channels),
		}
	}
	if targetRate <= 0 {
		return nil, fmt.Errorf("invalid target sample rate: %d", targetRate)
	}
	if len(samples)%channels != 0 {
		return nil, &AudioFormatError{
			Format: "pcm",
			Reason: fmt.Sprintf("%d samples is not a whole number of %d-channel frames", len(samples), channels),
		}
	}

	for i, v := range samples {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, &AudioFormatError{
				Format: "pcm",
				Reason: fmt.Sprintf("non-finite sample at index %d", i),
			}
		}
	}

	workDir, err := os.MkdirTemp(p.tempDir, "concierge-audio-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create audio work directory: %w", err)
	}
	defer p.cleanup(workDir)

	srcFmt := beep.Format{
		SampleRate:  beep.SampleRate(srcRate),
		NumChannels: channels,
		Precision:   wavPrecision,
	}

	return p.process(ctx, workDir, newMonoStreamer(downmix(samples, channels)), srcFmt, "pcm", targetRate)
}

func (p *Preprocessor) process(ctx context.Context, workDir string, src beep.Streamer, srcFmt beep.Format, format Format, targetRate int) (*Clip, error) {
	startTime := time.Now()

	var s beep.Streamer = src
	if int(srcFmt.SampleRate) != targetRate {
		s = beep.Resample(p.quality, srcFmt.SampleRate, beep.SampleRate(targetRate), src)
	}

	mono, err := drainMono(ctx, s)
	if err != nil {
		return nil, err
	}
	if err := src.Err(); err != nil {
		return nil, &AudioFormatError{Format: format, Reason: "failed while reading audio", Cause: err}
	}
	if len(mono) == 0 {
		return nil, &AudioFormatError{Format: format, Reason: "audio contains no samples"}
	}

	silent := !normalize(mono)
	if silent {
		logging.LogWarn("⚠️ Audio is silent, skipping normalization",
			zap.Int("samples", len(mono)),
		)
	}

	out := make([]float32, len(mono))
	for i, v := range mono {
		out[i] = float32(v)
	}

	wavData, err := encodeWAV(ctx, workDir, out, targetRate)
	if err != nil {
		return nil, err
	}

	clip := &Clip{
		Samples:        out,
		SampleRate:     targetRate,
		WAV:            wavData,
		SourceRate:     int(srcFmt.SampleRate),
		SourceChannels: srcFmt.NumChannels,
		Duration:       time.Duration(len(out)) * time.Second / time.Duration(targetRate),
		Silent:         silent,
	}

	logging.LogAudioProcessing("preprocessed",
		zap.String("format", string(format)),
		zap.Int("samples", len(out)),
		zap.Int("sample_rate", targetRate),
		zap.Duration("audio_duration", clip.Duration),
		zap.Duration("processing_time", time.Since(startTime)),
	)

	return clip, nil
}

func (p *Preprocessor) cleanup(workDir string) {
	if err := os.RemoveAll(workDir); err != nil {
		logging.LogWarn("Failed to remove audio work directory",
			zap.String("path", workDir),
			zap.Error(err),
		)
	}
}

// spool copies the upload into a seekable work file and rewinds it
func spool(ctx context.Context, workDir string, r io.Reader) (*os.File, error) {
	f, err := os.CreateTemp(workDir, "input-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	if _, err := io.Copy(f, &contextReader{ctx: ctx, r: r}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to spool audio: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to rewind spool file: %w", err)
	}

	return f, nil
}

// drainMono reads s to the end, averaging the two beep channels into one
func drainMono(ctx context.Context, s beep.Streamer) ([]float64, error) {
	var (
		mono []float64
		buf  = make([][2]float64, streamChunk)
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			mono = append(mono, (frame[0]+frame[1])/2)
		}
		if !ok {
			return mono, nil
		}
	}
}

// normalize scales samples in place so the absolute peak is 1.0. It reports false for silence.
func normalize(samples []float64) bool {
	var peak float64
	for _, v := range samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return false
	}
	if peak == 1 {
		return true
	}

	for i := range samples {
		samples[i] /= peak
	}
	return true
}

func downmix(samples []float32, channels int) []float64 {
	frames := len(samples) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(samples[i*channels+c])
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}

func encodeWAV(ctx context.Context, workDir string, samples []float32, sampleRate int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(workDir, "output.wav")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	mono := make([]float64, len(samples))
	for i, v := range samples {
		mono[i] = float64(v)
	}

	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: 1,
		Precision:   wavPrecision,
	}
	if err := wav.Encode(f, newMonoStreamer(mono), format); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to encode WAV: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close WAV file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file: %w", err)
	}
	return data, nil
}

// monoStreamer plays a mono buffer on both beep channels
type monoStreamer struct {
	samples []float64
	pos     int
}

func newMonoStreamer(samples []float64) *monoStreamer {
	return &monoStreamer{samples: samples}
}

func (m *monoStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if m.pos >= len(m.samples) {
		return 0, false
	}
	for n < len(samples) && m.pos < len(m.samples) {
		v := m.samples[m.pos]
		samples[n][0] = v
		samples[n][1] = v
		n++
		m.pos++
	}
	return n, true
}

func (m *monoStreamer) Err() error {
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
