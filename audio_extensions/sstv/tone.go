package sstv

import (
	"iter"
	"math"
)

/*
 * Tone Synthesis
 *
 * A transmission is a sequence of constant-frequency tones rendered by a
 * phase-continuous oscillator. Tone boundaries are placed on the sample grid
 * by rounding the cumulative time, so sub-sample tone durations do not drift.
 *
 * Copyright (c) 2026, UberSDR project
 */

// Tone is a constant frequency held for Duration seconds
type Tone struct {
	Freq     float64
	Duration float64
}

// ToneSynthesizer renders tones to PCM samples
type ToneSynthesizer struct {
	sampleRate float64
	amplitude  float64 // peak value in sample units

	phase   float64
	elapsed float64 // tone time consumed, seconds
	emitted int64   // samples produced
}

// NewToneSynthesizer creates a synthesizer. amplitude is a fraction of full
// scale for the given bit depth (8 or 16).
func NewToneSynthesizer(sampleRate, bitDepth int, amplitude float64) *ToneSynthesizer {
	return &ToneSynthesizer{
		sampleRate: float64(sampleRate),
		amplitude:  amplitude * (fullScale(bitDepth) - 1),
	}
}

// Emitted returns the number of samples produced so far
func (s *ToneSynthesizer) Emitted() int64 {
	return s.emitted
}

// tone renders one tone, stopping early if yield returns false
func (s *ToneSynthesizer) tone(t Tone, yield func(int16) bool) bool {
	s.elapsed += t.Duration
	end := int64(math.Round(s.elapsed * s.sampleRate))
	step := 2 * math.Pi * t.Freq / s.sampleRate

	for s.emitted < end {
		v := int16(math.Round(s.amplitude * math.Sin(s.phase)))
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
		s.emitted++
		if !yield(v) {
			return false
		}
	}
	return true
}

// Samples renders a tone sequence lazily. The phase carries over between
// tones and between successive calls.
func (s *ToneSynthesizer) Samples(tones iter.Seq[Tone]) iter.Seq[int16] {
	return func(yield func(int16) bool) {
		for t := range tones {
			if !s.tone(t, yield) {
				return
			}
		}
	}
}

// Append renders tones onto dst
func (s *ToneSynthesizer) Append(dst []int16, tones ...Tone) []int16 {
	for _, t := range tones {
		s.tone(t, func(v int16) bool {
			dst = append(dst, v)
			return true
		})
	}
	return dst
}

// fullScale is the magnitude of the most negative sample for a bit depth
func fullScale(bitDepth int) float64 {
	if bitDepth == 8 {
		return 128
	}
	return 32768
}
