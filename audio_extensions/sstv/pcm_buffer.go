package sstv

/*
 * PCM Buffer Management
 *
 * Sliding buffer addressed by absolute sample number since the start of the
 * stream. Alongside the normalized samples it carries the per-sample traces
 * derived from them:
 * - freq: instantaneous frequency estimate, lags the samples by the
 *   demodulator's look-ahead
 * - sync: 1200 Hz sync score for the window ending at each sample
 *
 * Consumers discard what they no longer need; the buffer always keeps at
 * least minKeep trailing samples so running estimators can retire old values.
 *
 * Copyright (c) 2026, UberSDR project
 */

// SlidingPCMBuffer holds the trailing part of an audio stream
type SlidingPCMBuffer struct {
	base    int // absolute index of samples[0]
	samples []float64
	freq    []float64
	sync    []float64
	minKeep int
}

// NewSlidingPCMBuffer creates an empty buffer
func NewSlidingPCMBuffer(minKeep int) *SlidingPCMBuffer {
	return &SlidingPCMBuffer{minKeep: minKeep}
}

// Write appends samples normalized by full scale
func (b *SlidingPCMBuffer) Write(samples []int16, fullScale float64) {
	for _, s := range samples {
		b.samples = append(b.samples, float64(s)/fullScale)
	}
}

// Base is the absolute index of the oldest retained sample
func (b *SlidingPCMBuffer) Base() int { return b.base }

// End is the absolute index one past the newest sample
func (b *SlidingPCMBuffer) End() int { return b.base + len(b.samples) }

// FreqEnd is the absolute index one past the newest frequency estimate
func (b *SlidingPCMBuffer) FreqEnd() int { return b.base + len(b.freq) }

// SyncEnd is the absolute index one past the newest sync score
func (b *SlidingPCMBuffer) SyncEnd() int { return b.base + len(b.sync) }

// Sample returns the sample at absolute index i, or 0 outside the buffer
func (b *SlidingPCMBuffer) Sample(i int) float64 {
	i -= b.base
	if i < 0 || i >= len(b.samples) {
		return 0
	}
	return b.samples[i]
}

// Freq returns the frequency estimate at absolute index i, or 0 when unknown
func (b *SlidingPCMBuffer) Freq(i int) float64 {
	i -= b.base
	if i < 0 || i >= len(b.freq) {
		return 0
	}
	return b.freq[i]
}

// Sync returns the sync score at absolute index i, or 0 when unknown
func (b *SlidingPCMBuffer) Sync(i int) float64 {
	i -= b.base
	if i < 0 || i >= len(b.sync) {
		return 0
	}
	return b.sync[i]
}

// FreqRange returns the frequency trace over [from, to) clipped to what is
// available. The slice aliases the buffer.
func (b *SlidingPCMBuffer) FreqRange(from, to int) []float64 {
	from = max(from, b.base) - b.base
	to = min(to, b.FreqEnd()) - b.base
	if from >= to {
		return nil
	}
	return b.freq[from:to]
}

// Discard drops everything before absolute index before
func (b *SlidingPCMBuffer) Discard(before int) {
	cut := min(before, b.End()-b.minKeep) - b.base
	cut = min(cut, len(b.freq), len(b.sync))
	if cut <= 0 {
		return
	}
	b.samples = b.samples[cut:]
	b.freq = b.freq[cut:]
	b.sync = b.sync[cut:]
	b.base += cut
}
