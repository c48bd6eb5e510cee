package sstv

import "math"

/*
 * Frequency Demodulation
 *
 * Per-sample instantaneous frequency from the lag-k autocorrelation of the
 * real signal. For x[m] = A*sin(w*m + p):
 *
 *   sum x[m]*(x[m-k] + x[m+k]) = 2*cos(k*w) * sum x[m]^2
 *
 * The sums run over a moving window of 2*half+1 samples, giving a trace that
 * is exact for a pure tone. Its support is kept inside one pixel with a
 * sample to spare at each end, so a small error in the located sync does
 * not mix neighbouring tones into a pixel. A resonator bank or a short-time
 * spectrum needs several cycles of a tone to resolve it, far longer than
 * the 0.275ms of a luma pixel, while this estimate settles in one pixel.
 *
 * Copyright (c) 2026, UberSDR project
 */

const (
	lagReferenceRate = 15200.0 // sample rate per unit of lag
	resumInterval    = 4096
	minDemodEnergy   = 1e-7
)

// FrequencyDemodulator turns PCM into a frequency trace
type FrequencyDemodulator struct {
	sampleRate float64
	lag        int
	half       int

	num, den float64
	next     int // absolute index of the next estimate
}

// NewFrequencyDemodulator sizes the estimator so its support spans at most
// one pixel of the given duration
func NewFrequencyDemodulator(sampleRate, pixelTime float64) *FrequencyDemodulator {
	lag := max(1, int(math.Round(sampleRate/lagReferenceRate)))
	pixel := sampleRate * pixelTime
	half := max(1, int(math.Floor((pixel-1)/2))-lag-1)
	return &FrequencyDemodulator{
		sampleRate: sampleRate,
		lag:        lag,
		half:       half,
	}
}

// Delay is the number of samples an estimate looks ahead
func (d *FrequencyDemodulator) Delay() int {
	return d.half + d.lag
}

func (d *FrequencyDemodulator) product(b *SlidingPCMBuffer, m int) (p, q float64) {
	x := b.Sample(m)
	return x * (b.Sample(m-d.lag) + b.Sample(m+d.lag)), x * x
}

// Advance extends b's frequency trace as far as the samples allow. With
// flush, samples past the end of the stream are taken as silence.
func (d *FrequencyDemodulator) Advance(b *SlidingPCMBuffer, flush bool) {
	limit := b.End() - d.Delay()
	if flush {
		limit = b.End()
	}
	for n := d.next; n < limit; n++ {
		if n%resumInterval == 0 {
			d.num, d.den = 0, 0
			for m := n - d.half; m <= n+d.half; m++ {
				p, q := d.product(b, m)
				d.num += p
				d.den += q
			}
		} else {
			p, q := d.product(b, n+d.half)
			d.num += p
			d.den += q
			p, q = d.product(b, n-d.half-1)
			d.num -= p
			d.den -= q
		}
		b.freq = append(b.freq, d.estimate())
		d.next = n + 1
	}
}

func (d *FrequencyDemodulator) estimate() float64 {
	if d.den < minDemodEnergy {
		return 0
	}
	c := d.num / (2 * d.den)
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c) / float64(d.lag) * d.sampleRate / (2 * math.Pi)
}

// crossing finds the first point in [from, to] where the trace passes
// through thr in the given direction, interpolated between samples. Positions
// are in sample units with each sample at its own index.
func crossing(b *SlidingPCMBuffer, thr float64, from, to int, rising bool) (float64, bool) {
	for j := from + 1; j <= to; j++ {
		f0, f1 := b.Freq(j-1), b.Freq(j)
		if (rising && f0 < thr && f1 >= thr) || (!rising && f0 > thr && f1 <= thr) {
			return float64(j-1) + (thr-f0)/(f1-f0), true
		}
	}
	return 0, false
}

// edgeSpan bounds how far a tone boundary may lie from where the trace
// crosses between the two tones
func edgeSpan(delay int) int {
	return 2*delay + 4
}
