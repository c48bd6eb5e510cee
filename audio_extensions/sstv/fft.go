package sstv

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

/*
 * FFT Helper Functions
 * Using gonum's FFT and window implementations
 *
 * Copyright (c) 2026, UberSDR project
 */

// snrWindowTime is the minimum span analysed for the SNR estimate
const snrWindowTime = 40e-3

// estimateSNR estimates the signal-to-noise ratio around sample center.
// Video band power (1500-2300 Hz) is compared with the noise-only bands at
// 400-800 Hz and 2700-3400 Hz, scaled to the receiver bandwidth.
func estimateSNR(b *SlidingPCMBuffer, center int, sampleRate, shift float64) float64 {
	n := 1
	for float64(n) < snrWindowTime*sampleRate {
		n <<= 1
	}

	in := make([]float64, n)
	for i := range in {
		in[i] = b.Sample(center + i - n/2)
	}
	window.Hann(in)
	coeffs := fourier.NewFFT(n).Coefficients(nil, in)

	bin := func(freq float64) int {
		return int(math.Round((freq + shift) * float64(n) / sampleRate))
	}
	power := func(lo, hi float64) (float64, int) {
		var p float64
		first, last := bin(lo), min(bin(hi), len(coeffs)-1)
		for i := first; i <= last; i++ {
			p += real(coeffs[i])*real(coeffs[i]) + imag(coeffs[i])*imag(coeffs[i])
		}
		return p, max(0, last-first+1)
	}

	pVideoPlusNoise, videoBins := power(FreqBlack, FreqWhite)
	pLow, lowBins := power(400, 800)
	pHigh, highBins := power(2700, 3400)
	pNoiseOnly := pLow + pHigh
	noiseBins := lowBins + highBins
	receiverBins := bin(3400) - bin(400)
	if noiseBins == 0 {
		return 0
	}

	pNoise := pNoiseOnly * float64(receiverBins) / float64(noiseBins)
	pSignal := pVideoPlusNoise - pNoiseOnly*float64(videoBins)/float64(noiseBins)

	// lower bound -20 dB
	if pNoise <= 0 {
		return 60
	}
	ratio := pSignal / pNoise
	if ratio < 0.01 {
		return -20
	}
	return math.Min(60, 10*math.Log10(ratio))
}
