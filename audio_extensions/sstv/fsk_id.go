package sstv

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

/*
 * FSK ID
 *
 * FSK ID Format:
 * - 6-bit bytes, LSB first
 * - 45.45 baud (22 ms/bit)
 * - 1900 Hz = 1, 2100 Hz = 0
 * - Text starts with 0x20 0x2A and ends with 0x01
 * - Add 0x20 to get ASCII
 *
 * Copyright (c) 2026, UberSDR project
 */

const (
	fskBitTime     = 22e-3
	fskFreqOne     = 1900.0
	fskFreqZero    = 2100.0
	fskCharBase    = 0x20
	fskMinValue    = 0x0d // anything lower ends the text
	fskTerminator  = 0x01
	fskMaxChars    = 10
	fskSearchSteps = 200 // half-bit steps searched for the preamble
	fskToneShare   = 0.5 // minimum share of power in the FSK band
)

var fskPreamble = [2]uint8{0x20, 0x2a}

// fskTones returns the tone sequence for a callsign, or nil for none
func fskTones(callsign string) []Tone {
	if callsign == "" {
		return nil
	}
	values := append([]uint8{}, fskPreamble[:]...)
	for _, r := range strings.ToUpper(callsign) {
		values = append(values, uint8(r)-fskCharBase)
	}
	values = append(values, fskTerminator)

	tones := make([]Tone, 0, 6*len(values))
	for _, v := range values {
		for i := 0; i < 6; i++ {
			freq := fskFreqZero
			if v>>i&1 == 1 {
				freq = fskFreqOne
			}
			tones = append(tones, Tone{freq, fskBitTime})
		}
	}
	return tones
}

// FSKTime returns the duration of the FSK ID for a callsign
func FSKTime(callsign string) float64 {
	if callsign == "" {
		return 0
	}
	return float64(6*(len(callsign)+3)) * fskBitTime
}

// FSKDecoder decodes FSK callsign transmissions
type FSKDecoder struct {
	sampleRate float64
	shift      float64
	bitLen     int
	fftSize    int
	fft        *fourier.FFT
	hann       []float64
}

// NewFSKDecoder creates a decoder for a signal tuned shift Hz off
func NewFSKDecoder(sampleRate, shift float64) *FSKDecoder {
	bitLen := int(math.Round(sampleRate * fskBitTime))
	size := 1
	for size < bitLen {
		size <<= 1
	}
	hann := make([]float64, bitLen)
	for i := range hann {
		hann[i] = 1
	}
	return &FSKDecoder{
		sampleRate: sampleRate,
		shift:      shift,
		bitLen:     bitLen,
		fftSize:    size,
		fft:        fourier.NewFFT(size),
		hann:       window.Hann(hann),
	}
}

func (f *FSKDecoder) getBin(freq float64) int {
	return int(math.Round((freq + f.shift) / f.sampleRate * float64(f.fftSize)))
}

// bit decides the bit in the 22ms starting at pos. ok is false when the
// window holds no FSK tone.
func (f *FSKDecoder) bit(b *SlidingPCMBuffer, pos int) (bit uint8, ok bool) {
	in := make([]float64, f.fftSize)
	for i := 0; i < f.bitLen; i++ {
		in[i] = b.Sample(pos+i) * f.hann[i]
	}
	coeffs := f.fft.Coefficients(nil, in)

	loBin := f.getBin(fskFreqOne - 100)
	midBin := f.getBin((fskFreqOne + fskFreqZero) / 2)
	hiBin := f.getBin(fskFreqZero + 100)

	var loPow, hiPow, total float64
	for i, c := range coeffs {
		p := real(c)*real(c) + imag(c)*imag(c)
		total += p
		switch {
		case i >= loBin && i < midBin:
			loPow += p
		case i >= midBin && i <= hiBin:
			hiPow += p
		}
	}
	if total == 0 || (loPow+hiPow)/total < fskToneShare {
		return 0, false
	}
	if loPow > hiPow {
		return 1, true
	}
	return 0, true
}

// Decode searches for an FSK ID starting at sample from
func (f *FSKDecoder) Decode(b *SlidingPCMBuffer, from int) string {
	half := f.bitLen / 2
	var decisions []int8 // -1 where no tone was heard

	for step, pos := 0, from; step < fskSearchSteps && pos+f.bitLen <= b.End(); step, pos = step+1, pos+half {
		d := int8(-1)
		if bit, ok := f.bit(b, pos); ok {
			d = int8(bit)
		}
		decisions = append(decisions, d)

		// Preamble bits are the last 12 decisions one bit apart
		if len(decisions) < 23 {
			continue
		}
		var first, second uint8
		valid := true
		for i := 0; i < 12; i++ {
			bit := decisions[len(decisions)-23+2*i]
			if bit < 0 {
				valid = false
				break
			}
			if i < 6 {
				first |= uint8(bit) << i
			} else {
				second |= uint8(bit) << (i - 6)
			}
		}
		if valid && first == fskPreamble[0] && second == fskPreamble[1] {
			return f.readText(b, pos+f.bitLen)
		}
	}
	return ""
}

func (f *FSKDecoder) readText(b *SlidingPCMBuffer, pos int) string {
	var text []byte
	for len(text) < fskMaxChars {
		var v uint8
		for i := 0; i < 6; i++ {
			if pos+f.bitLen > b.End() {
				return string(text)
			}
			bit, ok := f.bit(b, pos)
			if !ok {
				return string(text)
			}
			v |= bit << i
			pos += f.bitLen
		}
		if v < fskMinValue {
			break
		}
		text = append(text, v+fskCharBase)
	}
	return string(text)
}
