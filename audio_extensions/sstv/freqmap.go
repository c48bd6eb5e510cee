package sstv

import "math"

// Tone frequencies in Hz
const (
	FreqSync    = 1200.0
	FreqBlack   = 1500.0
	FreqLeader  = 1900.0
	FreqWhite   = 2300.0
	FreqVISOne  = 1300.0
	FreqVISZero = 1100.0

	freqSpan = FreqWhite - FreqBlack
)

// ToHz maps an 8-bit intensity linearly onto the 1500-2300 Hz video band
func ToHz(intensity uint8) float64 {
	return levelToHz(float64(intensity))
}

// ToIntensity maps a frequency back to an intensity, clamping anything outside
// the video band to 0 or 255
func ToIntensity(hz float64) uint8 {
	return uint8(math.Round(hzToLevel(hz)))
}

// levelToHz is ToHz for unquantized levels
func levelToHz(level float64) float64 {
	return FreqBlack + clampLevel(level)/255*freqSpan
}

// hzToLevel is ToIntensity without the final rounding
func hzToLevel(hz float64) float64 {
	return clampLevel((hz - FreqBlack) / freqSpan * 255)
}

func clampLevel(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 255:
		return 255
	}
	return v
}
