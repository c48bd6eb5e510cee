package sstv

import "time"

// AudioSignal is mono PCM audio. Samples of 8-bit signals hold values in
// -128..127.
type AudioSignal struct {
	Samples    []int16
	SampleRate int
	BitDepth   int
}

// Duration returns the playing time of the signal
func (s AudioSignal) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(s.Samples)) / float64(s.SampleRate) * float64(time.Second))
}
