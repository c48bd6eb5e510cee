package sstv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

/*
 * Video Demodulation
 *
 * A line is read from the frequency trace at the pixel centres implied by the
 * located sync end and the current time scale. Luma and chroma are resampled
 * with piecewise linear interpolation between trace samples.
 *
 * Copyright (c) 2026, UberSDR project
 */

// ScanLine holds the levels demodulated from one line
type ScanLine struct {
	Index   int
	Luma    []float64
	Chroma  []float64
	Channel ChromaChannel
}

// VideoDemodulator extracts scan lines from a frequency trace
type VideoDemodulator struct {
	mode       *ModeSpec
	sampleRate float64
}

// NewVideoDemodulator creates a line demodulator
func NewVideoDemodulator(mode *ModeSpec, sampleRate float64) *VideoDemodulator {
	return &VideoDemodulator{
		mode:       mode,
		sampleRate: sampleRate,
	}
}

// LineEnd is one past the last trace position a line starting at syncEnd
// reads
func (v *VideoDemodulator) LineEnd(syncEnd, scale float64) float64 {
	m := v.mode
	last := m.ChromaStart() + m.ChromaTime - m.ChromaPixelTime()/2
	return syncEnd + last*v.sampleRate*scale + 1
}

// DemodulateLine reads one line. syncEnd is the boundary after the line's
// sync pulse, scale the time scale and shift the tuning offset in Hz.
func (v *VideoDemodulator) DemodulateLine(b *SlidingPCMBuffer, line int, syncEnd, scale, shift float64) (ScanLine, error) {
	m := v.mode
	if end := v.LineEnd(syncEnd, scale); end >= float64(b.FreqEnd()) {
		return ScanLine{}, fmt.Errorf("line %d: trace ends at %d, need %.0f", line, b.FreqEnd(), end)
	}
	if syncEnd < float64(b.Base()) {
		return ScanLine{}, fmt.Errorf("line %d: sync at %.0f already discarded", line, syncEnd)
	}

	rate := v.sampleRate * scale
	luma, err := v.resample(b, syncEnd+m.LumaStart()*rate, m.LumaPixelTime()*rate, m.ImgWidth, shift)
	if err != nil {
		return ScanLine{}, fmt.Errorf("line %d luma: %w", line, err)
	}
	chroma, err := v.resample(b, syncEnd+m.ChromaStart()*rate, m.ChromaPixelTime()*rate, m.ChromaWidth, shift)
	if err != nil {
		return ScanLine{}, fmt.Errorf("line %d chroma: %w", line, err)
	}

	return ScanLine{
		Index:   line,
		Luma:    luma,
		Chroma:  chroma,
		Channel: m.ChromaChannel(line),
	}, nil
}

// resample returns the levels of count pixels of width samples each,
// starting at boundary start
func (v *VideoDemodulator) resample(b *SlidingPCMBuffer, start, width float64, count int, shift float64) ([]float64, error) {
	first := int(math.Floor(start))
	last := int(math.Ceil(start+float64(count)*width)) + 1

	xs := make([]float64, 0, last-first+1)
	ys := make([]float64, 0, last-first+1)
	for j := first; j <= last; j++ {
		xs = append(xs, float64(j))
		ys = append(ys, b.Freq(j)-shift)
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, err
	}

	levels := make([]float64, count)
	for i := range levels {
		levels[i] = hzToLevel(pl.Predict(start + (float64(i)+0.5)*width))
	}
	return levels, nil
}
