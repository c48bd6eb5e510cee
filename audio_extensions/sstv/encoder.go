package sstv

import (
	"image"
	"iter"
	"math"
	"time"

	"github.com/charmbracelet/log"
)

/*
 * SSTV Encoder
 *
 * Image -> YCbCr planes -> VIS header and per-line tones -> PCM.
 *
 * Robot 36 line (150 ms):
 *   sync 9ms 1200 Hz | porch 3ms 1500 Hz | Y 88ms |
 *   separator 4.5ms 1500 Hz | porch 1.5ms 1900 Hz | Cb or Cr 44ms
 *
 * Copyright (c) 2026, UberSDR project
 */

// LineEncoder renders scan lines to tones
type LineEncoder struct {
	mode *ModeSpec
}

// NewLineEncoder creates a line encoder for mode
func NewLineEncoder(mode *ModeSpec) *LineEncoder {
	return &LineEncoder{mode: mode}
}

// Tones appends the tones of one line. luma has ImgWidth levels and chroma
// ChromaWidth levels of the component the line carries.
func (e *LineEncoder) Tones(dst []Tone, luma, chroma []float64) []Tone {
	m := e.mode
	dst = append(dst,
		Tone{FreqSync, m.SyncTime},
		Tone{FreqBlack, m.PorchTime},
	)
	px := m.LumaPixelTime()
	for _, y := range luma {
		dst = append(dst, Tone{levelToHz(y), px})
	}
	dst = append(dst,
		Tone{FreqBlack, m.SeptrTime},
		Tone{FreqLeader, m.ChromaPorchTime},
	)
	px = m.ChromaPixelTime()
	for _, c := range chroma {
		dst = append(dst, Tone{levelToHz(c), px})
	}
	return dst
}

// Encoder renders images as SSTV audio
type Encoder struct {
	cfg     Config
	mode    *ModeSpec
	lines   *LineEncoder
	logger  *log.Logger
	metrics *Metrics
}

// NewEncoder creates an encoder for Robot 36
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{
		cfg:     cfg,
		mode:    Robot36,
		lines:   NewLineEncoder(Robot36),
		logger:  cfg.logger(),
		metrics: cfg.Metrics,
	}, nil
}

// Tones validates img and returns its complete tone sequence lazily
func (e *Encoder) Tones(img image.Image) (iter.Seq[Tone], error) {
	src, err := toModeImage(img, e.mode)
	if err != nil {
		return nil, err
	}
	planes := newYCbCrPlanes(src, e.mode)

	return func(yield func(Tone) bool) {
		for _, t := range EncodeVIS(e.mode.VIS) {
			if !yield(t) {
				return
			}
		}
		line := make([]Tone, 0, 6+e.mode.ImgWidth+e.mode.ChromaWidth)
		for y := 0; y < e.mode.NumLines; y++ {
			line = e.lines.Tones(line[:0], planes.luma[y], planes.chroma(y, e.mode))
			for _, t := range line {
				if !yield(t) {
					return
				}
			}
		}
		for _, t := range fskTones(e.cfg.Callsign) {
			if !yield(t) {
				return
			}
		}
	}, nil
}

// Stream validates img and returns its samples lazily
func (e *Encoder) Stream(img image.Image) (iter.Seq[int16], error) {
	tones, err := e.Tones(img)
	if err != nil {
		return nil, err
	}
	synth := NewToneSynthesizer(e.cfg.SampleRate, e.cfg.BitDepth, e.cfg.Amplitude)
	return synth.Samples(tones), nil
}

// Duration returns the length of a transmission from this encoder
func (e *Encoder) Duration() float64 {
	return HeaderTime + e.mode.FrameTime() + FSKTime(e.cfg.Callsign)
}

// Encode renders img to a complete signal
func (e *Encoder) Encode(img image.Image) (AudioSignal, error) {
	start := time.Now()
	samples, err := e.Stream(img)
	if err != nil {
		e.logger.Warn("Rejected image", "err", err)
		return AudioSignal{}, err
	}

	out := make([]int16, 0, int(math.Ceil(e.Duration()*float64(e.cfg.SampleRate)))+1)
	for s := range samples {
		out = append(out, s)
	}

	elapsed := time.Since(start)
	e.metrics.encoded(elapsed.Seconds())
	e.logger.Debug("Encoded image",
		"mode", e.mode.Name, "samples", len(out), "rate", e.cfg.SampleRate, "elapsed", elapsed)

	return AudioSignal{
		Samples:    out,
		SampleRate: e.cfg.SampleRate,
		BitDepth:   e.cfg.BitDepth,
	}, nil
}

// Encode renders img with the default configuration
func Encode(img image.Image) (AudioSignal, error) {
	enc, err := NewEncoder(DefaultConfig())
	if err != nil {
		return AudioSignal{}, err
	}
	return enc.Encode(img)
}
