package sstv

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestToneSynthesizer_SampleCount(t *testing.T) {
	synth := NewToneSynthesizer(48000, 16, 0.8)
	var tones []Tone
	for i := 0; i < 1000; i++ {
		tones = append(tones, Tone{1500, Robot36.LumaPixelTime()})
	}
	pcm := synth.Append(nil, tones...)

	// 275us pixels do not fall on the sample grid but their boundaries do
	// not accumulate error
	assert.Len(t, pcm, int(math.Round(1000*Robot36.LumaPixelTime()*48000)))
	assert.Equal(t, int64(len(pcm)), synth.Emitted())
}

func TestToneSynthesizer_LineLength(t *testing.T) {
	planes := newYCbCrPlanes(NewImage(320, 240), Robot36)
	tones := NewLineEncoder(Robot36).Tones(nil, planes.luma[0], planes.chroma(0, Robot36))

	var total float64
	for _, tone := range tones {
		total += tone.Duration
	}
	assert.InDelta(t, 0.150, total, 1e-9)
	assert.Len(t, NewToneSynthesizer(48000, 16, 0.8).Append(nil, tones...), 7200)
}

func TestToneSynthesizer_PhaseContinuous(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f1 := rapid.Float64Range(1000, 2400).Draw(t, "f1")
		f2 := rapid.Float64Range(1000, 2400).Draw(t, "f2")
		d := rapid.Float64Range(0.1e-3, 5e-3).Draw(t, "duration")

		synth := NewToneSynthesizer(48000, 16, 0.8)
		pcm := synth.Append(nil, Tone{f1, d}, Tone{f2, d})

		// No step larger than the steepest slope of the faster tone
		limit := 0.8*32767*2*math.Pi*max(f1, f2)/48000 + 2
		for i := 1; i < len(pcm); i++ {
			step := math.Abs(float64(pcm[i]) - float64(pcm[i-1]))
			if step > limit {
				t.Fatalf("step of %.0f at sample %d exceeds %.0f", step, i, limit)
			}
		}
	})
}

func TestToneSynthesizer_Amplitude(t *testing.T) {
	for _, tc := range []struct {
		bits int
		peak float64
	}{
		{16, 0.8 * 32767},
		{8, 0.8 * 127},
	} {
		synth := NewToneSynthesizer(48000, tc.bits, 0.8)
		pcm := synth.Append(nil, Tone{1200, 0.01}) // 40 samples per cycle, peaks land on samples
		assert.InDelta(t, tc.peak, float64(slices.Max(pcm)), 1)
		assert.InDelta(t, -tc.peak, float64(slices.Min(pcm)), 1)
	}
}

func TestToneSynthesizer_SamplesStopEarly(t *testing.T) {
	synth := NewToneSynthesizer(48000, 16, 0.8)
	tones := func(yield func(Tone) bool) {
		for {
			if !yield(Tone{1200, 0.001}) {
				return
			}
		}
	}

	n := 0
	for range synth.Samples(tones) {
		n++
		if n == 100 {
			break
		}
	}
	assert.Equal(t, 100, n)
	assert.Equal(t, int64(100), synth.Emitted())
}

func TestToneSynthesizer_ZeroDuration(t *testing.T) {
	synth := NewToneSynthesizer(48000, 16, 0.8)
	pcm := synth.Append(nil, Tone{1200, 0}, Tone{1500, 0.001})
	require.Len(t, pcm, 48)
}
