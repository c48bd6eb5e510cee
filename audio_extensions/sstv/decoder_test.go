package sstv

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertRoundTrip compares every pixel of the frame, edge columns included
func assertRoundTrip(t *testing.T, want *Image, got *Image, tol int) {
	t.Helper()
	require.Equal(t, want.Width(), got.Width())
	require.Equal(t, want.Height(), got.Height())

	worst := 0
	var wx, wy int
	for y := 0; y < got.Height(); y++ {
		for x := 0; x < got.Width(); x++ {
			if d := pixelDiff(want, got, x, y); d > worst {
				worst, wx, wy = d, x, y
			}
		}
	}
	assert.LessOrEqualf(t, worst, tol, "worst pixel at (%d, %d)", wx, wy)
}

func TestDecode_Grey(t *testing.T) {
	sig, err := Encode(greyImage(128))
	require.NoError(t, err)

	img, complete, err := Decode(sig)
	require.NoError(t, err)
	assert.True(t, complete)

	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			r, g, b := img.RGBAt(x, y)
			for _, v := range []uint8{r, g, b} {
				if v < 126 || v > 130 {
					t.Fatalf("pixel (%d, %d) = %d,%d,%d, want 128±2", x, y, r, g, b)
				}
			}
		}
	}
}

func TestDecode_SmoothImage(t *testing.T) {
	src := smoothImage()
	frame := decodeFrame(t, smoothSignal(t))

	assert.Equal(t, StateComplete, frame.State)
	assert.True(t, frame.Complete)
	assert.Equal(t, Robot36, frame.Mode)
	assert.Equal(t, VISCode(0x08), frame.VIS)
	assert.Equal(t, 240, frame.SyncedLines)
	assert.Empty(t, frame.Missing())
	assert.InDelta(t, 0, frame.Shift, 1)
	assert.InDelta(t, 1, frame.Drift, 1e-4)

	want, err := toModeImage(src, Robot36)
	require.NoError(t, err)
	assertRoundTrip(t, want, frame.Image, 2)
}

func TestDecode_ColorBars(t *testing.T) {
	sig, err := Encode(colorBars())
	require.NoError(t, err)
	img, complete, err := Decode(sig)
	require.NoError(t, err)
	require.True(t, complete)

	// Bar interiors
	for k, c := range barColors {
		lo := (k*Robot36.ImgWidth + len(barColors) - 1) / len(barColors)
		hi := ((k+1)*Robot36.ImgWidth+len(barColors)-1)/len(barColors) - 1
		var sum [3]float64
		n := 0
		for y := 10; y < img.Height()-10; y++ {
			for x := lo + 3; x <= hi-3; x++ {
				r, g, b := img.RGBAt(x, y)
				sum[0] += float64(r)
				sum[1] += float64(g)
				sum[2] += float64(b)
				n++
			}
		}
		for ch := range sum {
			assert.InDeltaf(t, float64(c[ch]), sum[ch]/float64(n), 4, "bar %d channel %d", k, ch)
		}
	}

	// Bar boundaries: the biggest column-to-column change lies within two
	// columns of the true boundary
	colDiff := func(x int) float64 {
		var d float64
		for y := 10; y < img.Height()-10; y++ {
			r0, g0, b0 := img.RGBAt(x-1, y)
			r1, g1, b1 := img.RGBAt(x, y)
			d += math.Abs(float64(r1)-float64(r0)) + math.Abs(float64(g1)-float64(g0)) + math.Abs(float64(b1)-float64(b0))
		}
		return d
	}
	for k := 1; k < len(barColors); k++ {
		boundary := (k*Robot36.ImgWidth + len(barColors) - 1) / len(barColors)
		best, bestX := -1.0, 0
		for x := boundary - 4; x <= boundary+4; x++ {
			if d := colDiff(x); d > best {
				best, bestX = d, x
			}
		}
		assert.LessOrEqualf(t, absDiff(bestX, boundary), 2, "boundary %d found at column %d", boundary, bestX)
	}
}

func TestDecode_Drift(t *testing.T) {
	src := smoothImage()
	want, err := toModeImage(src, Robot36)
	require.NoError(t, err)

	for _, rate := range []int{48048, 47952} {
		t.Run(fmt.Sprint(rate), func(t *testing.T) {
			cfg := testConfig()
			cfg.SampleRate = rate
			sig := encodeWith(t, cfg, src)
			// Played back at 48 kHz the whole transmission runs 0.1% slow or
			// fast and every tone is off by the same ratio
			sig.SampleRate = 48000

			frame := decodeFrame(t, sig)
			require.Equal(t, StateComplete, frame.State)
			assert.True(t, frame.Complete)
			assert.InDelta(t, float64(rate)/48000, frame.Drift, 2e-4)
			assert.InDelta(t, FreqLeader*(48000/float64(rate)-1), frame.Shift, 1)
			assertRoundTrip(t, want, frame.Image, 2)
		})
	}
}

func TestDecode_TuningOffset(t *testing.T) {
	src := smoothImage()
	want, err := toModeImage(src, Robot36)
	require.NoError(t, err)

	// Shift every tone up by 40 Hz by mixing the encoded tones directly
	enc, err := NewEncoder(testConfig())
	require.NoError(t, err)
	tones, err := enc.Tones(src)
	require.NoError(t, err)
	synth := NewToneSynthesizer(48000, 16, 0.8)
	var pcm []int16
	for tone := range tones {
		pcm = synth.Append(pcm, Tone{tone.Freq + 40, tone.Duration})
	}

	frame := decodeFrame(t, AudioSignal{Samples: pcm, SampleRate: 48000, BitDepth: 16})
	require.Equal(t, StateComplete, frame.State)
	assert.InDelta(t, 40, frame.Shift, 1)
	assertRoundTrip(t, want, frame.Image, 2)
}

func TestDecode_LeadingSilence(t *testing.T) {
	sig := smoothSignal(t)
	pad := make([]int16, 48000*3/2)
	padded := AudioSignal{
		Samples:    append(pad, sig.Samples...),
		SampleRate: sig.SampleRate,
		BitDepth:   sig.BitDepth,
	}

	d, err := NewDecoder(testConfig())
	require.NoError(t, err)
	for off := 0; off < len(padded.Samples) && !d.Done(); off += 4800 {
		require.NoError(t, d.Write(padded.Samples[off:min(off+4800, len(padded.Samples))]))
	}
	frame, err := d.Close()
	require.NoError(t, err)
	assert.True(t, frame.Complete)

	// The start bit follows the two leaders and the break
	startBit := float64(len(pad)) + (2*visLeaderTime+visBreakTime)*48000 - 0.5
	require.NotNil(t, d.Header())
	assert.InDelta(t, startBit, d.Header().Start, 8)
	assert.InDelta(t, startBit+visBitCount*visBitTime*48000, d.Header().End, 10)
	assert.InDelta(t, 1, d.Header().TimeScale, 0.01)
}

func TestDecode_StrayTonesBeforeHeader(t *testing.T) {
	sig := smoothSignal(t)
	want, err := toModeImage(smoothImage(), Robot36)
	require.NoError(t, err)

	synth := NewToneSynthesizer(48000, 16, 0.8)
	pcm := synth.Append(nil, Tone{FreqLeader, 0.2}, Tone{1000, 0.5})
	pcm = append(pcm, sig.Samples...)

	frame := decodeFrame(t, AudioSignal{Samples: pcm, SampleRate: 48000, BitDepth: 16})
	require.Equal(t, StateComplete, frame.State)
	assert.True(t, frame.Complete)
	assert.Equal(t, 240, frame.SyncedLines)
	assertRoundTrip(t, want, frame.Image, 2)
}

func TestDecode_EightBit(t *testing.T) {
	cfg := testConfig()
	cfg.BitDepth = 8
	src := smoothImage()
	sig := encodeWith(t, cfg, src)
	for _, s := range sig.Samples {
		require.True(t, s >= -128 && s <= 127)
	}

	frame := decodeFrame(t, sig)
	require.True(t, frame.Complete)
	want, err := toModeImage(src, Robot36)
	require.NoError(t, err)

	// 8-bit quantization noise costs some accuracy
	var sum float64
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			sum += float64(pixelDiff(want, frame.Image, x, y))
		}
	}
	assert.Less(t, sum/(240*320), 6.0)
	assertRoundTrip(t, want, frame.Image, 40)
}

func TestDecode_44100(t *testing.T) {
	cfg := testConfig()
	cfg.SampleRate = 44100
	sig := encodeWith(t, cfg, smoothImage())

	frame := decodeFrame(t, sig)
	require.Equal(t, StateComplete, frame.State)
	assert.Equal(t, 240, frame.SyncedLines)
	assert.InDelta(t, 1, frame.Drift, 2e-4)

	want, err := toModeImage(smoothImage(), Robot36)
	require.NoError(t, err)
	assertRoundTrip(t, want, frame.Image, 3)
}

func TestDecode_Noise(t *testing.T) {
	sig := smoothSignal(t)
	rng := rand.New(rand.NewPCG(1, 2))

	// 30 dB below the signal power
	sigma := 0.8 * 32767 / math.Sqrt2 / math.Pow(10, 30.0/20)
	noisy := make([]int16, len(sig.Samples))
	for i, s := range sig.Samples {
		v := float64(s) + rng.NormFloat64()*sigma
		noisy[i] = int16(max(-32768, min(32767, math.Round(v))))
	}

	frame := decodeFrame(t, AudioSignal{Samples: noisy, SampleRate: 48000, BitDepth: 16})
	require.Equal(t, StateComplete, frame.State)
	assert.True(t, frame.Complete)
	assert.Equal(t, 240, frame.SyncedLines)
	assert.Greater(t, frame.SNR, 10.0)

	// Pixel noise averages out over the frame
	want, err := toModeImage(smoothImage(), Robot36)
	require.NoError(t, err)
	var mw, mg [3]float64
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			r0, g0, b0 := want.RGBAt(x, y)
			r1, g1, b1 := frame.Image.RGBAt(x, y)
			mw[0], mw[1], mw[2] = mw[0]+float64(r0), mw[1]+float64(g0), mw[2]+float64(b0)
			mg[0], mg[1], mg[2] = mg[0]+float64(r1), mg[1]+float64(g1), mg[2]+float64(b1)
		}
	}
	for ch := range mw {
		assert.InDelta(t, mw[ch]/(240*320), mg[ch]/(240*320), 8)
	}
}

func TestDecode_TruncatedAfterHeader(t *testing.T) {
	sig := smoothSignal(t)
	cut := int(math.Round(HeaderTime * 48000))
	short := AudioSignal{Samples: sig.Samples[:cut], SampleRate: 48000, BitDepth: 16}

	frame, err := DecodeSignal(context.Background(), testConfig(), short)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, frame.State)
	assert.False(t, frame.Complete)
	assert.Equal(t, 0, frame.SyncedLines)
	assert.Equal(t, Robot36, frame.Mode)
	require.NotNil(t, frame.Image)
	assert.Len(t, frame.Missing(), 240)

	// Nothing decoded: black
	r, g, b := frame.Image.RGBAt(160, 120)
	assert.Equal(t, [3]uint8{0, 0, 0}, [3]uint8{r, g, b})

	_, complete, err := Decode(short)
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestDecode_TruncatedMidFrame(t *testing.T) {
	sig := smoothSignal(t)
	cut := int(math.Round((HeaderTime + 120*Robot36.LineTime) * 48000))
	short := AudioSignal{Samples: sig.Samples[:cut], SampleRate: 48000, BitDepth: 16}

	frame := decodeFrame(t, short)
	assert.Equal(t, StateAborted, frame.State)
	assert.False(t, frame.Complete)
	assert.Equal(t, 120, frame.SyncedLines)
	assert.Equal(t, 120, frame.Missing()[0])

	want, err := toModeImage(smoothImage(), Robot36)
	require.NoError(t, err)
	rows := make([]int, 0, 118)
	for y := 0; y < 118; y++ {
		rows = append(rows, y)
	}
	// Lines past the cut repeat the last one received
	assert.LessOrEqual(t, maxDiffRows(want, frame.Image, rows), 2)
	r0, g0, b0 := frame.Image.RGBAt(100, 119)
	r1, g1, b1 := frame.Image.RGBAt(100, 200)
	assert.Equal(t, [3]uint8{r0, g0, b0}, [3]uint8{r1, g1, b1})
}

func TestDecode_MissingLine(t *testing.T) {
	sig := smoothSignal(t)
	samples := append([]int16(nil), sig.Samples...)

	// Silence the sync pulse of line 100
	start := int(math.Round((HeaderTime + 100*Robot36.LineTime) * 48000))
	n := int(math.Round(Robot36.SyncTime * 48000))
	clear(samples[start : start+n])

	frame := decodeFrame(t, AudioSignal{Samples: samples, SampleRate: 48000, BitDepth: 16})
	assert.Equal(t, StateComplete, frame.State)
	assert.False(t, frame.Complete)
	assert.Equal(t, []int{100}, frame.Missing())
	assert.Equal(t, 239, frame.SyncedLines)
	assert.ErrorIs(t, frame.LineErr(100), ErrSyncLost)
	assert.NoError(t, frame.LineErr(101))

	want, err := toModeImage(smoothImage(), Robot36)
	require.NoError(t, err)
	assert.LessOrEqual(t, maxDiffRows(want, frame.Image, []int{100}), 6)
	assert.LessOrEqual(t, maxDiffRows(want, frame.Image, []int{98, 99, 101, 102}), 2)
}

func TestDecode_TooManyMissedLines(t *testing.T) {
	sig := smoothSignal(t)
	samples := append([]int16(nil), sig.Samples...)

	// Silence everything after line 50
	start := int(math.Round((HeaderTime + 50*Robot36.LineTime) * 48000))
	clear(samples[start:])

	frame := decodeFrame(t, AudioSignal{Samples: samples, SampleRate: 48000, BitDepth: 16})
	assert.Equal(t, StateAborted, frame.State)
	assert.False(t, frame.Complete)
	assert.Equal(t, 50, frame.SyncedLines)
}

func TestDecode_NoSignal(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	noise := make([]int16, 48000*2)
	for i := range noise {
		noise[i] = int16(rng.NormFloat64() * 3000)
	}

	for name, samples := range map[string][]int16{
		"silence": make([]int16, 48000*2),
		"noise":   noise,
		"empty":   nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode(AudioSignal{Samples: samples, SampleRate: 48000, BitDepth: 16})
			assert.ErrorIs(t, err, ErrNoSignalDetected)
		})
	}
}

func TestDecode_HeaderTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HeaderTimeoutLines = 10

	d, err := NewDecoder(cfg)
	require.NoError(t, err)
	silence := make([]int16, 4800)
	for i := 0; i < 20 && !d.Done(); i++ {
		_ = d.Write(silence)
	}
	assert.True(t, d.Done())
	assert.Equal(t, StateAborted, d.State())

	err = d.Write(silence)
	assert.ErrorIs(t, err, ErrNoSignalDetected)
	_, err = d.Close()
	assert.ErrorIs(t, err, ErrNoSignalDetected)
}

func TestDecode_InvalidHeader(t *testing.T) {
	synth := NewToneSynthesizer(48000, 16, 0.8)
	pcm := synth.Append(nil, headerTones(0x08, 0)...)
	pcm = synth.Append(pcm, Tone{FreqSync, 9e-3}, Tone{FreqBlack, 0.5})

	frame, err := DecodeSignal(context.Background(), testConfig(), AudioSignal{Samples: pcm, SampleRate: 48000})
	assert.ErrorIs(t, err, ErrInvalidHeader)
	require.NotNil(t, frame)
	assert.Equal(t, StateAborted, frame.State)
	assert.Nil(t, frame.Image)
}

func TestDecoder_StatesAndChunking(t *testing.T) {
	sig := smoothSignal(t)
	want, err := toModeImage(smoothImage(), Robot36)
	require.NoError(t, err)

	for _, chunk := range []int{999, 7777, 48000} {
		d, err := NewDecoder(testConfig())
		require.NoError(t, err)
		assert.Equal(t, StateSearchingHeader, d.State())

		seen := map[DecoderState]bool{}
		for off := 0; off < len(sig.Samples) && !d.Done(); off += chunk {
			require.NoError(t, d.Write(sig.Samples[off:min(off+chunk, len(sig.Samples))]))
			seen[d.State()] = true
			if d.State() != StateSearchingHeader {
				require.NotNil(t, d.Header())
			}
		}
		frame, err := d.Close()
		require.NoError(t, err)

		assert.True(t, seen[StateDecodingLines], "chunk %d", chunk)
		assert.Equal(t, StateComplete, frame.State)
		assert.True(t, frame.Complete)
		assert.Equal(t, 240, d.LinesDecoded())
		assertRoundTrip(t, want, frame.Image, 2)

		// Closing twice returns the same frame
		again, err := d.Close()
		require.NoError(t, err)
		assert.Same(t, frame, again)
		assert.Error(t, d.Write(sig.Samples[:10]))
	}
}

func TestDecoder_DecodeStream(t *testing.T) {
	sig := smoothSignal(t)
	d, err := NewDecoder(testConfig())
	require.NoError(t, err)

	src := make(chan []int16)
	go func() {
		defer close(src)
		for off := 0; off < len(sig.Samples); off += 4800 {
			src <- sig.Samples[off:min(off+4800, len(sig.Samples))]
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	frame, err := d.DecodeStream(ctx, src)
	require.NoError(t, err)
	assert.True(t, frame.Complete)
	// Drain what the sender still has
	for range src {
	}
}

func TestDecoder_DecodeStreamCancel(t *testing.T) {
	d, err := NewDecoder(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	frame, err := d.DecodeStream(ctx, make(chan []int16))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, frame)
	assert.Equal(t, StateAborted, frame.State)
}

func TestDecodeSignal_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DecodeSignal(ctx, testConfig(), smoothSignal(t))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDecoder_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BitDepth = 12
	_, err := NewDecoder(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDecoder_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	cfg := testConfig()
	cfg.Metrics = m

	_, err := DecodeSignal(context.Background(), cfg, smoothSignal(t))
	require.NoError(t, err)
	_, err = DecodeSignal(context.Background(), cfg, AudioSignal{Samples: make([]int16, 4800), SampleRate: 48000})
	require.ErrorIs(t, err, ErrNoSignalDetected)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDecoded.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDecoded.WithLabelValues("aborted")))
	assert.Equal(t, 240.0, testutil.ToFloat64(m.linesDecoded.WithLabelValues("synced")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.linesDecoded.WithLabelValues("lost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.headerFailures.WithLabelValues("no_signal")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.frameDrift))
}

func TestDecoderState_String(t *testing.T) {
	assert.Equal(t, "searching_header", StateSearchingHeader.String())
	assert.Equal(t, "header_locked", StateHeaderLocked.String())
	assert.Equal(t, "decoding_lines", StateDecodingLines.String())
	assert.Equal(t, "complete", StateComplete.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "state(9)", DecoderState(9).String())
}
