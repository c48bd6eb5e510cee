package sstv

import (
	"context"
	"image"
	"image/color"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = quietLogger()
	return cfg
}

func fillImage(fn func(x, y int) (r, g, b uint8)) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, Robot36.ImgWidth, Robot36.NumLines))
	for y := 0; y < Robot36.NumLines; y++ {
		for x := 0; x < Robot36.ImgWidth; x++ {
			r, g, b := fn(x, y)
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return img
}

func greyImage(v uint8) *image.RGBA {
	return fillImage(func(x, y int) (uint8, uint8, uint8) { return v, v, v })
}

// smoothImage is constant over each 2x2 block and changes slowly between
// blocks, so chroma subsampling loses nothing
func smoothImage() *image.RGBA {
	return fillImage(func(x, y int) (uint8, uint8, uint8) {
		bx, by := float64(x/2), float64(y/2)
		r := 40 + 150*math.Sin(math.Pi*bx/160)
		g := 60 + 100*by/120
		b := 120 + 60*math.Cos(math.Pi*(bx+by)/100)
		return uint8(math.Round(r)), uint8(math.Round(g)), uint8(math.Round(b))
	})
}

var barColors = [][3]uint8{
	{255, 255, 255}, // white
	{255, 255, 0},   // yellow
	{0, 255, 255},   // cyan
	{0, 255, 0},     // green
	{255, 0, 255},   // magenta
	{255, 0, 0},     // red
	{0, 0, 255},     // blue
}

func barIndex(x int) int {
	return x * len(barColors) / Robot36.ImgWidth
}

func colorBars() *image.RGBA {
	return fillImage(func(x, y int) (uint8, uint8, uint8) {
		c := barColors[barIndex(x)]
		return c[0], c[1], c[2]
	})
}

var encodedSmooth = sync.OnceValues(func() (AudioSignal, error) {
	return Encode(smoothImage())
})

func smoothSignal(t *testing.T) AudioSignal {
	t.Helper()
	sig, err := encodedSmooth()
	require.NoError(t, err)
	return sig
}

func encodeWith(t *testing.T, cfg Config, img image.Image) AudioSignal {
	t.Helper()
	enc, err := NewEncoder(cfg)
	require.NoError(t, err)
	sig, err := enc.Encode(img)
	require.NoError(t, err)
	return sig
}

func decodeFrame(t *testing.T, sig AudioSignal) *DecodedFrame {
	t.Helper()
	frame, err := DecodeSignal(context.Background(), testConfig(), sig)
	require.NoError(t, err)
	require.NotNil(t, frame)
	return frame
}

// maxDiffRows returns the largest per-channel difference between want and
// got over the given rows
func maxDiffRows(want image.Image, got *Image, rows []int) int {
	worst := 0
	for _, y := range rows {
		for x := 0; x < got.Width(); x++ {
			worst = max(worst, pixelDiff(want, got, x, y))
		}
	}
	return worst
}

func pixelDiff(want image.Image, got *Image, x, y int) int {
	r0, g0, b0, _ := want.At(x, y).RGBA()
	r1, g1, b1 := got.RGBAt(x, y)
	return max(
		absDiff(int(r0>>8), int(r1)),
		absDiff(int(g0>>8), int(g1)),
		absDiff(int(b0>>8), int(b1)),
	)
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// bufferOf wraps PCM in a buffer with its traces computed
func bufferOf(pcm []int16, rate float64) *SlidingPCMBuffer {
	buf := NewSlidingPCMBuffer(len(pcm))
	buf.Write(pcm, fullScale(16))
	NewFrequencyDemodulator(rate, Robot36.LumaPixelTime()).Advance(buf, true)
	newSyncMeter(rate, Robot36.SyncTime).Advance(buf)
	return buf
}
