package sstv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestColorSpace_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := rapid.Uint8().Draw(t, "r")
		g := rapid.Uint8().Draw(t, "g")
		b := rapid.Uint8().Draw(t, "b")

		y, cb, cr := rgbToYCbCr(float64(r), float64(g), float64(b))
		r2, g2, b2 := yCbCrToRGB(y, cb, cr)
		assert.LessOrEqual(t, absDiff(int(r), int(r2)), 1)
		assert.LessOrEqual(t, absDiff(int(g), int(g2)), 1)
		assert.LessOrEqual(t, absDiff(int(b), int(b2)), 1)
	})
}

func TestColorSpace_Grey(t *testing.T) {
	y, cb, cr := rgbToYCbCr(128, 128, 128)
	assert.InDelta(t, 128, y, 1e-9)
	assert.InDelta(t, 128, cb, 1e-9)
	assert.InDelta(t, 128, cr, 1e-9)
}

func TestClip(t *testing.T) {
	assert.Equal(t, uint8(0), clip(-3))
	assert.Equal(t, uint8(255), clip(300))
	assert.Equal(t, uint8(128), clip(127.6))
	assert.Equal(t, uint8(127), clip(127.4))
}

func TestYCbCrPlanes_ChromaAverage(t *testing.T) {
	img := NewImage(320, 240)
	// One 2x2 block with a different colour in each pixel
	img.setRGB(10, 20, 255, 0, 0)
	img.setRGB(11, 20, 0, 255, 0)
	img.setRGB(10, 21, 0, 0, 255)
	img.setRGB(11, 21, 255, 255, 255)

	p := newYCbCrPlanes(img, Robot36)
	require.Len(t, p.luma, 240)
	require.Len(t, p.cb, 120)
	require.Len(t, p.cb[0], 160)

	var cb, cr float64
	for _, px := range [][3]float64{{255, 0, 0}, {0, 255, 0}, {0, 0, 255}, {255, 255, 255}} {
		_, b, r := rgbToYCbCr(px[0], px[1], px[2])
		cb += b / 4
		cr += r / 4
	}
	assert.InDelta(t, cb, p.cb[10][5], 1e-9)
	assert.InDelta(t, cr, p.cr[10][5], 1e-9)
	assert.InDelta(t, 128, p.cb[10][6], 1e-9)

	// Even lines carry Cb, odd lines Cr
	assert.Equal(t, p.cb[10], p.chroma(20, Robot36))
	assert.Equal(t, p.cr[10], p.chroma(21, Robot36))
}
