package sstv

import "math"

/*
 * Video Common - Colour Space Conversion
 *
 * Full-range BT.601 (JFIF) YCbCr. Luma and chroma are carried as unquantized
 * levels between the image and the tone mapping so each value is rounded once.
 *
 * Copyright (c) 2026, UberSDR project
 */

// rgbToYCbCr converts 8-bit RGB to full-range YCbCr levels
func rgbToYCbCr(r, g, b float64) (y, cb, cr float64) {
	y = 0.299*r + 0.587*g + 0.114*b
	cb = 128 - 0.168736*r - 0.331264*g + 0.5*b
	cr = 128 + 0.5*r - 0.418688*g - 0.081312*b
	return y, cb, cr
}

// yCbCrToRGB converts full-range YCbCr levels to 8-bit RGB
func yCbCrToRGB(y, cb, cr float64) (r, g, b uint8) {
	cb -= 128
	cr -= 128
	r = clip(y + 1.402*cr)
	g = clip(y - 0.344136*cb - 0.714136*cr)
	b = clip(y + 1.772*cb)
	return r, g, b
}

// clip rounds to the nearest 8-bit value
func clip(value float64) uint8 {
	if value < 0 || math.IsNaN(value) {
		return 0
	}
	if value > 255 {
		return 255
	}
	return uint8(math.Round(value))
}

// ycbcrPlanes holds an image split into a luma plane and chroma planes
// subsampled 2x2. cb and cr are indexed by line pair.
type ycbcrPlanes struct {
	luma [][]float64
	cb   [][]float64
	cr   [][]float64
}

func newYCbCrPlanes(img *Image, mode *ModeSpec) *ycbcrPlanes {
	p := &ycbcrPlanes{
		luma: make([][]float64, mode.NumLines),
		cb:   make([][]float64, (mode.NumLines+1)/2),
		cr:   make([][]float64, (mode.NumLines+1)/2),
	}
	cbFull := make([][]float64, mode.NumLines)
	crFull := make([][]float64, mode.NumLines)
	for y := 0; y < mode.NumLines; y++ {
		p.luma[y] = make([]float64, mode.ImgWidth)
		cbFull[y] = make([]float64, mode.ImgWidth)
		crFull[y] = make([]float64, mode.ImgWidth)
		for x := 0; x < mode.ImgWidth; x++ {
			r, g, b := img.RGBAt(x, y)
			p.luma[y][x], cbFull[y][x], crFull[y][x] = rgbToYCbCr(float64(r), float64(g), float64(b))
		}
	}

	// Each chroma sample is the mean of its 2x2 block
	for pair := range p.cb {
		y0 := 2 * pair
		y1 := min(y0+1, mode.NumLines-1)
		p.cb[pair] = make([]float64, mode.ChromaWidth)
		p.cr[pair] = make([]float64, mode.ChromaWidth)
		for j := 0; j < mode.ChromaWidth; j++ {
			x0 := j * mode.ImgWidth / mode.ChromaWidth
			x1 := min(x0+1, mode.ImgWidth-1)
			p.cb[pair][j] = (cbFull[y0][x0] + cbFull[y0][x1] + cbFull[y1][x0] + cbFull[y1][x1]) / 4
			p.cr[pair][j] = (crFull[y0][x0] + crFull[y0][x1] + crFull[y1][x0] + crFull[y1][x1]) / 4
		}
	}
	return p
}

// chroma returns the chroma row transmitted on the given line
func (p *ycbcrPlanes) chroma(line int, mode *ModeSpec) []float64 {
	if mode.ChromaChannel(line) == ChannelCr {
		return p.cr[line/2]
	}
	return p.cb[line/2]
}
