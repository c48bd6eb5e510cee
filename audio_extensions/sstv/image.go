package sstv

import (
	"fmt"
	"image"
	"image/color"
)

// Image is an 8-bit RGB raster. Images returned by the decoder are not
// modified after they are handed out.
type Image struct {
	width  int
	height int
	pix    []uint8 // RGB triplets, row major
}

// NewImage allocates a black image
func NewImage(width, height int) *Image {
	return &Image{
		width:  width,
		height: height,
		pix:    make([]uint8, width*height*3),
	}
}

// Width returns the image width in pixels
func (m *Image) Width() int { return m.width }

// Height returns the image height in pixels
func (m *Image) Height() int { return m.height }

// RGBAt returns the pixel at (x, y)
func (m *Image) RGBAt(x, y int) (r, g, b uint8) {
	i := (y*m.width + x) * 3
	return m.pix[i], m.pix[i+1], m.pix[i+2]
}

// setRGB sets the pixel at (x, y)
func (m *Image) setRGB(x, y int, r, g, b uint8) {
	i := (y*m.width + x) * 3
	m.pix[i], m.pix[i+1], m.pix[i+2] = r, g, b
}

// Row returns a copy of one line as packed RGB
func (m *Image) Row(y int) []uint8 {
	row := make([]uint8, m.width*3)
	copy(row, m.pix[y*m.width*3:])
	return row
}

// ColorModel implements image.Image
func (m *Image) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image
func (m *Image) Bounds() image.Rectangle { return image.Rect(0, 0, m.width, m.height) }

// At implements image.Image
func (m *Image) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(m.Bounds())) {
		return color.RGBA{}
	}
	r, g, b := m.RGBAt(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// toModeImage validates src against mode and converts it to an Image.
// Translucent pixels are taken as composited over black.
func toModeImage(src image.Image, mode *ModeSpec) (*Image, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil image", ErrUnsupportedPixelFormat)
	}
	switch src.ColorModel() {
	case color.AlphaModel, color.Alpha16Model:
		return nil, fmt.Errorf("%w: alpha-only image", ErrUnsupportedPixelFormat)
	}

	b := src.Bounds()
	if b.Dx() != mode.ImgWidth || b.Dy() != mode.NumLines {
		return nil, fmt.Errorf("%w: got %dx%d, %s needs %dx%d", ErrInvalidImageDimensions,
			b.Dx(), b.Dy(), mode.Name, mode.ImgWidth, mode.NumLines)
	}

	if m, ok := src.(*Image); ok {
		return m, nil
	}

	out := NewImage(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.setRGB(x, y, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}
	return out, nil
}
