package sstv

import "fmt"

/*
 * SSTV Mode Specifications
 *
 * Only Robot 36 is transmitted and decoded. The table keeps the same shape as
 * the other slowrx-derived mode records so more modes can be added by VIS code.
 *
 * Copyright (c) 2026, UberSDR project
 *
 * References:
 *   - Martin Bruchanov OK2MNM (2012, 2019): www.sstv-handbook.com/download/sstv_04.pdf
 *   - JL Barber N7CXI: "Proposal for SSTV Mode Specifications" (Dayton SSTV forum, 2000)
 */

// ChromaChannel identifies which colour difference component a line carries
type ChromaChannel uint8

const (
	ChannelCb ChromaChannel = iota // even lines
	ChannelCr                      // odd lines
)

func (c ChromaChannel) String() string {
	if c == ChannelCr {
		return "Cr"
	}
	return "Cb"
}

// ModeSpec defines the parameters for an SSTV mode. All times are in seconds.
type ModeSpec struct {
	Name      string  // Full mode name
	ShortName string  // Abbreviated name
	VIS       VISCode // 7-bit VIS code

	SyncTime        float64 // Line sync pulse duration (1200 Hz)
	PorchTime       float64 // Porch after sync (1500 Hz)
	LumaTime        float64 // Luminance scan duration
	SeptrTime       float64 // Separator after luminance (1500 Hz)
	ChromaPorchTime float64 // Porch before chrominance (1900 Hz)
	ChromaTime      float64 // Chrominance scan duration
	LineTime        float64 // Total line duration

	ImgWidth    int // Luminance samples per line
	ChromaWidth int // Chrominance samples per line
	NumLines    int // Number of lines
}

// Robot36 is the only mode this package implements
var Robot36 = &ModeSpec{
	Name:            "Robot 36",
	ShortName:       "R36",
	VIS:             0x08,
	SyncTime:        9e-3,
	PorchTime:       3e-3,
	LumaTime:        88e-3,
	SeptrTime:       4.5e-3,
	ChromaPorchTime: 1.5e-3,
	ChromaTime:      44e-3,
	LineTime:        150e-3,
	ImgWidth:        320,
	ChromaWidth:     160,
	NumLines:        240,
}

var modeSpecs = []*ModeSpec{Robot36}

// GetModeByVIS returns the mode for a VIS code, or nil if it is not supported
func GetModeByVIS(code VISCode) *ModeSpec {
	for _, m := range modeSpecs {
		if m.VIS == code {
			return m
		}
	}
	return nil
}

// Modes returns the supported modes
func Modes() []*ModeSpec {
	out := make([]*ModeSpec, len(modeSpecs))
	copy(out, modeSpecs)
	return out
}

// LumaStart is the offset of the luminance scan from the end of the sync pulse
func (m *ModeSpec) LumaStart() float64 {
	return m.PorchTime
}

// ChromaStart is the offset of the chrominance scan from the end of the sync pulse
func (m *ModeSpec) ChromaStart() float64 {
	return m.PorchTime + m.LumaTime + m.SeptrTime + m.ChromaPorchTime
}

// LumaPixelTime is the duration of one luminance sample
func (m *ModeSpec) LumaPixelTime() float64 {
	return m.LumaTime / float64(m.ImgWidth)
}

// ChromaPixelTime is the duration of one chrominance sample
func (m *ModeSpec) ChromaPixelTime() float64 {
	return m.ChromaTime / float64(m.ChromaWidth)
}

// ChromaChannel returns the component carried by the given line
func (m *ModeSpec) ChromaChannel(line int) ChromaChannel {
	if line%2 == 1 {
		return ChannelCr
	}
	return ChannelCb
}

// FrameTime is the duration of the image part of a transmission
func (m *ModeSpec) FrameTime() float64 {
	return m.LineTime * float64(m.NumLines)
}

// Info describes the mode for extension metadata
func (m *ModeSpec) Info() map[string]interface{} {
	return map[string]interface{}{
		"name":       m.Name,
		"short":      m.ShortName,
		"vis":        int(m.VIS),
		"resolution": fmt.Sprintf("%dx%d", m.ImgWidth, m.NumLines),
		"color":      "YUV",
		"line_ms":    m.LineTime * 1e3,
	}
}
