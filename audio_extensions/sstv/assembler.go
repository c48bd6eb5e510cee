package sstv

import "fmt"

// DecodedFrame is the result of decoding one transmission
type DecodedFrame struct {
	Mode        *ModeSpec
	VIS         VISCode
	State       DecoderState
	Image       *Image
	Complete    bool    // every line had its own sync pulse
	SyncedLines int     // lines demodulated from their own sync
	Shift       float64 // tuning offset, Hz
	SNR         float64 // dB
	Drift       float64 // measured line period over nominal
	FSKID       string  // callsign sent after the image, if any

	missing []int
}

// Missing returns the lines that were filled in from their neighbours
func (f *DecodedFrame) Missing() []int {
	return append([]int(nil), f.missing...)
}

// LineErr returns ErrSyncLost for a line that had no sync pulse
func (f *DecodedFrame) LineErr(line int) error {
	for _, m := range f.missing {
		if m == line {
			return fmt.Errorf("line %d: %w", line, ErrSyncLost)
		}
	}
	return nil
}

// ImageAssembler collects scan lines and builds the final image
type ImageAssembler struct {
	mode   *ModeSpec
	luma   [][]float64
	chroma [][]float64 // per line, nil when the line is missing
	count  int
}

// NewImageAssembler creates an empty assembler for mode
func NewImageAssembler(mode *ModeSpec) *ImageAssembler {
	return &ImageAssembler{
		mode:   mode,
		luma:   make([][]float64, mode.NumLines),
		chroma: make([][]float64, mode.NumLines),
	}
}

// Add stores a demodulated line. Lines outside the frame are ignored.
func (a *ImageAssembler) Add(l ScanLine) {
	if l.Index < 0 || l.Index >= a.mode.NumLines {
		return
	}
	if a.luma[l.Index] == nil {
		a.count++
	}
	a.luma[l.Index] = l.Luma
	a.chroma[l.Index] = l.Chroma
}

// Count returns the number of lines added
func (a *ImageAssembler) Count() int {
	return a.count
}

// Missing returns the lines not yet added
func (a *ImageAssembler) Missing() []int {
	var out []int
	for y, row := range a.luma {
		if row == nil {
			out = append(out, y)
		}
	}
	return out
}

// Finalize fills missing lines and converts the frame to RGB. Missing luma is
// interpolated between the nearest lines above and below; missing chroma
// between the nearest lines carrying the same component. A frame with no
// lines at all is black.
func (a *ImageAssembler) Finalize() *Image {
	m := a.mode
	luma := fillRows(a.luma, m.ImgWidth, 0)

	pairs := (m.NumLines + 1) / 2
	cb := make([][]float64, pairs)
	cr := make([][]float64, pairs)
	for p := 0; p < pairs; p++ {
		cb[p] = a.chroma[2*p]
		if 2*p+1 < m.NumLines {
			cr[p] = a.chroma[2*p+1]
		}
	}
	cb = fillRows(cb, m.ChromaWidth, 128)
	cr = fillRows(cr, m.ChromaWidth, 128)

	img := NewImage(m.ImgWidth, m.NumLines)
	for y := 0; y < m.NumLines; y++ {
		for x := 0; x < m.ImgWidth; x++ {
			j := x * m.ChromaWidth / m.ImgWidth
			r, g, b := yCbCrToRGB(luma[y][x], cb[y/2][j], cr[y/2][j])
			img.setRGB(x, y, r, g, b)
		}
	}
	return img
}

// fillRows returns rows with nil entries replaced by a linear blend of the
// nearest present rows, the single nearest row at the edges, or fill when no
// row is present
func fillRows(rows [][]float64, width int, fill float64) [][]float64 {
	out := make([][]float64, len(rows))
	prev := -1
	for y := range rows {
		if rows[y] != nil {
			out[y] = rows[y]
			prev = y
			continue
		}
		next := -1
		for k := y + 1; k < len(rows); k++ {
			if rows[k] != nil {
				next = k
				break
			}
		}

		row := make([]float64, width)
		switch {
		case prev >= 0 && next >= 0:
			w := float64(y-prev) / float64(next-prev)
			for x := range row {
				row[x] = rows[prev][x]*(1-w) + rows[next][x]*w
			}
		case prev >= 0:
			copy(row, rows[prev])
		case next >= 0:
			copy(row, rows[next])
		default:
			for x := range row {
				row[x] = fill
			}
		}
		out[y] = row
	}
	return out
}
