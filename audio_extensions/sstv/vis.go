package sstv

import (
	"fmt"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/stat"
)

/*
 * VIS Code Encoding and Detection
 *
 * VIS (Vertical Interval Signaling) Code Structure:
 * - 300ms 1900 Hz leader
 * - 10ms 1200 Hz break
 * - 300ms 1900 Hz leader
 * - 30ms 1200 Hz start bit
 * - 7 x 30ms data bits, LSB first (1300 Hz = 1, 1100 Hz = 0)
 * - 30ms even parity bit
 * - 30ms 1200 Hz stop bit
 *
 * Detection segments a smoothed frequency trace into runs of leader, break
 * and other tones. Two leaders around a break locate the start bit. A run
 * that does not continue the pattern drops the search back to looking for a
 * first leader, so stray tones ahead of a header are skipped. Once the start
 * bit is found, both ends of the second leader are placed on the unsmoothed
 * trace; the leader length gives the header's time scale and the bits are
 * read from the centre of each bit period. Only a header whose bits cannot
 * be read is an error.
 *
 * Copyright (c) 2026, UberSDR project
 */

// VISCode is a 7-bit mode identifier
type VISCode uint8

// Parity returns the even parity bit for the code's seven data bits
func (c VISCode) Parity() uint8 {
	return uint8(bits.OnesCount8(uint8(c)&0x7f) & 1)
}

const (
	visLeaderTime = 300e-3
	visBreakTime  = 10e-3
	visBitTime    = 30e-3
	visDataBits   = 7
	visBitCount   = visDataBits + 3 // start, data, parity, stop

	// HeaderTime is the duration of a complete VIS header
	HeaderTime = 2*visLeaderTime + visBreakTime + visBitCount*visBitTime

	visJitter        = 0.05  // relative duration tolerance
	visLeaderMinimum = 0.5   // first leader may be cut short
	visLeaderTol     = 100.0 // Hz
	visBreakTol      = 100.0 // Hz
	visSyncBitTol    = 50.0  // Hz, start and stop bits
	visBitMinFreq    = 1000.0
	visBitMaxFreq    = 1400.0
	visBitAperture   = 0.4 // fraction of a bit averaged
	visMinRunTime    = 1e-3
	visSmoothTime    = 2e-3 // classification average
	visEdgeSideTime  = 1.5e-3
)

// EncodeVIS returns the header tone sequence for code
func EncodeVIS(code VISCode) []Tone {
	return headerTones(code, code.Parity())
}

func headerTones(code VISCode, parity uint8) []Tone {
	tones := make([]Tone, 0, 3+visBitCount)
	tones = append(tones,
		Tone{FreqLeader, visLeaderTime},
		Tone{FreqSync, visBreakTime},
		Tone{FreqLeader, visLeaderTime},
		Tone{FreqSync, visBitTime},
	)
	for i := 0; i < visDataBits; i++ {
		tones = append(tones, Tone{bitFreq(uint8(code>>i) & 1), visBitTime})
	}
	return append(tones, Tone{bitFreq(parity), visBitTime}, Tone{FreqSync, visBitTime})
}

func bitFreq(bit uint8) float64 {
	if bit == 1 {
		return FreqVISOne
	}
	return FreqVISZero
}

// VISHeader is a decoded header. Positions are absolute sample indices with
// tone boundaries falling half way between samples.
type VISHeader struct {
	Code      VISCode
	Mode      *ModeSpec
	Start     float64 // start bit boundary
	End       float64 // boundary after the stop bit
	TimeScale float64 // measured header duration over nominal
	Shift     float64 // measured leader frequency minus 1900 Hz
	SNR       float64 // dB, measured over the second leader
}

type toneClass int

const (
	classOther toneClass = iota
	classLeader
	classBreak
)

// toneRun is a run of samples of one tone class over [start, end)
type toneRun struct {
	class      toneClass
	start, end int
}

func (r toneRun) len() int { return r.end - r.start }

type visStage int

const (
	visIdle visStage = iota
	visGotLeader
	visGotBreak
	visGotStartBit
)

// VISDetector finds and decodes a VIS header in a frequency trace
type VISDetector struct {
	sampleRate float64
	delay      int
	minRun     int
	slack      float64
	side       int // samples averaged to confirm an edge
	margin     int // history kept before a run for placing its edge

	ring    []float64
	ringPos int
	ringSum float64
	filled  int

	pos       int
	cur       toneRun
	pendClass toneClass
	pendStart int
	pendLen   int

	stage    visStage
	leader   toneRun
	brk      toneRun
	leader2  toneRun
	startBit int
}

// NewVISDetector creates a detector. delay is the demodulator look-ahead,
// used to widen duration tolerances.
func NewVISDetector(sampleRate float64, delay int) *VISDetector {
	smooth := max(1, int(math.Round(visSmoothTime*sampleRate)))
	side := max(2, int(math.Round(visEdgeSideTime*sampleRate)))
	return &VISDetector{
		sampleRate: sampleRate,
		delay:      delay,
		minRun:     max(2, int(visMinRunTime*sampleRate), smooth+2*delay+2),
		slack:      0.5e-3*sampleRate + 2*float64(delay) + float64(smooth),
		side:       side,
		margin:     smooth + side + 3*delay + 8,
		ring:       make([]float64, smooth),
	}
}

func classify(f float64) toneClass {
	switch {
	case math.Abs(f-FreqLeader) <= visLeaderTol:
		return classLeader
	case math.Abs(f-FreqSync) <= visBreakTol:
		return classBreak
	}
	return classOther
}

// smoothed returns the mean of the trace over the last len(ring) samples
// including f
func (v *VISDetector) smoothed(f float64) float64 {
	v.ringSum += f - v.ring[v.ringPos]
	v.ring[v.ringPos] = f
	v.ringPos++
	if v.ringPos == len(v.ring) {
		v.ringPos = 0
		v.ringSum = 0
		for _, x := range v.ring {
			v.ringSum += x
		}
	}
	if v.filled < len(v.ring) {
		v.filled++
	}
	return v.ringSum / float64(v.filled)
}

func (v *VISDetector) within(run toneRun, nominal float64) bool {
	want := nominal * v.sampleRate
	return math.Abs(float64(run.len())-want) <= visJitter*want+v.slack
}

// Searching reports whether no part of a header has been seen yet
func (v *VISDetector) Searching() bool {
	return v.stage == visIdle
}

// KeepFrom is the oldest sample the detector may still read
func (v *VISDetector) KeepFrom() int {
	switch v.stage {
	case visGotBreak:
		return v.cur.start - v.margin
	case visGotStartBit:
		return v.leader2.start - v.margin
	}
	return v.pos - int(v.sampleRate)
}

// Scan consumes the frequency trace in b. It returns the header once fully
// received, or nil when more input is needed. With final set, the trace is
// complete and a partial header is an error.
func (v *VISDetector) Scan(b *SlidingPCMBuffer, final bool) (*VISHeader, error) {
	for v.stage != visGotStartBit && v.pos < b.FreqEnd() {
		c := classify(v.smoothed(b.Freq(v.pos)))
		if c == v.cur.class {
			v.pendLen = 0
		} else if v.pendLen == 0 || c != v.pendClass {
			v.pendClass, v.pendStart, v.pendLen = c, v.pos, 1
		} else {
			v.pendLen++
		}
		v.pos++

		if v.pendLen >= v.minRun {
			done := toneRun{class: v.cur.class, start: v.cur.start, end: v.pendStart}
			v.cur = toneRun{class: v.pendClass, start: v.pendStart}
			v.pendLen = 0
			v.advance(done)
		}
	}

	if v.stage != visGotStartBit {
		if final && v.stage != visIdle {
			return nil, fmt.Errorf("%w: stream ended inside header", ErrInvalidHeader)
		}
		return nil, nil
	}

	nominal := float64(v.leader2.len()) / (visLeaderTime * v.sampleRate)
	bitLen := visBitTime * v.sampleRate * nominal
	// Far enough to average the middle of the stop bit
	need := float64(v.startBit) + (visBitCount-0.5+visBitAperture/2)*bitLen + float64(len(v.ring)) + 2
	if float64(b.FreqEnd()) < need {
		if final {
			return nil, fmt.Errorf("%w: stream ended inside header", ErrInvalidHeader)
		}
		return nil, nil
	}
	return v.readBits(b)
}

// advance runs the header pattern over a finished tone run. A run that does
// not continue the pattern restarts the search from that run.
func (v *VISDetector) advance(run toneRun) {
	switch v.stage {
	case visGotLeader:
		if run.class == classBreak && v.within(run, visBreakTime) {
			v.brk = run
			v.stage = visGotBreak
			return
		}
	case visGotBreak:
		if run.class == classLeader && v.within(run, visLeaderTime) {
			v.leader2 = run
			v.startBit = run.end
			v.stage = visGotStartBit
			return
		}
	}

	v.stage = visIdle
	if run.class == classLeader && float64(run.len()) >= visLeaderMinimum*visLeaderTime*v.sampleRate {
		v.leader = run
		v.stage = visGotLeader
	}
}

// edge places a tone boundary found near the smoothed run boundary at on the
// unsmoothed trace, as the first crossing of thr confirmed by the mean tone
// on either side
func (v *VISDetector) edge(b *SlidingPCMBuffer, at int, thr float64, rising bool) (float64, bool) {
	from := at - len(v.ring) - 2*v.delay - 4
	to := min(at+v.delay+4, b.FreqEnd()-1)
	for from < to {
		t, ok := crossing(b, thr, from, to, rising)
		if !ok {
			return 0, false
		}
		j := int(t)
		before := stat.Mean(b.FreqRange(j-v.side-v.delay, j-v.delay), nil)
		after := stat.Mean(b.FreqRange(j+1+v.delay, j+1+v.delay+v.side), nil)
		if (rising && before < thr && after > thr) || (!rising && before > thr && after < thr) {
			return t, true
		}
		from = j + 1
	}
	return 0, false
}

func (v *VISDetector) readBits(b *SlidingPCMBuffer) (*VISHeader, error) {
	trim := v.leader2.len() / 10
	leader := b.FreqRange(v.leader2.start+trim, v.leader2.end-trim)
	shift := stat.Mean(leader, nil) - FreqLeader
	thr := (FreqLeader+FreqSync)/2 + shift

	edge, ok := v.edge(b, v.startBit, thr, false)
	if !ok {
		return nil, fmt.Errorf("%w: no start bit after leader", ErrInvalidHeader)
	}
	length := float64(v.leader2.len())
	if start, ok := v.edge(b, v.leader2.start, thr, true); ok {
		length = edge - start
	}
	scale := length / (visLeaderTime * v.sampleRate)
	bitLen := visBitTime * v.sampleRate * scale

	tone := func(bit int) float64 {
		center := edge + (float64(bit)+0.5)*bitLen
		half := visBitAperture / 2 * bitLen
		seg := b.FreqRange(int(math.Round(center-half)), int(math.Round(center+half))+1)
		return stat.Mean(seg, nil) - shift
	}

	if f := tone(0); !(math.Abs(f-FreqSync) <= visSyncBitTol) {
		return nil, fmt.Errorf("%w: start bit at %.0f Hz", ErrInvalidHeader, f)
	}
	if f := tone(visBitCount - 1); !(math.Abs(f-FreqSync) <= visSyncBitTol) {
		return nil, fmt.Errorf("%w: stop bit at %.0f Hz", ErrInvalidHeader, f)
	}

	var code VISCode
	var parity uint8
	for i := 0; i <= visDataBits; i++ {
		f := tone(i + 1)
		if !(f >= visBitMinFreq && f <= visBitMaxFreq) {
			return nil, fmt.Errorf("%w: bit %d at %.0f Hz", ErrInvalidHeader, i, f)
		}
		var bit uint8
		if f > FreqSync {
			bit = 1
		}
		if i < visDataBits {
			code |= VISCode(bit) << i
		} else {
			parity = bit
		}
	}
	if parity != code.Parity() {
		return nil, fmt.Errorf("%w: parity error for code 0x%02x", ErrInvalidHeader, uint8(code))
	}

	h := &VISHeader{
		Code:      code,
		Mode:      GetModeByVIS(code),
		Start:     edge,
		End:       edge + visBitCount*bitLen,
		TimeScale: scale,
		Shift:     shift,
		SNR:       estimateSNR(b, (v.leader2.start+v.leader2.end)/2, v.sampleRate, shift),
	}
	if h.Mode == nil {
		return h, fmt.Errorf("%w: unsupported mode VIS 0x%02x", ErrInvalidHeader, uint8(code))
	}
	return h, nil
}

// DecodeVIS finds and decodes the VIS header in a recorded signal
func DecodeVIS(sig AudioSignal) (*VISHeader, error) {
	if sig.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, sig.SampleRate)
	}
	rate := float64(sig.SampleRate)
	demod := NewFrequencyDemodulator(rate, Robot36.LumaPixelTime())
	det := NewVISDetector(rate, demod.Delay())
	buf := NewSlidingPCMBuffer(len(sig.Samples))
	buf.Write(sig.Samples, fullScale(sig.BitDepth))
	demod.Advance(buf, true)

	h, err := det.Scan(buf, true)
	if err != nil {
		return h, err
	}
	if h == nil {
		return nil, ErrNoSignalDetected
	}
	return h, nil
}
