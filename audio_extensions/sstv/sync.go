package sstv

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

/*
 * Sync Tracking
 *
 * Each line starts with a 9ms 1200 Hz pulse. The pulse for line n is searched
 * for in a window around the position predicted from the pulses found so far
 * and the candidate closest to the prediction is taken. The window never
 * reaches back past the end of the header or half a line past the previous
 * pulse. A straight line fitted through (line, sync end) gives both the
 * prediction and the sample clock drift, so a transmitter running slightly
 * fast or slow is followed without slant.
 *
 * The frequency trace only places a sync end to within a few samples. The
 * tones are phase continuous, so the 1200 Hz pulse and the 1500 Hz porch
 * fitted either side of it meet in phase at the boundary itself.
 *
 * Copyright (c) 2026, UberSDR project
 */

const (
	syncOutlierTime    = 1.5e-3 // max distance from the fitted line
	syncOutlierMinFit  = 3      // points needed before outliers are rejected
	syncMaxRejections  = 3      // consecutive rejections before re-seeding
	syncRegionFraction = 0.5    // of the threshold, bounds a detected pulse
	syncFitTime        = 2e-3   // tone fitted on each side of a sync end
)

// SyncResult is the outcome of one sync search
type SyncResult struct {
	Found bool
	Line  int     // line the pulse was attributed to
	Edge  float64 // sync end boundary, absolute sample position
	Score float64 // peak sync score
}

// SyncDetector locates line sync pulses and tracks timing drift
type SyncDetector struct {
	mode        *ModeSpec
	sampleRate  float64
	period      float64 // nominal line period, samples
	window      int     // sync meter length, samples
	delay       int     // demodulator look-ahead
	guard       int     // samples skipped each side of an edge when fitting
	fitLen      int
	threshold   float64
	searchLines int
	maxDrift    float64
	shift       float64
	origin      float64 // predicted sync end of line 0
	floor       float64 // earliest position searched

	lines      []float64
	edges      []float64
	slope      float64
	intercept  float64
	rejections int
}

// NewSyncDetector creates a tracker for the frame following hdr
func NewSyncDetector(mode *ModeSpec, sampleRate float64, hdr *VISHeader, cfg Config, window, delay int) *SyncDetector {
	guard := delay + 3
	fitLen := min(int(math.Round(syncFitTime*sampleRate)), int(mode.PorchTime*sampleRate)-guard-2)
	return &SyncDetector{
		mode:        mode,
		sampleRate:  sampleRate,
		period:      mode.LineTime * sampleRate,
		window:      window,
		delay:       delay,
		guard:       guard,
		fitLen:      max(4, fitLen),
		threshold:   cfg.SyncThreshold,
		searchLines: cfg.SyncSearchLines,
		maxDrift:    cfg.MaxDrift,
		shift:       hdr.Shift,
		origin:      hdr.End + mode.SyncTime*sampleRate,
		floor:       hdr.End,
	}
}

// Predict returns the expected sync end of a line
func (s *SyncDetector) Predict(line int) float64 {
	switch len(s.lines) {
	case 0:
		return s.origin + float64(line)*s.period
	case 1:
		return s.edges[0] + (float64(line)-s.lines[0])*s.period
	}
	return s.intercept + s.slope*float64(line)
}

// Scale is the measured line period over nominal, clamped to the drift limit
func (s *SyncDetector) Scale() float64 {
	if len(s.lines) < 2 {
		return 1
	}
	return math.Max(1-s.maxDrift, math.Min(1+s.maxDrift, s.slope/s.period))
}

// Points returns the number of pulses in the timing fit
func (s *SyncDetector) Points() int {
	return len(s.lines)
}

// searchWindow returns the sample range searched for a line's pulse
func (s *SyncDetector) searchWindow(line int) (lo, hi int) {
	pred := s.Predict(line)
	period := s.period * s.Scale()
	start := math.Max(pred-period/2, s.floor)
	return int(math.Floor(start)), int(math.Ceil(pred + float64(s.searchLines)*period))
}

// Ready reports whether b holds enough data to search for a line
func (s *SyncDetector) Ready(b *SlidingPCMBuffer, line int) bool {
	_, hi := s.searchWindow(line)
	return b.FreqEnd() >= hi+2*s.window
}

// Exhausted reports whether the stream ended before the line's window
func (s *SyncDetector) Exhausted(b *SlidingPCMBuffer, line int) bool {
	lo, _ := s.searchWindow(line)
	return lo >= b.End()
}

// Locate searches for the pulse of a line. Every pulse in the window is
// measured and the one ending closest to the prediction is returned,
// attributed to the line nearest its position.
func (s *SyncDetector) Locate(b *SlidingPCMBuffer, line int) SyncResult {
	lo, hi := s.searchWindow(line)
	lo = max(lo, b.Base())
	hi = min(hi, b.SyncEnd()-1)
	pred := s.Predict(line)

	var best SyncResult
	for n := lo; n <= hi; n++ {
		if b.Sync(n) < s.threshold {
			continue
		}

		// Extent of the pulse and its strongest point
		peak, score := n, b.Sync(n)
		end := n
		for end+1 < b.SyncEnd() && b.Sync(end+1) >= s.threshold*syncRegionFraction {
			end++
			if v := b.Sync(end); v >= score {
				peak, score = end, v
			}
		}
		n = end

		edge, ok := s.refine(b, peak, end)
		if !ok {
			// Pulse runs into the end of the data
			if end >= b.SyncEnd()-s.window {
				continue
			}
			edge = float64(peak) + 0.5
		}
		if !best.Found || math.Abs(edge-pred) < math.Abs(best.Edge-pred) {
			best = SyncResult{Found: true, Edge: edge, Score: score}
		}
	}

	if best.Found {
		attributed := line + int(math.Round((best.Edge-pred)/(s.period*s.Scale())))
		best.Line = max(line, attributed)
	}
	return best
}

// refine finds the sync-to-porch transition at the first rising midpoint
// crossing confirmed by the mean tone on either side
func (s *SyncDetector) refine(b *SlidingPCMBuffer, peak, end int) (float64, bool) {
	thr := (FreqSync+FreqBlack)/2 + s.shift
	from := peak - s.window/4
	to := min(end+s.window/4+s.delay, b.FreqEnd()-1)
	side := max(2, int(s.mode.PorchTime*s.sampleRate/2))

	for from < to {
		t, ok := crossing(b, thr, from, to, true)
		if !ok {
			return 0, false
		}
		j := int(t)
		before := stat.Mean(b.FreqRange(j-side-s.delay, j-s.delay), nil)
		after := stat.Mean(b.FreqRange(j+1+s.delay, j+1+s.delay+side), nil)
		if before < thr && after > thr {
			return s.phaseEdge(b, t), true
		}
		from = j + 1
	}
	return 0, false
}

// phaseEdge places the sync end near the trace crossing t where the pulse
// and porch tones fitted on either side agree in phase. The two tones drift
// apart by one cycle every sampleRate/300 samples, so the solution nearest t
// is taken. Falls back to t when the fits are unusable or land too far off.
func (s *SyncDetector) phaseEdge(b *SlidingPCMBuffer, t float64) float64 {
	o := int(math.Round(t))
	ws := 2 * math.Pi * (FreqSync + s.shift) / s.sampleRate
	wp := 2 * math.Pi * (FreqBlack + s.shift) / s.sampleRate

	ps, ok := tonePhase(b, ws, o, o-s.guard-s.fitLen, o-s.guard)
	if !ok {
		return t
	}
	pp, ok := tonePhase(b, wp, o, o+s.guard, o+s.guard+s.fitLen)
	if !ok {
		return t
	}

	// ws*u - ps = wp*u - pp (mod 2pi), u relative to o. The first porch
	// sample lies half a sample after the boundary.
	d := ws - wp
	cycle := 2 * math.Pi / d
	u := (ps - pp) / d
	target := t - float64(o) + 0.5
	u += math.Round((target-u)/cycle) * cycle

	edge := float64(o) + u - 0.5
	if math.Abs(edge-t) > float64(edgeSpan(s.delay)) {
		return t
	}
	return edge
}

// tonePhase least-squares fits a*cos(w(m-o)) + c*sin(w(m-o)) to the samples
// in [from, to) and returns p with x[m] ~ R*cos(w(m-o) - p)
func tonePhase(b *SlidingPCMBuffer, w float64, o, from, to int) (float64, bool) {
	var scc, sss, scs, xc, xs, energy float64
	for m := from; m < to; m++ {
		sn, cs := math.Sincos(w * float64(m-o))
		x := b.Sample(m)
		scc += cs * cs
		sss += sn * sn
		scs += sn * cs
		xc += x * cs
		xs += x * sn
		energy += x * x
	}
	det := scc*sss - scs*scs
	if det <= 0 || energy < minDemodEnergy {
		return 0, false
	}
	a := (xc*sss - xs*scs) / det
	c := (xs*scc - xc*scs) / det
	return math.Atan2(c, a), true
}

// Accept adds a located pulse to the timing fit. Pulses far from the fit
// are rejected until several in a row disagree with it, at which point the
// fit is restarted from the new pulse.
func (s *SyncDetector) Accept(res SyncResult) bool {
	if len(s.lines) >= syncOutlierMinFit {
		resid := math.Abs(res.Edge - s.Predict(res.Line))
		if resid > syncOutlierTime*s.sampleRate {
			s.rejections++
			if s.rejections < syncMaxRejections {
				return false
			}
			s.lines, s.edges = s.lines[:0], s.edges[:0]
		}
	}
	s.rejections = 0
	s.lines = append(s.lines, float64(res.Line))
	s.edges = append(s.edges, res.Edge)
	if len(s.lines) >= 2 {
		s.intercept, s.slope = stat.LinearRegression(s.lines, s.edges, nil, false)
	}
	s.floor = res.Edge + s.period*s.Scale()/2
	return true
}
