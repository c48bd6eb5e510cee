package sstv

import "math"

// resonator is a single-bin DFT over the last len(ring) samples, updated
// every sample
type resonator struct {
	step  float64
	phase float64
	ring  []complex128
	pos   int
	acc   complex128
}

func newResonator(freq, sampleRate float64, n int) *resonator {
	return &resonator{
		step: 2 * math.Pi * freq / sampleRate,
		ring: make([]complex128, n),
	}
}

func (r *resonator) push(x float64) {
	s, c := math.Sincos(r.phase)
	v := complex(x*c, -x*s)
	r.acc += v - r.ring[r.pos]
	r.ring[r.pos] = v
	r.pos++
	if r.pos == len(r.ring) {
		r.pos = 0
		// resum to bound rounding error
		r.acc = 0
		for _, u := range r.ring {
			r.acc += u
		}
	}
	r.phase = math.Mod(r.phase+r.step, 2*math.Pi)
}

func (r *resonator) power() float64 {
	return real(r.acc)*real(r.acc) + imag(r.acc)*imag(r.acc)
}

// syncMeter scores how much of the signal in a sync-length window is a
// 1200 Hz tone. A pure sync tone scores close to 1; video tones and noise
// score near or below 0.
type syncMeter struct {
	n         int
	sync      *resonator
	neighbors []*resonator
	energy    []float64
	pos       int
	sum       float64
}

func newSyncMeter(sampleRate, syncTime float64) *syncMeter {
	n := max(8, int(math.Round(syncTime*sampleRate)))
	m := &syncMeter{
		n:      n,
		sync:   newResonator(FreqSync, sampleRate, n),
		energy: make([]float64, n),
	}
	for _, f := range []float64{FreqBlack, FreqLeader, FreqWhite} {
		m.neighbors = append(m.neighbors, newResonator(f, sampleRate, n))
	}
	return m
}

// Window is the meter's length in samples
func (m *syncMeter) Window() int { return m.n }

func (m *syncMeter) push(x float64) float64 {
	e := x * x
	m.sum += e - m.energy[m.pos]
	m.energy[m.pos] = e
	m.pos++
	if m.pos == m.n {
		m.pos = 0
		m.sum = 0
		for _, v := range m.energy {
			m.sum += v
		}
	}

	m.sync.push(x)
	var strongest float64
	for _, r := range m.neighbors {
		r.push(x)
		strongest = math.Max(strongest, r.power())
	}

	norm := m.sum * float64(m.n) / 2
	if norm < minDemodEnergy {
		return 0
	}
	return (m.sync.power() - strongest) / norm
}

// Advance scores every sample of b that has not been scored yet
func (m *syncMeter) Advance(b *SlidingPCMBuffer) {
	for i := b.SyncEnd(); i < b.End(); i++ {
		b.sync = append(b.sync, m.push(b.Sample(i)))
	}
}
