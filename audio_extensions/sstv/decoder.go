package sstv

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

/*
 * SSTV Decoder - Main Orchestration
 * Flow: VIS detection -> line sync tracking -> video demodulation -> optional FSK ID
 *
 * Samples are pushed in arbitrary chunks. The decoder keeps only a trailing
 * window of a few line periods and works through the frame as soon as enough
 * of the stream has arrived: line n is demodulated once the sync pulse of line
 * n+1 has been searched for, so its timing uses the best drift estimate.
 *
 * Copyright (c) 2026, UberSDR project
 */

// DecoderState represents the current state of the decoder
type DecoderState int

const (
	StateSearchingHeader DecoderState = iota
	StateHeaderLocked
	StateDecodingLines
	StateComplete
	StateAborted
)

func (s DecoderState) String() string {
	switch s {
	case StateSearchingHeader:
		return "searching_header"
	case StateHeaderLocked:
		return "header_locked"
	case StateDecodingLines:
		return "decoding_lines"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// decodeChunkTime is the chunk length used when decoding recorded signals
const decodeChunkTime = 0.1

var errClosed = errors.New("sstv: decoder closed")

type pendingLine struct {
	line int
	edge float64
}

// Decoder decodes one Robot 36 transmission from a stream of samples
type Decoder struct {
	cfg        Config
	sampleRate float64
	fullScale  float64
	logger     *log.Logger
	metrics    *Metrics

	state  DecoderState
	err    error
	closed bool

	buf   *SlidingPCMBuffer
	demod *FrequencyDemodulator
	meter *syncMeter
	vis   *VISDetector

	header *VISHeader
	mode   *ModeSpec
	sync   *SyncDetector
	video  *VideoDemodulator
	asm    *ImageAssembler

	nextLine  int
	pending   *pendingLine
	missedRun int
	frameEnd  float64
	fskID     string

	frame *DecodedFrame
}

// NewDecoder creates a decoder for audio at cfg.SampleRate and cfg.BitDepth
func NewDecoder(cfg Config) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rate := float64(cfg.SampleRate)
	demod := NewFrequencyDemodulator(rate, Robot36.LumaPixelTime())
	meter := newSyncMeter(rate, Robot36.SyncTime)

	d := &Decoder{
		cfg:        cfg,
		sampleRate: rate,
		fullScale:  fullScale(cfg.BitDepth),
		logger:     cfg.logger().With("session", uuid.NewString()),
		metrics:    cfg.Metrics,
		state:      StateSearchingHeader,
		buf:        NewSlidingPCMBuffer(2*meter.Window() + 4*demod.Delay() + 64),
		demod:      demod,
		meter:      meter,
		vis:        NewVISDetector(rate, demod.Delay()),
	}
	d.logger.Debug("Decoder created", "rate", cfg.SampleRate, "bits", cfg.BitDepth,
		"lag", demod.lag, "half", demod.half)
	return d, nil
}

// State returns the current decoder state
func (d *Decoder) State() DecoderState {
	return d.state
}

// Header returns the decoded VIS header, or nil before it is locked
func (d *Decoder) Header() *VISHeader {
	return d.header
}

// LinesDecoded returns the number of lines demodulated so far
func (d *Decoder) LinesDecoded() int {
	if d.asm == nil {
		return 0
	}
	return d.asm.Count()
}

// Done reports whether the decoder needs no more input
func (d *Decoder) Done() bool {
	switch d.state {
	case StateAborted:
		return true
	case StateComplete:
		return !d.cfg.DecodeFSKID || float64(d.buf.End()) >= d.frameEnd+d.fskBudget()
	}
	return false
}

func (d *Decoder) fskBudget() float64 {
	bit := fskBitTime * d.sampleRate
	return (fskSearchSteps/2 + 6*(fskMaxChars+1)) * bit
}

// Write pushes samples into the decoder. It returns an error once the header
// has failed; after that, and after the frame is finished, samples are
// ignored.
func (d *Decoder) Write(samples []int16) error {
	if d.closed {
		return errClosed
	}
	if d.Done() {
		return d.err
	}
	d.buf.Write(samples, d.fullScale)
	d.meter.Advance(d.buf)
	d.demod.Advance(d.buf, false)
	return d.process(false)
}

// Close marks the end of the stream and returns the decoded frame. The frame
// is returned for aborted decodes as well; the error is set only when no
// header was acquired.
func (d *Decoder) Close() (*DecodedFrame, error) {
	if d.closed {
		return d.frame, d.err
	}
	d.closed = true

	if !d.Done() {
		d.demod.Advance(d.buf, true)
		_ = d.process(true)
	}
	if d.state == StateComplete && d.cfg.DecodeFSKID {
		d.decodeFSKID()
	}

	d.frame = d.result()
	d.metrics.frameDone(d.frame)
	return d.frame, d.err
}

func (d *Decoder) process(final bool) error {
	for {
		switch d.state {
		case StateSearchingHeader:
			hdr, err := d.vis.Scan(d.buf, final)
			if err != nil {
				d.fail(err, "invalid_header")
				return d.err
			}
			if hdr == nil {
				timeout := float64(d.cfg.HeaderTimeoutLines) * Robot36.LineTime * d.sampleRate
				if final || (d.vis.Searching() && float64(d.buf.FreqEnd()) > timeout) {
					d.fail(fmt.Errorf("%w after %.1fs", ErrNoSignalDetected,
						float64(d.buf.FreqEnd())/d.sampleRate), "no_signal")
					return d.err
				}
				d.buf.Discard(d.vis.KeepFrom())
				return nil
			}
			d.lock(hdr)

		case StateHeaderLocked, StateDecodingLines:
			if !d.step(final) {
				d.trim()
				return nil
			}

		default:
			if d.state == StateComplete {
				d.buf.Discard(int(d.frameEnd) - d.meter.Window())
			}
			return nil
		}
	}
}

func (d *Decoder) fail(err error, reason string) {
	d.state = StateAborted
	d.err = err
	d.metrics.headerFailed(reason)
	d.logger.Warn("Header not acquired", "err", err)
}

func (d *Decoder) lock(hdr *VISHeader) {
	d.header = hdr
	d.mode = hdr.Mode
	d.state = StateHeaderLocked
	d.sync = NewSyncDetector(d.mode, d.sampleRate, hdr, d.cfg, d.meter.Window(), d.demod.Delay())
	d.video = NewVideoDemodulator(d.mode, d.sampleRate)
	d.asm = NewImageAssembler(d.mode)

	d.logger.Info("VIS detected",
		"mode", d.mode.Name,
		"vis", fmt.Sprintf("0x%02x", uint8(hdr.Code)),
		"shift", fmt.Sprintf("%.1fHz", hdr.Shift),
		"snr", fmt.Sprintf("%.1fdB", hdr.SNR),
	)
}

// step makes one decision about the next line. It returns false when more
// input is needed.
func (d *Decoder) step(final bool) bool {
	m := d.mode
	if d.nextLine >= m.NumLines {
		if p := d.pending; p != nil && !final &&
			d.video.LineEnd(p.edge, d.sync.Scale()) >= float64(d.buf.FreqEnd()) {
			return false
		}
		d.decodePending()
		d.complete()
		return true
	}

	if !final && !d.sync.Ready(d.buf, d.nextLine) {
		return false
	}
	d.state = StateDecodingLines

	if final && d.sync.Exhausted(d.buf, d.nextLine) {
		d.decodePending()
		d.abort(fmt.Sprintf("stream ended at line %d", d.nextLine))
		return true
	}

	res := d.sync.Locate(d.buf, d.nextLine)
	if res.Found && res.Line < m.NumLines && d.sync.Accept(res) {
		d.decodePending()
		for line := d.nextLine; line < res.Line; line++ {
			d.lineLost(line)
		}
		if d.state != StateDecodingLines {
			return true
		}
		d.pending = &pendingLine{line: res.Line, edge: res.Edge}
		d.nextLine = res.Line + 1
		d.missedRun = 0
		return true
	}

	d.decodePending()
	d.lineLost(d.nextLine)
	d.nextLine++
	return true
}

func (d *Decoder) lineLost(line int) {
	d.missedRun++
	d.logger.Debug("Sync lost", "line", line, "missed", d.missedRun)
	if d.missedRun > d.cfg.MaxMissedLines && d.state == StateDecodingLines {
		d.abort(fmt.Sprintf("%d consecutive lines without sync", d.missedRun))
	}
}

func (d *Decoder) decodePending() {
	p := d.pending
	if p == nil {
		return
	}
	d.pending = nil

	line, err := d.video.DemodulateLine(d.buf, p.line, p.edge, d.sync.Scale(), d.header.Shift)
	if err != nil {
		d.logger.Debug("Line dropped", "line", p.line, "err", err)
		return
	}
	d.asm.Add(line)
	d.logger.Debug("Line decoded", "line", p.line, "sync", p.edge, "scale", d.sync.Scale())
}

func (d *Decoder) complete() {
	scale := d.sync.Scale()
	d.frameEnd = d.sync.Predict(d.mode.NumLines) - d.mode.SyncTime*d.sampleRate*scale
	d.state = StateComplete
	d.logger.Info("Frame complete",
		"lines", d.asm.Count(),
		"missing", d.mode.NumLines-d.asm.Count(),
		"drift", fmt.Sprintf("%.0fppm", (scale-1)*1e6),
	)
}

func (d *Decoder) abort(reason string) {
	d.state = StateAborted
	d.logger.Warn("Decode aborted", "reason", reason, "lines", d.asm.Count())
}

// trim releases samples no longer needed for line decoding
func (d *Decoder) trim() {
	period := d.mode.LineTime * d.sampleRate * d.sync.Scale()
	keep := d.sync.Predict(d.nextLine) - period/2 - float64(d.meter.Window()+d.demod.Delay())
	if p := d.pending; p != nil {
		keep = min(keep, p.edge-float64(d.demod.Delay()+1))
	}
	d.buf.Discard(int(keep))
}

func (d *Decoder) decodeFSKID() {
	fsk := NewFSKDecoder(d.sampleRate, d.header.Shift)
	id := fsk.Decode(d.buf, int(d.frameEnd))
	if id != "" {
		d.logger.Info("FSK ID decoded", "callsign", id)
	}
	d.fskID = id
}

func (d *Decoder) result() *DecodedFrame {
	f := &DecodedFrame{State: d.state}
	if d.header == nil || d.mode == nil {
		return f
	}
	f.Mode = d.mode
	f.VIS = d.header.Code
	f.Shift = d.header.Shift
	f.SNR = d.header.SNR
	f.Drift = d.sync.Scale()
	f.Image = d.asm.Finalize()
	f.SyncedLines = d.asm.Count()
	f.missing = d.asm.Missing()
	f.Complete = d.state == StateComplete && len(f.missing) == 0
	f.FSKID = d.fskID
	return f
}

// DecodeStream decodes samples from src until the frame is finished, src is
// closed or ctx is cancelled. The partial frame is returned on cancellation.
func (d *Decoder) DecodeStream(ctx context.Context, src <-chan []int16) (*DecodedFrame, error) {
	for !d.Done() {
		select {
		case <-ctx.Done():
			frame, err := d.Close()
			return frame, errors.Join(ctx.Err(), err)
		case samples, ok := <-src:
			if !ok {
				return d.Close()
			}
			if err := d.Write(samples); err != nil {
				return d.Close()
			}
		}
	}
	return d.Close()
}

// DecodeSignal decodes a recorded signal. cfg's sample rate and bit depth are
// taken from the signal.
func DecodeSignal(ctx context.Context, cfg Config, sig AudioSignal) (*DecodedFrame, error) {
	cfg.SampleRate = sig.SampleRate
	if sig.BitDepth != 0 {
		cfg.BitDepth = sig.BitDepth
	}
	d, err := NewDecoder(cfg)
	if err != nil {
		return nil, err
	}

	chunk := max(1, int(decodeChunkTime*float64(sig.SampleRate)))
	for off := 0; off < len(sig.Samples) && !d.Done(); off += chunk {
		if err := ctx.Err(); err != nil {
			frame, cerr := d.Close()
			return frame, errors.Join(err, cerr)
		}
		if err := d.Write(sig.Samples[off:min(off+chunk, len(sig.Samples))]); err != nil {
			break
		}
	}
	return d.Close()
}

// Decode decodes a recorded signal with the default configuration. It
// returns the image and whether every line had its own sync pulse.
func Decode(sig AudioSignal) (*Image, bool, error) {
	frame, err := DecodeSignal(context.Background(), DefaultConfig(), sig)
	if err != nil {
		return nil, false, err
	}
	return frame.Image, frame.Complete, nil
}
