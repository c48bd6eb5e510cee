package sstv

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

/*
 * SSTV Extension Wrapper
 * Runs the decoder over a live audio stream and reports progress in the
 * binary result protocol. After each transmission, or when no header turns up
 * before the timeout, a fresh decoder takes over the stream.
 *
 * Copyright (c) 2026, UberSDR project
 */

// AudioExtensionParams contains audio stream parameters
type AudioExtensionParams struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// AudioExtension interface for extensible audio processors
type AudioExtension interface {
	Start(audioChan <-chan []int16, resultChan chan<- []byte) error
	Stop() error
	GetName() string
}

// SSTVExtension wraps the SSTV decoder as an AudioExtension
type SSTVExtension struct {
	config Config
	logger *log.Logger

	running  bool
	stopChan chan struct{}
	done     chan struct{}
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewSSTVExtension creates a new SSTV audio extension
func NewSSTVExtension(audioParams AudioExtensionParams, extensionParams map[string]interface{}) (*SSTVExtension, error) {
	if audioParams.Channels != 1 {
		return nil, fmt.Errorf("SSTV requires mono audio (got %d channels)", audioParams.Channels)
	}
	if audioParams.BitsPerSample != 16 {
		return nil, fmt.Errorf("SSTV requires 16-bit audio (got %d bits)", audioParams.BitsPerSample)
	}

	config := DefaultConfig()
	config.SampleRate = audioParams.SampleRate
	config.BitDepth = audioParams.BitsPerSample

	// Override with user parameters
	if decodeFSKID, ok := extensionParams["decode_fsk_id"].(bool); ok {
		config.DecodeFSKID = decodeFSKID
	}
	if v, ok := numberParam(extensionParams, "max_missed_lines"); ok {
		config.MaxMissedLines = int(v)
	}
	if v, ok := numberParam(extensionParams, "header_timeout_lines"); ok {
		config.HeaderTimeoutLines = int(v)
	}
	if v, ok := numberParam(extensionParams, "sync_threshold"); ok {
		config.SyncThreshold = v
	}
	if logger, ok := extensionParams["logger"].(*log.Logger); ok {
		config.Logger = logger
	}
	if metrics, ok := extensionParams["metrics"].(*Metrics); ok {
		config.Metrics = metrics
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.logger()
	logger.Info("Extension created",
		"rate", audioParams.SampleRate, "decode_fsk_id", config.DecodeFSKID,
		"max_missed_lines", config.MaxMissedLines)

	return &SSTVExtension{
		config:   config,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// numberParam reads an int or float parameter
func numberParam(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Start begins processing audio
func (e *SSTVExtension) Start(audioChan <-chan []int16, resultChan chan<- []byte) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("decoder already running")
	}
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.decodeLoop(audioChan, resultChan)
	return nil
}

// Stop stops the extension
func (e *SSTVExtension) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopChan)
	e.wg.Wait()
	return nil
}

// Done is closed once the decode loop has exited, either after the audio
// channel was closed and the last frame reported, or after Stop
func (e *SSTVExtension) Done() <-chan struct{} {
	return e.done
}

// GetName returns the extension name
func (e *SSTVExtension) GetName() string {
	return "sstv"
}

func send(resultChan chan<- []byte, msg []byte) {
	select {
	case resultChan <- msg:
	default:
		// Channel full, drop
	}
}

// decodeLoop runs decoders back to back until the audio ends or Stop is
// called
func (e *SSTVExtension) decodeLoop(audioChan <-chan []int16, resultChan chan<- []byte) {
	defer e.wg.Done()
	defer close(e.done)

	// Recent audio is replayed into the next decoder so a header that
	// straddles a restart is not lost
	tailLen := int(HeaderTime * 1.2 * float64(e.config.SampleRate))
	tail := make([]int16, 0, 2*tailLen)

	for {
		dec, err := NewDecoder(e.config)
		if err != nil {
			e.logger.Error("Failed to create decoder", "err", err)
			return
		}
		send(resultChan, statusMessage(StatusWaiting, "Waiting for signal..."))
		if len(tail) > 0 {
			_ = dec.Write(tail)
		}

		lastState, lastLines := dec.State(), 0
		for !dec.Done() {
			var samples []int16
			var ok bool
			select {
			case <-e.stopChan:
				dec.Close()
				return
			case samples, ok = <-audioChan:
			}
			if !ok {
				e.finish(dec, resultChan)
				return
			}

			tail = append(tail, samples...)
			if len(tail) > tailLen {
				tail = append(tail[:0], tail[len(tail)-tailLen:]...)
			}

			_ = dec.Write(samples)
			lastState, lastLines = e.report(dec, lastState, lastLines, resultChan)
		}
		if !e.finish(dec, resultChan) {
			tail = tail[:0]
		}
	}
}

// report sends progress messages for changes since the last call
func (e *SSTVExtension) report(dec *Decoder, lastState DecoderState, lastLines int, resultChan chan<- []byte) (DecoderState, int) {
	state := dec.State()
	if lastState == StateSearchingHeader && state != StateSearchingHeader && dec.Header() != nil {
		hdr := dec.Header()
		send(resultChan, modeDetectedMessage(hdr.Mode))
		send(resultChan, imageStartMessage(hdr.Mode))
		send(resultChan, statusMessage(StatusLocked, fmt.Sprintf("%s detected, shift %.0f Hz, SNR %.1f dB",
			hdr.Mode.Name, hdr.Shift, hdr.SNR)))
	}
	lines := dec.LinesDecoded()
	if lines > lastLines {
		send(resultChan, syncDetectedMessage(1))
		if lines/10 > lastLines/10 {
			send(resultChan, statusMessage(StatusLine, fmt.Sprintf("Decoding line %d", lines)))
		}
	}
	return state, lines
}

// finish closes a decoder and sends its results. It reports whether the
// recent audio should be replayed into the next decoder, which is only the
// case when the decoder gave up searching for a header.
func (e *SSTVExtension) finish(dec *Decoder, resultChan chan<- []byte) bool {
	frame, err := dec.Close()
	switch {
	case errors.Is(err, ErrNoSignalDetected):
		return true
	case err != nil:
		send(resultChan, statusMessage(StatusError, err.Error()))
		return false
	case frame == nil || frame.Image == nil:
		return false
	}

	for y := 0; y < frame.Image.Height(); y++ {
		send(resultChan, imageLineMessage(frame.Image, y))
	}
	if frame.State == StateAborted {
		send(resultChan, statusMessage(StatusAborted, fmt.Sprintf("Signal lost after %d lines", frame.SyncedLines)))
	}
	send(resultChan, completeMessage(frame.SyncedLines))
	if frame.FSKID != "" {
		send(resultChan, fskIDMessage(frame.FSKID))
	}
	return false
}
