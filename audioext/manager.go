package audioext

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cwsl/sstv/audio_extensions/sstv"
)

/*
 * Audio Extension Manager
 *
 * Serves audio extensions over a websocket. A client attaches an extension
 * with a JSON text message, streams audio as binary PCM packets and receives
 * the extension's binary results on the same connection. Each connection is
 * one session and runs at most one extension.
 *
 * Copyright (c) 2026, UberSDR project
 */

const (
	writeTimeout      = 5 * time.Second
	flushTimeout      = 30 * time.Second
	audioChanSize     = 1024
	resultChanSize    = 1024
	maxMessageSize    = 1 << 20
	defaultSampleRate = 48000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// AudioExtensionManager manages streaming audio extensions for websocket
// sessions
type AudioExtensionManager struct {
	activeExtensions   map[string]*ActiveAudioExtension
	activeExtensionsMu sync.RWMutex

	registry *AudioExtensionRegistry
	logger   *log.Logger
}

// ActiveAudioExtension represents a running audio extension instance
type ActiveAudioExtension struct {
	SessionID     string
	ExtensionName string
	Extension     sstv.AudioExtension
	SampleRate    int
	AudioChan     chan []int16
	ResultChan    chan []byte
	Running       bool
	StartedAt     time.Time

	conn      *clientConn
	forwarded chan struct{}
}

// clientConn serialises writes to a websocket connection
type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *clientConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// NewAudioExtensionManager creates a manager. A nil logger uses the default
// logger; a nil registerer skips metrics.
func NewAudioExtensionManager(registry *AudioExtensionRegistry, logger *log.Logger, reg prometheus.Registerer) *AudioExtensionManager {
	if logger == nil {
		logger = log.Default().WithPrefix("audioext")
	}
	aem := &AudioExtensionManager{
		activeExtensions: make(map[string]*ActiveAudioExtension),
		registry:         registry,
		logger:           logger,
	}
	if reg != nil {
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ubersdr",
			Subsystem: "audio_extensions",
			Name:      "active",
			Help:      "Number of running audio extensions",
		}, func() float64 {
			return float64(aem.GetActiveExtensionCount())
		})
	}
	return aem
}

// ServeHTTP upgrades the request and runs a session until the client leaves
func (aem *AudioExtensionManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		aem.logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxMessageSize)

	sessionID := uuid.NewString()
	conn := &clientConn{conn: ws}
	defer aem.RemoveSession(sessionID)

	pcm, err := NewPCMBinaryDecoder()
	if err != nil {
		aem.logger.Error("PCM decoder unavailable", "err", err)
		return
	}
	defer pcm.Close()

	aem.logger.Debug("Session connected", "session", sessionID, "remote", r.RemoteAddr)
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				aem.logger.Warn("Websocket read failed", "session", sessionID, "err", err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			var msg map[string]interface{}
			if err := json.Unmarshal(data, &msg); err != nil {
				aem.sendError(conn, "invalid JSON message")
				continue
			}
			if err := aem.handleExtensionMessage(sessionID, conn, msg); err != nil {
				aem.sendError(conn, err.Error())
			}

		case websocket.BinaryMessage:
			if err := aem.feedAudio(sessionID, pcm, data); err != nil {
				aem.logger.Debug("Audio packet dropped", "session", sessionID, "err", err)
				aem.sendError(conn, err.Error())
			}
		}
	}
}

// handleExtensionMessage processes audio extension control messages from clients
func (aem *AudioExtensionManager) handleExtensionMessage(sessionID string, conn *clientConn, msg map[string]interface{}) error {
	msgType, ok := msg["type"].(string)
	if !ok {
		return fmt.Errorf("invalid message type")
	}

	switch msgType {
	case "audio_extension_attach":
		return aem.handleAttach(sessionID, conn, msg)
	case "audio_extension_detach":
		return aem.handleDetach(sessionID, conn)
	case "audio_extension_status":
		return aem.handleStatus(sessionID, conn)
	case "audio_extension_list":
		return aem.sendTextMessage(conn, map[string]interface{}{
			"type":       "audio_extension_list",
			"extensions": aem.registry.List(),
		})
	default:
		return fmt.Errorf("unknown audio extension message type: %s", msgType)
	}
}

// handleAttach creates and starts an extension for the session, replacing
// any extension already running
func (aem *AudioExtensionManager) handleAttach(sessionID string, conn *clientConn, msg map[string]interface{}) error {
	extensionName, ok := msg["extension_name"].(string)
	if !ok || extensionName == "" {
		return fmt.Errorf("extension_name is required")
	}

	extensionParams := make(map[string]interface{})
	if params, ok := msg["params"].(map[string]interface{}); ok {
		extensionParams = params
	}
	if _, ok := extensionParams["logger"]; !ok {
		extensionParams["logger"] = aem.logger.With("session", sessionID, "extension", extensionName)
	}
	sampleRate := defaultSampleRate
	if v, ok := msg["sample_rate"].(float64); ok {
		sampleRate = int(v)
	}

	aem.activeExtensionsMu.Lock()
	existing, exists := aem.activeExtensions[sessionID]
	delete(aem.activeExtensions, sessionID)
	aem.activeExtensionsMu.Unlock()
	if exists {
		aem.logger.Info("Replacing extension", "session", sessionID, "old", existing.ExtensionName, "new", extensionName)
		aem.stopExtension(existing, false)
	}

	audioParams := sstv.AudioExtensionParams{
		SampleRate:    sampleRate,
		Channels:      1,
		BitsPerSample: 16,
	}
	extension, err := aem.registry.Create(extensionName, audioParams, extensionParams)
	if err != nil {
		return fmt.Errorf("failed to create extension: %w", err)
	}

	active := &ActiveAudioExtension{
		SessionID:     sessionID,
		ExtensionName: extensionName,
		Extension:     extension,
		SampleRate:    sampleRate,
		AudioChan:     make(chan []int16, audioChanSize),
		ResultChan:    make(chan []byte, resultChanSize),
		Running:       true,
		StartedAt:     time.Now(),
		conn:          conn,
		forwarded:     make(chan struct{}),
	}
	if err := extension.Start(active.AudioChan, active.ResultChan); err != nil {
		return fmt.Errorf("failed to start extension: %w", err)
	}

	aem.activeExtensionsMu.Lock()
	aem.activeExtensions[sessionID] = active
	aem.activeExtensionsMu.Unlock()

	go aem.forwardResults(active)

	aem.logger.Info("Extension attached", "session", sessionID, "extension", extensionName,
		"rate", sampleRate, "active", aem.GetActiveExtensionCount())

	return aem.sendTextMessage(conn, map[string]interface{}{
		"type":           "audio_extension_attached",
		"extension_name": extensionName,
		"session_id":     sessionID,
		"started_at":     active.StartedAt.Format(time.RFC3339),
	})
}

// handleDetach ends the audio stream and waits for the extension to report
// its last results before confirming
func (aem *AudioExtensionManager) handleDetach(sessionID string, conn *clientConn) error {
	aem.activeExtensionsMu.Lock()
	active, exists := aem.activeExtensions[sessionID]
	delete(aem.activeExtensions, sessionID)
	aem.activeExtensionsMu.Unlock()
	if !exists {
		return fmt.Errorf("no active audio extension")
	}

	aem.stopExtension(active, true)
	aem.logger.Info("Extension detached", "session", sessionID, "extension", active.ExtensionName)

	return aem.sendTextMessage(conn, map[string]interface{}{
		"type": "audio_extension_detached",
	})
}

func (aem *AudioExtensionManager) handleStatus(sessionID string, conn *clientConn) error {
	aem.activeExtensionsMu.RLock()
	active, exists := aem.activeExtensions[sessionID]
	aem.activeExtensionsMu.RUnlock()

	if !exists {
		return aem.sendTextMessage(conn, map[string]interface{}{
			"type":   "audio_extension_status",
			"active": false,
		})
	}

	return aem.sendTextMessage(conn, map[string]interface{}{
		"type":           "audio_extension_status",
		"active":         true,
		"extension_name": active.ExtensionName,
		"sample_rate":    active.SampleRate,
		"started_at":     active.StartedAt.Format(time.RFC3339),
		"uptime_sec":     int(time.Since(active.StartedAt).Seconds()),
	})
}

// feedAudio decodes a PCM packet and hands it to the session's extension
func (aem *AudioExtensionManager) feedAudio(sessionID string, dec *PCMBinaryDecoder, data []byte) error {
	aem.activeExtensionsMu.RLock()
	active, exists := aem.activeExtensions[sessionID]
	aem.activeExtensionsMu.RUnlock()
	if !exists {
		return fmt.Errorf("no active audio extension")
	}

	pkt, err := dec.Decode(data)
	if err != nil {
		return err
	}
	if pkt.Channels != 1 {
		return fmt.Errorf("extensions require mono audio (got %d channels)", pkt.Channels)
	}
	if pkt.SampleRate != active.SampleRate {
		return fmt.Errorf("audio at %d Hz but extension attached at %d Hz", pkt.SampleRate, active.SampleRate)
	}

	select {
	case active.AudioChan <- pkt.Samples:
		return nil
	case <-extensionDone(active.Extension):
		return fmt.Errorf("audio extension has stopped")
	}
}

// forwardResults forwards binary extension results to the client until the
// result channel is closed
func (aem *AudioExtensionManager) forwardResults(active *ActiveAudioExtension) {
	defer close(active.forwarded)
	failed := false
	for binaryData := range active.ResultChan {
		if failed {
			continue
		}
		if err := active.conn.write(websocket.BinaryMessage, binaryData); err != nil {
			aem.logger.Warn("Failed to send result", "session", active.SessionID, "err", err)
			failed = true
		}
	}
}

// extensionDone returns a channel closed when the extension's processing
// loop has exited, or nil if the extension does not report it
func extensionDone(ext sstv.AudioExtension) <-chan struct{} {
	if d, ok := ext.(interface{ Done() <-chan struct{} }); ok {
		return d.Done()
	}
	return nil
}

// stopExtension shuts an extension down. With flush set the audio channel is
// closed first so the extension can finish the transmission in progress.
func (aem *AudioExtensionManager) stopExtension(active *ActiveAudioExtension, flush bool) {
	if !active.Running {
		return
	}
	active.Running = false

	close(active.AudioChan)
	if done := extensionDone(active.Extension); flush && done != nil {
		select {
		case <-done:
		case <-time.After(flushTimeout):
			aem.logger.Warn("Extension did not finish in time", "session", active.SessionID)
		}
	}
	if err := active.Extension.Stop(); err != nil {
		aem.logger.Error("Error stopping extension", "session", active.SessionID, "err", err)
	}

	close(active.ResultChan)
	<-active.forwarded
}

// RemoveSession stops the extension of a disconnected session
func (aem *AudioExtensionManager) RemoveSession(sessionID string) {
	aem.activeExtensionsMu.Lock()
	active, exists := aem.activeExtensions[sessionID]
	delete(aem.activeExtensions, sessionID)
	aem.activeExtensionsMu.Unlock()

	if exists {
		aem.logger.Info("Removing extension for disconnected session", "session", sessionID)
		aem.stopExtension(active, false)
	}
}

// sendTextMessage sends a JSON text message to the client
func (aem *AudioExtensionManager) sendTextMessage(conn *clientConn, message map[string]interface{}) error {
	messageJSON, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return conn.write(websocket.TextMessage, messageJSON)
}

func (aem *AudioExtensionManager) sendError(conn *clientConn, errorMsg string) {
	if err := aem.sendTextMessage(conn, map[string]interface{}{
		"type":  "audio_extension_error",
		"error": errorMsg,
	}); err != nil {
		aem.logger.Debug("Failed to send error", "err", err)
	}
}

// GetActiveExtensionCount returns the number of active audio extensions
func (aem *AudioExtensionManager) GetActiveExtensionCount() int {
	aem.activeExtensionsMu.RLock()
	defer aem.activeExtensionsMu.RUnlock()
	return len(aem.activeExtensions)
}
