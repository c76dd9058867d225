package services

import (
	"math"
	"sync/atomic"
	"time"
)

// Metrics holds pipeline and websocket counters. One instance is created in
// main and shared by the loop and the handlers.
type Metrics struct {
	totalFrames     atomic.Int64
	captureFailures atomic.Int64
	detectorErrors  atomic.Int64
	totalLatency    atomic.Int64
	lastFrameTime   atomic.Int64
	fpsBits         atomic.Uint64
	eventsCreated   atomic.Int64
	eventErrors     atomic.Int64
	videoClients    atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64

	startedAt time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

func (m *Metrics) IncrementFrames() {
	m.totalFrames.Add(1)
	m.lastFrameTime.Store(time.Now().Unix())
}

func (m *Metrics) IncrementCaptureFailures() {
	m.captureFailures.Add(1)
}

func (m *Metrics) IncrementDetectorErrors() {
	m.detectorErrors.Add(1)
}

func (m *Metrics) IncrementEvents() {
	m.eventsCreated.Add(1)
}

func (m *Metrics) IncrementEventErrors() {
	m.eventErrors.Add(1)
}

func (m *Metrics) RecordLatency(duration time.Duration) {
	m.totalLatency.Add(duration.Milliseconds())
}

func (m *Metrics) SetFPS(fps float64) {
	m.fpsBits.Store(math.Float64bits(fps))
}

// AddVideoClients tracks connected MJPEG viewers.
func (m *Metrics) AddVideoClients(delta int) {
	m.videoClients.Add(int64(delta))
}

func (m *Metrics) GetTotalFrames() int64 {
	return m.totalFrames.Load()
}

func (m *Metrics) GetCaptureFailures() int64 {
	return m.captureFailures.Load()
}

func (m *Metrics) GetDetectorErrors() int64 {
	return m.detectorErrors.Load()
}

func (m *Metrics) GetEventsCreated() int64 {
	return m.eventsCreated.Load()
}

func (m *Metrics) GetEventErrors() int64 {
	return m.eventErrors.Load()
}

func (m *Metrics) GetFPS() float64 {
	return math.Float64frombits(m.fpsBits.Load())
}

func (m *Metrics) GetAvgLatency() float64 {
	frames := m.totalFrames.Load()
	if frames == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(frames)
}

// GetActiveClients counts video viewers and websocket clients.
func (m *Metrics) GetActiveClients() int {
	return int(m.videoClients.Load() + m.wsConnections.Load())
}

func (m *Metrics) GetLastFrameTime() int64 {
	return m.lastFrameTime.Load()
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startedAt)
}

func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
}

// DecrementWebSocketConnections decrements WebSocket connection count
func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
}

// GetWebSocketConnections returns current WebSocket connections
func (m *Metrics) GetWebSocketConnections() int64 {
	return m.wsConnections.Load()
}

func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
}

func (m *Metrics) IncrementWebSocketErrors() {
	m.wsErrors.Add(1)
}

// Snapshot returns every counter keyed by its JSON name.
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"total_frames":      m.GetTotalFrames(),
		"capture_failures":  m.GetCaptureFailures(),
		"detector_errors":   m.GetDetectorErrors(),
		"avg_latency_ms":    m.GetAvgLatency(),
		"fps":               m.GetFPS(),
		"last_frame_time":   m.GetLastFrameTime(),
		"events_created":    m.GetEventsCreated(),
		"event_errors":      m.GetEventErrors(),
		"active_clients":    m.GetActiveClients(),
		"video_clients":     m.videoClients.Load(),
		"system_uptime_sec": int(m.Uptime().Seconds()),
		"websocket": map[string]interface{}{
			"connections": m.wsConnections.Load(),
			"messages":    m.wsMessages.Load(),
			"errors":      m.wsErrors.Load(),
		},
	}
}
