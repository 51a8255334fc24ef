package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wit_speaker_active_sessions",
		Help: "Number of synthesis responses currently streaming",
	})

	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wit_speaker_requests_total",
		Help: "Total number of synthesis requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wit_speaker_request_latency_seconds",
		Help:    "Time from issuing a synthesis request to an accepted response",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wit_speaker_stream_duration_seconds",
		Help:    "Time spent downloading one synthesis response",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
	})

	forcedStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wit_speaker_forced_starts_total",
		Help: "Playbacks started because the download ended below the start watermark",
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wit_speaker_errors_total",
		Help: "Total number of reported errors",
	}, []string{"type"})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wit_speaker_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" (network) or "out" (decoder)
)

// SessionMetrics tracks metrics for a single playback request
type SessionMetrics struct {
	sessionID    string
	requestStart time.Time
	streamStart  time.Time
	streaming    bool
	mu           sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a playback request
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{sessionID: sessionID}
}

// RecordRequestStart records that the synthesis request is being issued
func (m *SessionMetrics) RecordRequestStart() {
	m.mu.Lock()
	m.requestStart = time.Now()
	m.mu.Unlock()
}

// RecordRequestEnd records whether the request was accepted
func (m *SessionMetrics) RecordRequestEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.requestStart.IsZero() {
		ttsLatency.Observe(time.Since(m.requestStart).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordStreamStart records that the response body started streaming
func (m *SessionMetrics) RecordStreamStart() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streaming {
		return
	}
	m.streaming = true
	m.streamStart = time.Now()
	activeSessions.Inc()
}

// RecordStreamEnd records that the response body is finished or abandoned
func (m *SessionMetrics) RecordStreamEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.streaming {
		return
	}
	m.streaming = false
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.streamStart).Seconds())
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordForcedStart records a playback forced to start below the watermark
func (m *SessionMetrics) RecordForcedStart() {
	forcedStarts.Inc()
}

// RecordError records a reported error
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
