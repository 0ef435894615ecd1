// Package listening implements the active listening monitor: it samples
// audio level during bot playback, distinguishes speech from ambient noise,
// escalates repeated speech to an urgent interruption, and signals
// cancellation.
//
// Grounded on the original Python ActiveListeningMonitor
// (audio/active_listening_monitor.py) for the dB thresholds and urgency
// window, adapted to consume RMS samples the way the teacher's
// pkg/orchestrator/vad.go RMSVAD already computes them (20*log10(rms)).
package listening

import (
	"math"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

const (
	// SpeechDBThreshold: level above baseline past this many dB is speech.
	SpeechDBThreshold = -30.0
	// AmbientDBThreshold: level above baseline past this (but below speech) is ambient noise.
	AmbientDBThreshold = -50.0

	urgentRepeatCount = 2
	urgentWindow      = 2 * time.Second

	// DetectionWindow is the nominal sampling cadence callers should drive
	// Sample at; the monitor itself is cadence-agnostic.
	DetectionWindow = 100 * time.Millisecond
)

// RMSToDB converts a linear RMS amplitude (0..1) to dB, matching the
// teacher's RMSVAD output converted for this monitor's thresholds. Silence
// (rms == 0) maps to a very low floor rather than -Inf.
func RMSToDB(rms float64) float64 {
	if rms <= 0 {
		return -120.0
	}
	return 20 * math.Log10(rms)
}

// Monitor samples audio level and classifies interruptions against a
// calibrated baseline.
type Monitor struct {
	mu               sync.Mutex
	monitoring       bool
	baselineNoiseDB  float64
	recentSpeechTS   []time.Time

	totalInterruptions  int64
	speechInterruptions int64
	urgentInterruptions int64

	callbacks []func(pipeline.InterruptionEvent)
}

// New builds a Monitor with the default -60 dB calibrated baseline.
func New() *Monitor {
	return &Monitor{baselineNoiseDB: -60.0}
}

// RegisterCallback subscribes a listener to InterruptionEvents.
func (m *Monitor) RegisterCallback(cb func(pipeline.InterruptionEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Start marks the monitor active. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitoring = true
}

// Stop marks the monitor inactive. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitoring = false
}

// Calibrate sets the baseline noise level directly from a caller-supplied
// median of recent ambient samples.
func (m *Monitor) Calibrate(baselineDB float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselineNoiseDB = baselineDB
}

// Sample classifies one audio-level reading and, for non-Silence samples,
// emits an InterruptionEvent to registered callbacks.
func (m *Monitor) Sample(audioLevelDB float64) pipeline.InterruptionEvent {
	m.mu.Lock()
	relative := audioLevelDB - m.baselineNoiseDB

	var event pipeline.InterruptionEvent
	switch {
	case relative > SpeechDBThreshold:
		confidence := (relative - SpeechDBThreshold) / 20.0
		if confidence > 1 {
			confidence = 1
		}
		event = pipeline.InterruptionEvent{
			Type:         pipeline.InterruptionSpeech,
			Confidence:   confidence,
			AudioLevelDB: audioLevelDB,
			Timestamp:    time.Now(),
			ShouldStop:   true,
		}

		now := time.Now()
		m.recentSpeechTS = append(m.recentSpeechTS, now)
		cutoff := now.Add(-urgentWindow)
		kept := m.recentSpeechTS[:0]
		for _, ts := range m.recentSpeechTS {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		m.recentSpeechTS = kept

		if len(m.recentSpeechTS) >= urgentRepeatCount {
			event.Type = pipeline.InterruptionUrgent
			event.Confidence = math.Min(1.0, event.Confidence+0.2)
		}

	case relative > AmbientDBThreshold:
		event = pipeline.InterruptionEvent{
			Type:         pipeline.InterruptionAmbient,
			Confidence:   0.5,
			AudioLevelDB: audioLevelDB,
			Timestamp:    time.Now(),
			ShouldStop:   false,
		}

	default:
		event = pipeline.InterruptionEvent{
			Type:         pipeline.InterruptionSilence,
			Confidence:   0.0,
			AudioLevelDB: audioLevelDB,
			Timestamp:    time.Now(),
			ShouldStop:   false,
		}
	}
	m.mu.Unlock()

	if event.Type != pipeline.InterruptionSilence {
		m.emit(event)
	}
	return event
}

func (m *Monitor) emit(event pipeline.InterruptionEvent) {
	m.mu.Lock()
	m.totalInterruptions++
	switch event.Type {
	case pipeline.InterruptionSpeech:
		m.speechInterruptions++
	case pipeline.InterruptionUrgent:
		m.urgentInterruptions++
	}
	callbacks := append([]func(pipeline.InterruptionEvent){}, m.callbacks...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(event)
	}
}

// Stats is a read-only snapshot of monitoring counters.
type Stats struct {
	IsMonitoring        bool
	TotalInterruptions  int64
	SpeechInterruptions int64
	UrgentInterruptions int64
	BaselineNoiseDB     float64
	CallbacksRegistered int
}

// Stats returns the current counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		IsMonitoring:        m.monitoring,
		TotalInterruptions:  m.totalInterruptions,
		SpeechInterruptions: m.speechInterruptions,
		UrgentInterruptions: m.urgentInterruptions,
		BaselineNoiseDB:     m.baselineNoiseDB,
		CallbacksRegistered: len(m.callbacks),
	}
}
