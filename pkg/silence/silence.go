// Package silence implements the silence gap monitor: on each sentence
// boundary it measures elapsed time since the previous sentence's end and
// classifies the gap, flagging uncomfortable gaps for filler playback.
//
// Grounded on the original Python SilenceGapMonitor
// (monitoring/silence_gap_monitor.py), including its exact stat field names.
package silence

import (
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

const (
	shortThreshold    = 500 * time.Millisecond
	mediumThreshold   = 1000 * time.Millisecond
	longThreshold     = 2000 * time.Millisecond
)

// Monitor tracks inter-sentence gap timing for one turn at a time.
type Monitor struct {
	mu          sync.Mutex
	lastEnd     time.Time
	hasLast     bool

	totalGaps    int64
	shortGaps    int64
	mediumGaps   int64
	longGaps     int64
	criticalGaps int64
	gapSumMS     float64
	maxGapMS     float64
}

// New builds an empty Monitor.
func New() *Monitor {
	return &Monitor{}
}

// Reset clears the "previous sentence end" anchor, e.g. at the start of a
// new turn.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasLast = false
}

// MarkSentenceEnd records the current time as a sentence boundary and, if a
// previous boundary exists, classifies the elapsed gap.
func (m *Monitor) MarkSentenceEnd(context string) (pipeline.SilenceEvent, bool) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasLast {
		m.lastEnd = now
		m.hasLast = true
		return pipeline.SilenceEvent{}, false
	}

	gap := now.Sub(m.lastEnd)
	m.lastEnd = now

	event := classify(gap, context)

	m.totalGaps++
	gapMS := float64(gap.Milliseconds())
	m.gapSumMS += gapMS
	if gapMS > m.maxGapMS {
		m.maxGapMS = gapMS
	}
	switch event.Type {
	case pipeline.SilenceShort:
		m.shortGaps++
	case pipeline.SilenceMedium:
		m.mediumGaps++
	case pipeline.SilenceLong:
		m.longGaps++
	case pipeline.SilenceCritical:
		m.criticalGaps++
	}

	return event, true
}

func classify(gap time.Duration, context string) pipeline.SilenceEvent {
	event := pipeline.SilenceEvent{DurationMS: gap.Milliseconds(), Context: context}
	switch {
	case gap < shortThreshold:
		event.Type = pipeline.SilenceShort
		event.ShouldFill = false
	case gap < mediumThreshold:
		event.Type = pipeline.SilenceMedium
		event.ShouldFill = false
	case gap < longThreshold:
		event.Type = pipeline.SilenceLong
		event.ShouldFill = true
	default:
		event.Type = pipeline.SilenceCritical
		event.ShouldFill = true
	}
	return event
}

// Stats mirrors the original monitor's get_stats() field set.
type Stats struct {
	TotalGaps       int64
	ShortGaps       int64
	MediumGaps      int64
	LongGaps        int64
	CriticalGaps    int64
	AvgGapMS        float64
	MaxGapMS        float64
	UncomfortableRate float64
}

// Stats returns a read-only snapshot of gap counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := 0.0
	uncomfortable := 0.0
	if m.totalGaps > 0 {
		avg = m.gapSumMS / float64(m.totalGaps)
		uncomfortable = float64(m.longGaps+m.criticalGaps) / float64(m.totalGaps)
	}
	return Stats{
		TotalGaps:         m.totalGaps,
		ShortGaps:         m.shortGaps,
		MediumGaps:        m.mediumGaps,
		LongGaps:          m.longGaps,
		CriticalGaps:      m.criticalGaps,
		AvgGapMS:          avg,
		MaxGapMS:          m.maxGapMS,
		UncomfortableRate: uncomfortable,
	}
}
