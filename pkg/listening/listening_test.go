package listening

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

func TestSample_SilenceBelowAmbient(t *testing.T) {
	m := New()
	m.Calibrate(-60.0)
	event := m.Sample(-115.0)
	assert.Equal(t, pipeline.InterruptionSilence, event.Type)
	assert.False(t, event.ShouldStop)
}

func TestSample_AmbientDoesNotStop(t *testing.T) {
	m := New()
	m.Calibrate(-60.0)
	event := m.Sample(-95.0)
	assert.Equal(t, pipeline.InterruptionAmbient, event.Type)
	assert.False(t, event.ShouldStop)
}

func TestSample_SpeechTriggersStop(t *testing.T) {
	m := New()
	m.Calibrate(-60.0)
	event := m.Sample(-20.0)
	assert.Equal(t, pipeline.InterruptionSpeech, event.Type)
	assert.True(t, event.ShouldStop)
}

func TestSample_RepeatedSpeechEscalatesToUrgent(t *testing.T) {
	m := New()
	m.Calibrate(-60.0)
	m.Sample(-20.0)
	event := m.Sample(-20.0)
	assert.Equal(t, pipeline.InterruptionUrgent, event.Type)
}

func TestSample_OldSpeechFallsOutsideUrgentWindow(t *testing.T) {
	m := New()
	m.Calibrate(-60.0)
	m.recentSpeechTS = []time.Time{time.Now().Add(-3 * time.Second)}
	event := m.Sample(-20.0)
	assert.Equal(t, pipeline.InterruptionSpeech, event.Type)
}

func TestRegisterCallback_ReceivesNonSilenceEvents(t *testing.T) {
	m := New()
	m.Calibrate(-60.0)

	var mu sync.Mutex
	var received []pipeline.InterruptionType
	m.RegisterCallback(func(e pipeline.InterruptionEvent) {
		mu.Lock()
		received = append(received, e.Type)
		mu.Unlock()
	})

	m.Sample(-115.0) // silence, should not invoke callback
	m.Sample(-20.0)  // speech

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, pipeline.InterruptionSpeech, received[0])
}

func TestStats_ReflectsInterruptionCounts(t *testing.T) {
	m := New()
	m.Start()
	m.Calibrate(-60.0)
	m.Sample(-20.0)
	m.Sample(-20.0)

	stats := m.Stats()
	assert.True(t, stats.IsMonitoring)
	assert.Equal(t, int64(2), stats.TotalInterruptions)
	assert.Equal(t, int64(1), stats.UrgentInterruptions)
}

func TestRMSToDB_SilenceFloor(t *testing.T) {
	assert.Equal(t, -120.0, RMSToDB(0))
	assert.Less(t, RMSToDB(0.5), 0.0)
}
