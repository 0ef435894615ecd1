package silence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

func TestMarkSentenceEnd_FirstCallHasNoGap(t *testing.T) {
	m := New()
	_, ok := m.MarkSentenceEnd("turn-1")
	assert.False(t, ok)
}

func TestMarkSentenceEnd_ShortGap(t *testing.T) {
	m := New()
	m.MarkSentenceEnd("turn-1")
	time.Sleep(10 * time.Millisecond)
	event, ok := m.MarkSentenceEnd("turn-1")
	require.True(t, ok)
	assert.Equal(t, pipeline.SilenceShort, event.Type)
	assert.False(t, event.ShouldFill)
}

func TestMarkSentenceEnd_LongGapShouldFill(t *testing.T) {
	m := New()
	m.MarkSentenceEnd("turn-1")
	time.Sleep(1100 * time.Millisecond)
	event, ok := m.MarkSentenceEnd("turn-1")
	require.True(t, ok)
	assert.Equal(t, pipeline.SilenceLong, event.Type)
	assert.True(t, event.ShouldFill)
}

func TestClassify_Boundaries(t *testing.T) {
	assert.Equal(t, pipeline.SilenceShort, classify(100*time.Millisecond, "").Type)
	assert.Equal(t, pipeline.SilenceMedium, classify(700*time.Millisecond, "").Type)
	assert.Equal(t, pipeline.SilenceLong, classify(1500*time.Millisecond, "").Type)
	assert.Equal(t, pipeline.SilenceCritical, classify(2500*time.Millisecond, "").Type)
}

func TestReset_ClearsAnchor(t *testing.T) {
	m := New()
	m.MarkSentenceEnd("turn-1")
	m.Reset()
	_, ok := m.MarkSentenceEnd("turn-2")
	assert.False(t, ok)
}

func TestStats_TracksGapDistribution(t *testing.T) {
	m := New()
	m.MarkSentenceEnd("t")
	time.Sleep(10 * time.Millisecond)
	m.MarkSentenceEnd("t")

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.TotalGaps)
	assert.Equal(t, int64(1), stats.ShortGaps)
	assert.Equal(t, 0.0, stats.UncomfortableRate)
}
