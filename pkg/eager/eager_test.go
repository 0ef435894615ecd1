package eager

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

type stubClassifier struct {
	tier       pipeline.Tier
	confidence float64
}

func (s stubClassifier) ScorePartial(text string) (pipeline.Tier, float64) {
	return s.tier, s.confidence
}

type stubPrewarmer struct {
	mu       sync.Mutex
	warmed   []pipeline.Tier
}

func (s *stubPrewarmer) Prewarm(tier pipeline.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warmed = append(s.warmed, tier)
}

func TestProcessPartial_TooFewWordsSkipsPrediction(t *testing.T) {
	p := New(stubClassifier{tier: pipeline.TierFast, confidence: 0.9}, nil, nil)
	_, ok := p.ProcessPartial("c1", "hola que")
	assert.False(t, ok)
}

func TestProcessPartial_LowConfidenceSkipsPrediction(t *testing.T) {
	p := New(stubClassifier{tier: pipeline.TierFast, confidence: 0.4}, nil, nil)
	_, ok := p.ProcessPartial("c1", "cual es la capital")
	assert.False(t, ok)
}

func TestProcessPartial_EmitsIntentAndPrewarms(t *testing.T) {
	var emittedTier pipeline.Tier
	var emittedConfidence float64
	prewarmer := &stubPrewarmer{}

	p := New(stubClassifier{tier: pipeline.TierBalanced, confidence: 0.75}, prewarmer, func(tier pipeline.Tier, confidence float64) {
		emittedTier = tier
		emittedConfidence = confidence
	})

	prediction, ok := p.ProcessPartial("c1", "cual es la capital de francia")
	require.True(t, ok)
	assert.Equal(t, pipeline.TierBalanced, prediction.Tier)
	assert.Equal(t, pipeline.TierBalanced, emittedTier)
	assert.InDelta(t, 0.75, emittedConfidence, 0.001)

	prewarmer.mu.Lock()
	defer prewarmer.mu.Unlock()
	require.Len(t, prewarmer.warmed, 1)
	assert.Equal(t, pipeline.TierBalanced, prewarmer.warmed[0])
}

func TestFinalize_UpdatesAccuracy(t *testing.T) {
	p := New(stubClassifier{tier: pipeline.TierFast, confidence: 0.9}, nil, nil)
	_, ok := p.ProcessPartial("c1", "dime la hora por favor")
	require.True(t, ok)

	p.Finalize("c1", pipeline.TierFast)
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.IntentPredictions)
	assert.Equal(t, int64(1), stats.CorrectPredictions)
	assert.Equal(t, 1.0, stats.Accuracy)
}

func TestFinalize_WrongPredictionLowersAccuracy(t *testing.T) {
	p := New(stubClassifier{tier: pipeline.TierFast, confidence: 0.9}, nil, nil)
	_, ok := p.ProcessPartial("c1", "dime la hora por favor")
	require.True(t, ok)

	p.Finalize("c1", pipeline.TierDeep)
	stats := p.Stats()
	assert.Equal(t, int64(0), stats.CorrectPredictions)
	assert.Equal(t, 0.0, stats.Accuracy)
}

func TestFinalize_UnknownCorrelationIsNoop(t *testing.T) {
	p := New(stubClassifier{tier: pipeline.TierFast, confidence: 0.9}, nil, nil)
	p.Finalize("unknown", pipeline.TierFast)
	assert.Equal(t, int64(0), p.Stats().IntentPredictions)
}
