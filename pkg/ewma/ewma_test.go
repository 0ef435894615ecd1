package ewma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredict_FirstSampleSetsInitialMean(t *testing.T) {
	p := New(0.2, 20)
	p.Observe(1.5)
	mean, confidence := p.Predict()
	assert.InDelta(t, 1.5, mean, 0.001)
	assert.InDelta(t, 1.0/20.0, confidence, 0.001)
}

func TestPredict_ConvergesToConstantLatency(t *testing.T) {
	p := New(0.2, 20)
	for i := 0; i < 40; i++ {
		p.Observe(2.0)
	}
	mean, confidence := p.Predict()
	assert.InDelta(t, 2.0, mean, 0.01)
	assert.Equal(t, 1.0, confidence)
}

func TestPredict_ConfidenceMonotonicForFirstKSamples(t *testing.T) {
	p := New(0.2, 20)
	prev := -1.0
	for i := 0; i < 20; i++ {
		p.Observe(1.0)
		_, confidence := p.Predict()
		require.GreaterOrEqual(t, confidence, prev)
		prev = confidence
	}
}

func TestPredict_MeanAlwaysPositiveAfterFirstSample(t *testing.T) {
	p := New(0.2, 20)
	p.Observe(0.001)
	mean, _ := p.Predict()
	assert.Greater(t, mean, 0.0)
}

func TestSnapshot_ReflectsObservations(t *testing.T) {
	p := New(0.5, 4)
	p.Observe(1.0)
	p.Observe(3.0)
	snap := p.Snapshot()
	assert.Equal(t, 2, snap.SamplesSeen)
	assert.InDelta(t, 2.0, snap.MeanSeconds, 0.001)
}

func TestNew_DefaultsAppliedForInvalidParams(t *testing.T) {
	p := New(0, 0)
	p.Observe(1.0)
	_, confidence := p.Predict()
	assert.InDelta(t, 1.0/float64(DefaultTargetSamples), confidence, 0.001)
}
