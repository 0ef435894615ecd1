// Package ewma maintains a running per-sentence synthesis latency estimate
// used by the TTS streaming queue's overlap-aware scheduler.
//
// Grounded on the latency instrumentation already present in the teacher's
// pkg/orchestrator/managed_stream.go (sttStartTime/sttEndTime and friends),
// generalized into the standalone exponentially-weighted predictor the
// source's model pool and queue both depend on.
package ewma

import (
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// DefaultAlpha is the smoothing factor applied to each new observation.
const DefaultAlpha = 0.2

// DefaultTargetSamples is the sample count at which confidence saturates to 1.0.
const DefaultTargetSamples = 20

// Predictor is a thread-safe EWMA latency forecaster.
type Predictor struct {
	mu            sync.Mutex
	alpha         float64
	targetSamples int
	state         pipeline.EWMAState
}

// New builds a Predictor. alpha <= 0 defaults to DefaultAlpha; targetSamples
// <= 0 defaults to DefaultTargetSamples.
func New(alpha float64, targetSamples int) *Predictor {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	if targetSamples <= 0 {
		targetSamples = DefaultTargetSamples
	}
	return &Predictor{alpha: alpha, targetSamples: targetSamples}
}

// Observe folds a newly-completed synthesis latency (in seconds) into the
// running mean: mean <- alpha*x + (1-alpha)*mean.
func (p *Predictor) Observe(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.SamplesSeen == 0 {
		p.state.MeanSeconds = seconds
	} else {
		delta := seconds - p.state.MeanSeconds
		p.state.MeanSeconds += p.alpha * delta
		p.state.Variance = (1 - p.alpha) * (p.state.Variance + p.alpha*delta*delta)
	}
	p.state.SamplesSeen++
	p.state.Confidence = p.confidenceLocked()
}

// Predict returns the current mean-latency forecast and confidence. Safe to
// call from any goroutine; does not mutate state.
func (p *Predictor) Predict() (meanSeconds, confidence float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.MeanSeconds, p.state.Confidence
}

// Snapshot returns a read-only copy of the full EWMA state.
func (p *Predictor) Snapshot() pipeline.EWMAState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Predictor) confidenceLocked() float64 {
	c := float64(p.state.SamplesSeen) / float64(p.targetSamples)
	if c > 1 {
		c = 1
	}
	return c
}
