// Package eager implements the eager input processor: it consumes partial
// transcripts at any cadence, predicts intent once enough words have
// arrived, and requests prewarming of the likely model tier. It commits no
// response of its own.
//
// Grounded on the original Python EagerInputProcessor
// (input/eager_input_processor.py): same MIN_WORDS_FOR_PREDICTION and
// CONFIDENCE_THRESHOLD gates, same verify-on-finalization accuracy
// bookkeeping.
package eager

import (
	"strings"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

const (
	minWordsForPrediction = 3
	confidenceThreshold    = 0.6
)

// Classifier is the subset of the router's complexity scorer the eager
// processor needs: a no-commit intent guess from partial text.
type Classifier interface {
	ScorePartial(text string) (tier pipeline.Tier, confidence float64)
}

// Prewarmer requests that the model pool warm the given tier's backend
// ahead of the final utterance arriving.
type Prewarmer interface {
	Prewarm(tier pipeline.Tier)
}

// Prediction is the outcome of processing a partial transcript.
type Prediction struct {
	Tier       pipeline.Tier
	Confidence float64
}

// Stats is a read-only snapshot of accuracy bookkeeping.
type Stats struct {
	TotalUpdates      int64
	IntentPredictions int64
	CorrectPredictions int64
	Accuracy          float64
	CurrentStage      string
}

// Processor tracks the most recent prediction for a correlation id so it
// can be verified once the final transcript lands.
type Processor struct {
	classifier Classifier
	prewarmer  Prewarmer
	onIntent   func(tier pipeline.Tier, confidence float64)

	mu         sync.Mutex
	totalUpdates int64
	predictions  int64
	correct      int64
	last         map[string]Prediction // correlation id -> last prediction
}

// New builds a Processor. onIntent, if non-nil, is called whenever a
// prediction clears the confidence threshold (the "intent_predicted" event).
func New(classifier Classifier, prewarmer Prewarmer, onIntent func(tier pipeline.Tier, confidence float64)) *Processor {
	return &Processor{
		classifier: classifier,
		prewarmer:  prewarmer,
		onIntent:   onIntent,
		last:       make(map[string]Prediction),
	}
}

// ProcessPartial consumes one partial transcript update. After >= 3 words it
// invokes the classifier in no-commit mode; on confidence >= 0.6 it emits
// intent_predicted and requests a prewarm. Returns ok=false when too few
// words have arrived yet.
func (p *Processor) ProcessPartial(correlationID, partialText string) (Prediction, bool) {
	p.mu.Lock()
	p.totalUpdates++
	p.mu.Unlock()

	if wordCount(partialText) < minWordsForPrediction {
		return Prediction{}, false
	}

	tier, confidence := p.classifier.ScorePartial(partialText)
	if confidence < confidenceThreshold {
		return Prediction{}, false
	}

	prediction := Prediction{Tier: tier, Confidence: confidence}

	p.mu.Lock()
	p.predictions++
	p.last[correlationID] = prediction
	p.mu.Unlock()

	if p.onIntent != nil {
		p.onIntent(tier, confidence)
	}
	if p.prewarmer != nil {
		p.prewarmer.Prewarm(tier)
	}
	return prediction, true
}

// Finalize verifies a previously-emitted prediction against the final
// route's tier, updating accuracy bookkeeping and clearing the
// correlation's state.
func (p *Processor) Finalize(correlationID string, finalTier pipeline.Tier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prediction, ok := p.last[correlationID]
	if !ok {
		return
	}
	delete(p.last, correlationID)
	if prediction.Tier == finalTier {
		p.correct++
	}
}

// Stats returns a read-only snapshot of accuracy counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	accuracy := 0.0
	if p.predictions > 0 {
		accuracy = float64(p.correct) / float64(p.predictions)
	}
	return Stats{
		TotalUpdates:       p.totalUpdates,
		IntentPredictions:  p.predictions,
		CorrectPredictions: p.correct,
		Accuracy:           accuracy,
		CurrentStage:       "partial",
	}
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
