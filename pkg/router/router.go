package router

import (
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

const (
	feedbackBufferCapacity  = 200
	feedbackBiasMinNegative = 10
)

// feedback is one confirmed-wrong routing decision, held only to bias future
// confidence-to-tier thresholds.
type feedback struct {
	decidedTier pipeline.Tier
	negative    bool
}

// Router stages a Template check, then a Refusal check, then the cheap
// complexity scorer, producing a RouteDecision. State is read-only except
// for the bounded feedback buffer, the stats counters and the degraded flag.
type Router struct {
	templates *TemplateEngine
	refusals  *RefusalClassifier

	thinkThresholdChars int

	mu             sync.Mutex
	feedbackBuf    []feedback
	confidenceBias float64

	stats pipeline.RouterStats

	degraded bool
}

// New builds a Router from a template catalogue and refusal keyword table.
func New(catalogue Catalogue, unknownPatterns map[string][]string, thinkThresholdChars int) *Router {
	return &Router{
		templates:           NewTemplateEngine(catalogue),
		refusals:            NewRefusalClassifier(unknownPatterns),
		thinkThresholdChars: thinkThresholdChars,
	}
}

// SetDegraded toggles the global Safe/degraded mode: while degraded, the
// router refuses External(WebSearch) routes and emits a canned safety
// reply instead. Other tiers continue normally.
func (r *Router) SetDegraded(degraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = degraded
}

// Route computes the RouteDecision for one utterance: Template, then
// Refusal, then a tier pick from the complexity scorer.
func (r *Router) Route(utterance pipeline.Utterance) pipeline.RouteDecision {
	if category, reply, ok := r.templates.Match(utterance.Language, utterance.Text); ok {
		r.recordTemplateHit()
		return pipeline.RouteDecision{
			Kind:             pipeline.DecisionTemplate,
			TemplateCategory: category,
			TemplateReply:    reply,
		}
	}

	if reason, ok := r.refusals.Classify(utterance.Text); ok {
		r.recordRefusal()
		return pipeline.RouteDecision{Kind: pipeline.DecisionRefuse, RefuseReason: reason}
	}

	score := ScoreComplexity(utterance.Text)

	if score.Web >= 0.7 {
		r.mu.Lock()
		degraded := r.degraded
		r.mu.Unlock()
		if degraded {
			return pipeline.RouteDecision{Kind: pipeline.DecisionRefuse, RefuseReason: pipeline.RefuseUnsafe}
		}
		r.recordExternal()
		return pipeline.RouteDecision{Kind: pipeline.DecisionExternal, ExternalKind: pipeline.ExternalWebSearch}
	}

	confidence := r.biasedConfidence(score.Confidence)
	tier := tierFromConfidence(confidence)
	reasoning := classifyReasoning(utterance.Text, r.thinkThresholdChars)

	empathic := score.Soft >= 0.5 && score.Hard < 0.3

	r.recordModelTier(tier)
	return pipeline.RouteDecision{
		Kind:          pipeline.DecisionModel,
		ModelTier:     tier,
		Reasoning:     reasoning,
		EmpathicStyle: empathic,
	}
}

// ScorePartial is a no-commit intent guess used by the eager input
// processor against partial transcripts: it runs the same complexity
// scorer as Route but never records stats or feedback.
func (r *Router) ScorePartial(text string) (pipeline.Tier, float64) {
	score := ScoreComplexity(text)
	confidence := r.biasedConfidence(score.Confidence)
	return tierFromConfidence(confidence), confidence
}

func tierFromConfidence(confidence float64) pipeline.Tier {
	switch {
	case confidence >= 0.6:
		return pipeline.TierFast
	case confidence >= 0.3:
		return pipeline.TierBalanced
	default:
		return pipeline.TierDeep
	}
}

// RecordFeedback appends a confirmed-negative feedback entry (the user or a
// downstream verifier rejected the tier decision), trimming to the bounded
// capacity. Bias is only applied once at least feedbackBiasMinNegative
// negative entries have accumulated in the buffer.
func (r *Router) RecordFeedback(decidedTier pipeline.Tier, negative bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.feedbackBuf = append(r.feedbackBuf, feedback{decidedTier: decidedTier, negative: negative})
	if len(r.feedbackBuf) > feedbackBufferCapacity {
		r.feedbackBuf = r.feedbackBuf[len(r.feedbackBuf)-feedbackBufferCapacity:]
	}

	negatives := 0
	for _, f := range r.feedbackBuf {
		if f.negative {
			negatives++
		}
	}
	if negatives >= feedbackBiasMinNegative {
		// Nudge confidence down slightly so more utterances fall into a
		// higher-capability tier, proportional to how negative the buffer is.
		r.confidenceBias = -0.05 * float64(negatives-feedbackBiasMinNegative+1) / float64(feedbackBufferCapacity)
		if r.confidenceBias < -0.2 {
			r.confidenceBias = -0.2
		}
	} else {
		r.confidenceBias = 0
	}
}

func (r *Router) biasedConfidence(confidence float64) float64 {
	r.mu.Lock()
	bias := r.confidenceBias
	r.mu.Unlock()
	biased := confidence + bias
	if biased < 0 {
		biased = 0
	}
	if biased > 1 {
		biased = 1
	}
	return biased
}

// Stats returns a read-only snapshot of router counters.
func (r *Router) Stats() pipeline.RouterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.stats
	snap.FeedbackBuffer = len(r.feedbackBuf)
	return snap
}

func (r *Router) recordTemplateHit() {
	r.mu.Lock()
	r.stats.TemplateHits++
	r.mu.Unlock()
}

func (r *Router) recordRefusal() {
	r.mu.Lock()
	r.stats.Refusals++
	r.mu.Unlock()
}

func (r *Router) recordExternal() {
	r.mu.Lock()
	r.stats.ExternalRoutes++
	r.mu.Unlock()
}

func (r *Router) recordModelTier(tier pipeline.Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch tier {
	case pipeline.TierFast:
		r.stats.ModelFast++
	case pipeline.TierBalanced:
		r.stats.ModelBalanced++
	case pipeline.TierDeep:
		r.stats.ModelDeep++
	}
}
