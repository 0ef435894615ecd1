// Package pipeline holds the data types shared across the routing and
// streaming-response components (router, splitter, ewma, ttsqueue, pool,
// listening, silence): the immutable records that flow between them.
package pipeline

import "time"

// Utterance is an immutable record of one user input, partial or final.
type Utterance struct {
	Text          string
	Language      string
	ArrivalTime   time.Time
	Partial       bool
	CorrelationID string
}

// Tier is a size/latency class of generation backend.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierDeep     Tier = "deep"
)

// tierOrder gives {Deep, Balanced, Fast} their fallback ranking, deep being
// the most capable and most expensive.
var tierOrder = map[Tier]int{TierDeep: 2, TierBalanced: 1, TierFast: 0}

// AtOrBelow reports whether t is no more capable than other, i.e. a fallback
// from other to t never promotes.
func (t Tier) AtOrBelow(other Tier) bool {
	return tierOrder[t] <= tierOrder[other]
}

// ReasoningMode toggles the secondary "think" classifier.
type ReasoningMode string

const (
	ReasoningOff ReasoningMode = "off"
	ReasoningOn  ReasoningMode = "on"
)

// RefusalReason is the closed set of decline reasons the refusal classifier
// may return.
type RefusalReason string

const (
	RefuseFutureEvent       RefusalReason = "future_event"
	RefusePrivateInfo       RefusalReason = "private_info"
	RefuseHallucinationRisk RefusalReason = "hallucination_risk"
	RefuseUnsafe            RefusalReason = "unsafe"
	RefuseNonsense          RefusalReason = "nonsense"
)

// ExternalKind enumerates the external collaborators a RouteDecision may
// dispatch to instead of a model tier.
type ExternalKind string

const (
	ExternalWebSearch ExternalKind = "web_search"
	ExternalToolCall  ExternalKind = "tool_call"
)

// DecisionKind tags the variant held by a RouteDecision.
type DecisionKind string

const (
	DecisionTemplate DecisionKind = "template"
	DecisionModel    DecisionKind = "model"
	DecisionRefuse   DecisionKind = "refuse"
	DecisionExternal DecisionKind = "external"
)

// RouteDecision is the tagged variant produced by the tripartite router.
// Only the fields matching Kind are meaningful; the rest are zero values.
type RouteDecision struct {
	Kind DecisionKind

	// Template(category, reply)
	TemplateCategory string
	TemplateReply    string

	// Model(tier, reasoning_mode)
	ModelTier     Tier
	Reasoning     ReasoningMode
	EmpathicStyle bool

	// Refuse(reason)
	RefuseReason RefusalReason

	// External(kind)
	ExternalKind ExternalKind
}

func (d RouteDecision) String() string {
	switch d.Kind {
	case DecisionTemplate:
		return "Template(" + d.TemplateCategory + ")"
	case DecisionModel:
		return "Model(" + string(d.ModelTier) + ")"
	case DecisionRefuse:
		return "Refuse(" + string(d.RefuseReason) + ")"
	case DecisionExternal:
		return "External(" + string(d.ExternalKind) + ")"
	default:
		return "Unknown"
	}
}

// Sentence carries the metadata the splitter attaches to each TTS-sized
// chunk of generated text.
type Sentence struct {
	Ordinal                  int
	Text                     string
	IsQuestion               bool
	IsExclamation            bool
	EstimatedDurationSeconds float64
}

// Priority orders TTSJobs competing for the same synthesis slot.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// JobState is the lifecycle of a TTSJob.
type JobState string

const (
	JobQueued       JobState = "queued"
	JobSynthesizing JobState = "synthesizing"
	JobReady        JobState = "ready"
	JobPlaying      JobState = "playing"
	JobDone         JobState = "done"
	JobCancelled    JobState = "cancelled"
	JobFailed       JobState = "failed"
)

// TTSJob is one unit of work owned by the TTS streaming queue.
type TTSJob struct {
	ID         string
	Ordinal    int
	Text       string
	Priority   Priority
	Speed      float64
	SubmitTime time.Time
	State      JobState

	// DurationEstimateSeconds is the sentence splitter's estimated spoken
	// length (C's estimated_duration_seconds), used by the queue's
	// overlap-aware scheduler as L for this job once it is playing.
	DurationEstimateSeconds float64
}

// EWMAState is the exponentially-weighted latency estimate owned by the
// latency predictor and updated by the queue on synthesis completion.
type EWMAState struct {
	MeanSeconds float64
	Variance    float64
	SamplesSeen int
	Confidence  float64
}

// InterruptionType classifies a sample taken by the active listening
// monitor.
type InterruptionType string

const (
	InterruptionSpeech  InterruptionType = "speech"
	InterruptionUrgent  InterruptionType = "urgent"
	InterruptionAmbient InterruptionType = "ambient"
	InterruptionSilence InterruptionType = "silence"
)

// InterruptionEvent is produced by the active listening monitor.
type InterruptionEvent struct {
	Type         InterruptionType
	Confidence   float64
	AudioLevelDB float64
	Timestamp    time.Time
	ShouldStop   bool
}

// SilenceType classifies an inter-sentence gap observed by the silence gap
// monitor.
type SilenceType string

const (
	SilenceShort    SilenceType = "short"
	SilenceMedium   SilenceType = "medium"
	SilenceLong     SilenceType = "long"
	SilenceCritical SilenceType = "critical"
)

// SilenceEvent is produced by the silence gap monitor.
type SilenceEvent struct {
	Type        SilenceType
	DurationMS  int64
	Context     string
	ShouldFill  bool
}

// BackendVariant tags the capability set a ModelHandle's backend exposes.
type BackendVariant string

const (
	BackendGGUF       BackendVariant = "gguf"
	BackendAPI        BackendVariant = "api"
	BackendEmbedding  BackendVariant = "embedding"
	BackendMultimodal BackendVariant = "multimodal"
)

// Quantization is the weight-quantization tier selected for a loaded model.
type Quantization string

const (
	QuantIQ3XXS Quantization = "IQ3_XXS"
	QuantQ4KM   Quantization = "Q4_K_M"
	QuantQ5KM   Quantization = "Q5_K_M"
)

// ModelHandle is the pool's record of one loaded logical model. It is never
// shared by value across component boundaries; consumers request by name.
type ModelHandle struct {
	Name            string
	Backend         BackendVariant
	Quantization    Quantization
	ContextWindow   int
	LastUsed        time.Time
	RefCount        int64
	AccessHistory   []time.Time
}

// RouterStats is a read-only snapshot of router counters.
type RouterStats struct {
	TemplateHits   int64
	Refusals       int64
	ModelFast      int64
	ModelBalanced  int64
	ModelDeep      int64
	ExternalRoutes int64
	FeedbackBuffer int
}

// QueueStats is a read-only snapshot of TTS queue counters.
type QueueStats struct {
	EWMAMean   float64
	Confidence float64
	Completed  int64
	Cancelled  int64
	Failed     int64
	AvgGapMS   float64
	MaxGapMS   float64
}

// PoolStats is a read-only snapshot of model pool counters.
type PoolStats struct {
	Loads        int64
	Evictions    int64
	Fallbacks    int64
	HotCount     int
	WarmCount    int
	ColdCount    int
}
