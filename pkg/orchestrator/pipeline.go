package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audit"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/eager"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/ewma"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/listening"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pool"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/router"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/silence"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/splitter"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/ttsqueue"
)

// PipelineLatencyBreakdown reports the per-stage wall time for one Process call, per
// the external request surface's `latencies` field.
type PipelineLatencyBreakdown struct {
	Classify  time.Duration
	Route     time.Duration
	Generate  time.Duration
	SynthTotal time.Duration
}

// ProcessResult is the Pipeline Orchestrator's single public response
// contract: `process(utterance, produce_audio) -> {route, text, audio_stream?, latency breakdown}`.
type ProcessResult struct {
	Route      pipeline.RouteDecision
	Text       string
	Latencies  PipelineLatencyBreakdown
	Degraded   bool
	FallbackTo string
	// SentenceCount is how many sentences were handed to the TTS streaming
	// queue (E) when produceAudio was set. Callers that need to know when all
	// of a turn's audio has finished playing (not just been generated) count
	// OnSentenceComplete events up to this total.
	SentenceCount int
}

// PipelineEvents mirrors the published callback/event surface: intent_predicted,
// interruption_detected, silence_detected, sentence_complete, audio_chunk,
// fallback_used, refusal.
type PipelineEvents struct {
	OnIntentPredicted    func(tier pipeline.Tier, confidence float64)
	OnInterruptionDetected func(pipeline.InterruptionEvent)
	OnSilenceDetected    func(pipeline.SilenceEvent)
	OnSentenceComplete   func(ordinal int)
	OnAudioChunk         func(ordinal int, chunk []byte)
	OnFallbackUsed       func(from, to string)
	OnRefusal            func(reason pipeline.RefusalReason)
}

// GenerateFunc returns the complete generated text for a routed request. It must respect
// ctx cancellation and return promptly once cancelled.
type GenerateFunc func(ctx context.Context, tier pipeline.Tier, reasoning pipeline.ReasoningMode, utterance pipeline.Utterance) (string, error)

// Pipeline is the Pipeline Orchestrator (K): it threads A -> B -> G, pipes
// generator output through C -> E, mediates I/J events, and aggregates
// telemetry, behind the single `Process` entry point.
type Pipeline struct {
	cfg    Config
	logger Logger

	router    *router.Router
	pool      *pool.Pool
	splitter  *splitter.Splitter
	predictor *ewma.Predictor
	queue     *ttsqueue.Queue
	eager     *eager.Processor
	listener  *listening.Monitor
	gaps      *silence.Monitor
	auditLog  *audit.Log

	generate GenerateFunc
	events   PipelineEvents

	mu                  sync.Mutex
	activeCorrelationID string
	activeCancel        context.CancelFunc
}

// PipelineOption configures optional collaborators on NewPipeline.
type PipelineOption func(*Pipeline)

// WithAuditLog attaches the audit log whose safe-mode state degrades routing.
func WithAuditLog(log *audit.Log) PipelineOption {
	return func(p *Pipeline) { p.auditLog = log }
}

// WithEagerProcessor attaches the eager input processor (H) for partial
// transcripts; without it, ProcessPartial is a no-op.
func WithEagerProcessor(proc *eager.Processor) PipelineOption {
	return func(p *Pipeline) { p.eager = proc }
}

// NewPipeline wires components A-J behind the Process contract. synth
// renders one sentence's audio; generate produces the text for a routed request.
func NewPipeline(cfg Config, logger Logger, modelPool *pool.Pool, synth ttsqueue.SynthesizeFunc, generate GenerateFunc, events PipelineEvents, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	catalogue := router.DefaultCatalogue()
	rtr := router.New(catalogue, nil, cfg.ThinkModeThresholdChars)
	split := splitter.New(string(cfg.Language), cfg.CharsPerSecond)
	predictor := ewma.New(ewma.DefaultAlpha, ewma.DefaultTargetSamples)

	p := &Pipeline{
		cfg:       cfg,
		logger:    logger,
		router:    rtr,
		pool:      modelPool,
		splitter:  split,
		predictor: predictor,
		listener:  listening.New(),
		gaps:      silence.New(),
		generate:  generate,
		events:    events,
	}

	p.queue = ttsqueue.New(cfg.QueueCapacity, cfg.ParallelSynthesis, cfg.GapTargetMS, cfg.OverlapMarginMS, synth, predictor, ttsqueue.Callbacks{
		OnAudioChunk: func(ordinal int, chunk []byte) {
			if event, ok := p.gaps.MarkSentenceEnd("turn"); ok {
				p.emitSilence(event)
			}
			if events.OnAudioChunk != nil {
				events.OnAudioChunk(ordinal, chunk)
			}
		},
		OnSentenceComplete: events.OnSentenceComplete,
		OnUnderrun: func(ordinal int, reason error) {
			logger.Warn("tts synthesis underrun", "ordinal", ordinal, "error", reason)
		},
	})

	p.listener.RegisterCallback(func(event pipeline.InterruptionEvent) {
		if events.OnInterruptionDetected != nil {
			events.OnInterruptionDetected(event)
		}
		if event.ShouldStop {
			p.Interrupt()
		}
	})

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start brings the TTS queue and active listening monitor online. Idempotent.
func (p *Pipeline) Start(ctx context.Context) {
	p.queue.Start(ctx)
	p.listener.Start()
}

// Stop tears the pipeline down. Idempotent.
func (p *Pipeline) Stop() {
	p.queue.Stop(true)
	p.listener.Stop()
}

// ProcessPartial feeds a partial transcript to the eager input processor (H).
func (p *Pipeline) ProcessPartial(correlationID, partialText string) {
	if p.eager == nil {
		return
	}
	p.eager.ProcessPartial(correlationID, partialText)
}

// SampleAudioLevel feeds one audio-level reading (dB) to the active
// listening monitor (I) during playback.
func (p *Pipeline) SampleAudioLevel(levelDB float64) pipeline.InterruptionEvent {
	return p.listener.Sample(levelDB)
}

// Interrupt cancels the currently active correlation id's generation and
// discards any queued audio after the current ordinal. Cancellation
// strictly precedes further audio emission for that correlation.
func (p *Pipeline) Interrupt() {
	p.mu.Lock()
	cancel := p.activeCancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.queue.Cancel("", -1)
}

// Process threads A -> B -> G, pipes generator output through C -> E,
// and returns the full response contract. A newer utterance sharing a
// correlation id cancels any still-active response for that id.
func (p *Pipeline) Process(ctx context.Context, utterance pipeline.Utterance, produceAudio bool) (ProcessResult, error) {
	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.activeCorrelationID == utterance.CorrelationID && p.activeCancel != nil {
		p.activeCancel()
	}
	p.activeCorrelationID = utterance.CorrelationID
	p.activeCancel = cancel
	p.mu.Unlock()
	defer cancel()

	if p.auditLog != nil {
		p.router.SetDegraded(p.auditLog.SafeMode())
	}

	classifyStart := time.Now()
	decision, routeErr := func() (d pipeline.RouteDecision, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrClassifierPanic, r)
			}
		}()
		return p.router.Route(utterance), nil
	}()
	if routeErr != nil {
		p.logger.Warn("router classification failed, using balanced model", "error", routeErr)
		decision = pipeline.RouteDecision{Kind: pipeline.DecisionModel, ModelTier: pipeline.TierBalanced, Reasoning: pipeline.ReasoningOff}
	}
	classifyElapsed := time.Since(classifyStart)

	result := ProcessResult{
		Route:     decision,
		Latencies: PipelineLatencyBreakdown{Classify: classifyElapsed, Route: classifyElapsed},
	}

	switch decision.Kind {
	case pipeline.DecisionTemplate:
		result.Text = decision.TemplateReply
		if produceAudio {
			result.SentenceCount = p.enqueueText(decision.TemplateReply)
		}
		return result, nil

	case pipeline.DecisionRefuse:
		if p.events.OnRefusal != nil {
			p.events.OnRefusal(decision.RefuseReason)
		}
		result.Text = refusalReply(decision.RefuseReason, string(utterance.Language))
		if produceAudio {
			result.SentenceCount = p.enqueueText(result.Text)
		}
		return result, nil

	case pipeline.DecisionExternal:
		result.Text = "External dispatch is handled by a collaborator outside this pipeline."
		return result, nil
	}

	genStart := time.Now()
	text, err := p.generate(runCtx, decision.ModelTier, decision.Reasoning, utterance)
	result.Latencies.Generate = time.Since(genStart)
	if err != nil {
		if runCtx.Err() != nil {
			return result, ErrContextCancelled
		}
		return result, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	result.Text = text

	if p.eager != nil {
		p.eager.Finalize(utterance.CorrelationID, decision.ModelTier)
	}

	if produceAudio {
		synthStart := time.Now()
		result.SentenceCount = p.enqueueText(text)
		result.Latencies.SynthTotal = time.Since(synthStart)
	}

	return result, nil
}

func (p *Pipeline) enqueueText(text string) int {
	sentences := p.splitter.Split(text)
	count := 0
	for _, s := range sentences {
		priority := pipeline.PriorityNormal
		if s.Ordinal == 0 {
			priority = pipeline.PriorityHigh
		}
		if _, err := p.queue.Enqueue(s.Ordinal, s.Text, priority, 1.0, s.EstimatedDurationSeconds); err != nil {
			p.logger.Warn("failed to enqueue sentence", "ordinal", s.Ordinal, "error", err)
			continue
		}
		count++
	}
	return count
}

func (p *Pipeline) emitSilence(event pipeline.SilenceEvent) {
	if p.events.OnSilenceDetected != nil {
		p.events.OnSilenceDetected(event)
	}
	if event.ShouldFill {
		fillerID, err := p.queue.EnqueueFiller(fillerPhrase(), 1.0)
		if err != nil {
			p.logger.Warn("failed to queue silence filler", "error", err, "gap_ms", event.DurationMS)
			return
		}
		p.logger.Debug("silence filler queued", "filler_id", fillerID, "gap_ms", event.DurationMS)
	}
}

func fillerPhrase() string {
	return "Mmm, dame un segundo..."
}

func refusalReply(reason pipeline.RefusalReason, lang string) string {
	es := lang == "" || lang == "es"
	switch reason {
	case pipeline.RefuseFutureEvent:
		if es {
			return "No puedo predecir eventos futuros con certeza."
		}
		return "I can't reliably predict future events."
	case pipeline.RefusePrivateInfo:
		if es {
			return "No puedo compartir ni almacenar esa información privada."
		}
		return "I can't share or store that private information."
	case pipeline.RefuseHallucinationRisk:
		if es {
			return "No tengo memoria de conversaciones pasadas, así que prefiero no inventar esa parte."
		}
		return "I don't retain memory of past conversations, so I'd rather not guess at that."
	default:
		if es {
			return "Prefiero no responder a eso."
		}
		return "I'd rather not answer that."
	}
}

// Stats aggregates the read-only counters across A-J for observability.
type Stats struct {
	Router pipeline.RouterStats
	Queue  pipeline.QueueStats
	Pool   pipeline.PoolStats
	Eager  eager.Stats
	Listening listening.Stats
	Silence   silence.Stats
}

// Stats returns a snapshot of every component's counters.
func (p *Pipeline) Stats() Stats {
	stats := Stats{
		Router:    p.router.Stats(),
		Queue:     p.queue.Stats(),
		Listening: p.listener.Stats(),
		Silence:   p.gaps.Stats(),
	}
	if p.pool != nil {
		stats.Pool = p.pool.Stats()
	}
	if p.eager != nil {
		stats.Eager = p.eager.Stats()
	}
	return stats
}
