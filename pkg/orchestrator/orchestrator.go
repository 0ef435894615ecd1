package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pool"
)


type Orchestrator struct {
	stt    STTProvider
	llm    LLMProvider
	tts    TTSProvider
	vad    VADProvider
	config Config
	logger Logger
	mu     sync.RWMutex

	// pipeline, when set via EnablePipeline, routes live turns (A-K) instead
	// of the plain Transcribe->GenerateResponse->SynthesizeStream path.
	// activeStream is the ManagedStream currently driving that pipeline, so
	// its single process-wide audio_chunk/sentence_complete callbacks land
	// on the turn that's actually in flight.
	pipeline     *Pipeline
	activeStream *ManagedStream
}



func New(stt STTProvider, llm LLMProvider, tts TTSProvider, config Config) *Orchestrator {
	return NewWithLogger(stt, llm, tts, nil, config, &NoOpLogger{})
}


func NewWithVAD(stt STTProvider, llm LLMProvider, tts TTSProvider, vad VADProvider, config Config) *Orchestrator {
	return NewWithLogger(stt, llm, tts, vad, config, &NoOpLogger{})
}


func NewWithLogger(stt STTProvider, llm LLMProvider, tts TTSProvider, vad VADProvider, config Config, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Orchestrator{
		stt:    stt,
		llm:    llm,
		tts:    tts,
		vad:    vad,
		config: config,
		logger: logger,
	}
}


func (o *Orchestrator) PushAudio(sessionID string, chunk []byte) (*VADEvent, error) {
	if o.vad == nil {
		return nil, fmt.Errorf("VAD provider not configured")
	}
	return o.vad.Process(chunk)
}


func (o *Orchestrator) ProcessAudio(ctx context.Context, session *ConversationSession, audioData []byte) (string, []byte, error) {
	
	transcript, err := o.Transcribe(ctx, audioData, session.GetCurrentLanguage())
	if err != nil {
		return "", nil, fmt.Errorf("transcription failed: %w", err)
	}

	if strings.TrimSpace(transcript) == "" {
		o.logger.Warn("empty transcription received", "sessionID", session.ID)
		return "", nil, ErrEmptyTranscription
	}

	o.logger.Info("transcription completed", "sessionID", session.ID, "length", len(transcript))
	session.AddMessage("user", transcript)

	
	response, err := o.GenerateResponse(ctx, session)
	if err != nil {
		o.logger.Error("LLM generation failed", "sessionID", session.ID, "error", err)
		return transcript, nil, fmt.Errorf("%w: %v", ErrLLMFailed, err)
	}

	o.logger.Info("LLM response generated", "sessionID", session.ID, "length", len(response))
	session.AddMessage("assistant", response)

	
	audioBytes, err := o.Synthesize(ctx, response, session.GetCurrentVoice(), session.GetCurrentLanguage())
	if err != nil {
		o.logger.Error("TTS synthesis failed", "sessionID", session.ID, "error", err)
		return transcript, nil, fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}

	o.logger.Info("TTS synthesis completed", "sessionID", session.ID, "audioSize", len(audioBytes))
	return transcript, audioBytes, nil
}


func (o *Orchestrator) ProcessAudioStream(ctx context.Context, session *ConversationSession, audioData []byte, onAudioChunk func([]byte) error) (string, error) {
	
	transcript, err := o.Transcribe(ctx, audioData, session.GetCurrentLanguage())
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	if strings.TrimSpace(transcript) == "" {
		o.logger.Warn("empty transcription received", "sessionID", session.ID)
		return "", ErrEmptyTranscription
	}

	o.logger.Info("transcription completed", "sessionID", session.ID, "length", len(transcript))
	session.AddMessage("user", transcript)

	
	response, err := o.GenerateResponse(ctx, session)
	if err != nil {
		o.logger.Error("LLM generation failed", "sessionID", session.ID, "error", err)
		return transcript, fmt.Errorf("%w: %v", ErrLLMFailed, err)
	}

	o.logger.Info("LLM response generated", "sessionID", session.ID, "length", len(response))
	session.AddMessage("assistant", response)

	
	err = o.SynthesizeStream(ctx, response, session.GetCurrentVoice(), session.GetCurrentLanguage(), onAudioChunk)
	if err != nil {
		o.logger.Error("TTS streaming failed", "sessionID", session.ID, "error", err)
		return transcript, fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}

	o.logger.Info("TTS streaming completed", "sessionID", session.ID)
	return transcript, nil
}


func (o *Orchestrator) Transcribe(ctx context.Context, audioData []byte, lang Language) (string, error) {
	ctx, cancel := o.withTimeout(ctx, o.config.STTTimeout)
	defer cancel()
	return o.stt.Transcribe(ctx, audioData, lang)
}


func (o *Orchestrator) GenerateResponse(ctx context.Context, session *ConversationSession) (string, error) {
	ctx, cancel := o.withTimeout(ctx, o.config.LLMTimeout)
	defer cancel()
	return o.llm.Complete(ctx, session.GetContextCopy())
}


func (o *Orchestrator) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	ctx, cancel := o.withTimeout(ctx, o.config.TTSTimeout)
	defer cancel()
	return o.tts.Synthesize(ctx, text, voice, lang)
}


func (o *Orchestrator) SynthesizeStream(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	ctx, cancel := o.withTimeout(ctx, o.config.TTSTimeout)
	defer cancel()
	return o.tts.StreamSynthesize(ctx, text, voice, lang, onChunk)
}

// withTimeout bounds ctx by seconds when seconds > 0, per the configured
// STTTimeout/LLMTimeout/TTSTimeout. 0 leaves ctx as the caller passed it,
// since a streaming TTS call that legitimately outlasts one fixed deadline
// (many long sentences) opts out by setting its timeout to 0.
func (o *Orchestrator) withTimeout(ctx context.Context, seconds uint) (context.Context, context.CancelFunc) {
	if seconds == 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
}


func (o *Orchestrator) HandleInterruption(session *ConversationSession) {
	o.logger.Info("conversation interrupted", "sessionID", session.ID)
	
}


func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = cfg
}


func (o *Orchestrator) GetConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}


func (o *Orchestrator) GetProviders() map[string]string {
	return map[string]string{
		"stt": o.stt.Name(),
		"llm": o.llm.Name(),
		"tts": o.tts.Name(),
	}
}



func (o *Orchestrator) NewSessionWithDefaults(userID string) *ConversationSession {
	session := NewConversationSession(userID)
	session.MaxMessages = o.config.MaxContextMessages
	session.CurrentVoice = o.config.VoiceStyle
	session.CurrentLanguage = o.config.Language
	return session
}



func (o *Orchestrator) SetSystemPrompt(session *ConversationSession, prompt string) {
	session.AddMessage("system", prompt)
}



func (o *Orchestrator) SetVoice(session *ConversationSession, voice Voice) {
	session.CurrentVoice = voice
}



func (o *Orchestrator) SetLanguage(session *ConversationSession, lang Language) {
	session.CurrentLanguage = lang
}



func (o *Orchestrator) ResetSession(session *ConversationSession) {
	session.ClearContext()
}



func (o *Orchestrator) NewManagedStream(ctx context.Context, session *ConversationSession) *ManagedStream {
	return NewManagedStream(ctx, o, session)
}

// BuildPipeline wires this Orchestrator's LLM and TTS providers into a
// Pipeline Orchestrator (component K): generation is routed through the
// tripartite router and, when modelPool is non-nil, the model pool's
// fallback chain; synthesis is routed through the sentence splitter and
// TTS streaming queue instead of one blocking Synthesize call.
func (o *Orchestrator) BuildPipeline(modelPool *pool.Pool, events PipelineEvents, opts ...PipelineOption) *Pipeline {
	generate := func(ctx context.Context, tier pipeline.Tier, reasoning pipeline.ReasoningMode, utterance pipeline.Utterance) (string, error) {
		if modelPool != nil {
			text, usedName, degraded, err := modelPool.Generate(ctx, string(tier), utterance.Text, 0, len(utterance.Text))
			if degraded && events.OnFallbackUsed != nil {
				events.OnFallbackUsed(string(tier), usedName)
			}
			return text, err
		}
		return o.llm.Complete(ctx, []Message{{Role: "user", Content: utterance.Text}})
	}
	synth := func(ctx context.Context, text string, speed float64) ([]byte, error) {
		return o.tts.Synthesize(ctx, text, o.config.VoiceStyle, o.config.Language)
	}
	return NewPipeline(o.config, o.logger, modelPool, synth, generate, events, opts...)
}

// EnablePipeline builds a Pipeline Orchestrator (K) via BuildPipeline, starts
// it, and stores it so every ManagedStream created afterwards routes its
// turns through A-K instead of the plain GenerateResponse/SynthesizeStream
// path. The pipeline's audio_chunk and sentence_complete callbacks are
// forwarded to whichever ManagedStream is currently active, since this
// Orchestrator drives at most one live turn at a time.
func (o *Orchestrator) EnablePipeline(modelPool *pool.Pool, opts ...PipelineOption) *Pipeline {
	events := PipelineEvents{
		OnAudioChunk: func(ordinal int, chunk []byte) {
			if ms := o.getActiveStream(); ms != nil {
				ms.deliverPipelineAudio(chunk)
			}
		},
		OnSentenceComplete: func(ordinal int) {
			if ms := o.getActiveStream(); ms != nil {
				ms.markPipelineSentenceComplete()
			}
		},
	}
	p := o.BuildPipeline(modelPool, events, opts...)
	p.Start(context.Background())

	o.mu.Lock()
	o.pipeline = p
	o.mu.Unlock()
	return p
}

func (o *Orchestrator) getActivePipeline() *Pipeline {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pipeline
}

func (o *Orchestrator) getActiveStream() *ManagedStream {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeStream
}

func (o *Orchestrator) setActiveStream(ms *ManagedStream) {
	o.mu.Lock()
	o.activeStream = ms
	o.mu.Unlock()
}

func (o *Orchestrator) clearActiveStream(ms *ManagedStream) {
	o.mu.Lock()
	if o.activeStream == ms {
		o.activeStream = nil
	}
	o.mu.Unlock()
}
