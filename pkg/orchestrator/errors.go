package orchestrator

import "errors"

// Sentinel errors grouped by the taxonomy callers branch on: input, classifier,
// generation, synthesis, audit integrity, cancellation, and configuration.
// Each is wrapped with fmt.Errorf("%w: ...") at the call site rather than
// given its own type, matching the teacher's flat sentinel-error style.
var (
	// Input errors: ErrEmptyTranscription is returned to the caller when
	// speech-to-text yields no text. Pipeline.Process checks utterances for
	// neither emptiness nor length and produces no clarification reply;
	// ErrUtteranceTooLong is not returned anywhere in this module.
	ErrEmptyTranscription = errors.New("transcription returned empty text")
	ErrUtteranceTooLong   = errors.New("orchestrator: utterance exceeds maximum length")

	// Classifier errors: Pipeline.Process recovers a panic in the router,
	// logs it wrapped in ErrClassifierPanic, and falls back to
	// Model(Balanced, reasoning=Off) rather than failing the turn. No timeout
	// is applied to the router, so ErrClassifierTimeout is never produced.
	ErrClassifierTimeout = errors.New("orchestrator: router classification timed out")
	ErrClassifierPanic   = errors.New("orchestrator: router classification failed")

	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	// Generation errors: with a model pool, the generator BuildPipeline
	// installs walks the pool's fallback chain. If generation still fails,
	// Pipeline.Process returns ErrGenerationFailed wrapping the cause; it
	// produces no safety reply text.
	ErrLLMFailed             = errors.New("language model generation failed")
	ErrGenerationFailed      = ErrLLMFailed
	ErrGenerationUnavailable = errors.New("orchestrator: no generation backend available")

	// Synthesis errors: retried per the TTS queue's own backoff; persistent
	// failure is only ever audible as a skipped sentence via on_underrun.
	ErrTTSFailed       = errors.New("text-to-speech synthesis failed")
	ErrSynthesisFailed = ErrTTSFailed

	// Integrity errors: an audit digest mismatch enters degraded mode.
	ErrAuditIntegrity = errors.New("orchestrator: audit log integrity check failed")

	// Cancellation: truncates the response; Pipeline.Process returns
	// ErrContextCancelled to its caller when generation was cancelled.
	ErrContextCancelled = errors.New("operation cancelled by context")

	// Config errors: fail fast at startup only.
	ErrNilProvider   = errors.New("required provider is nil")
	ErrInvalidConfig = errors.New("orchestrator: invalid configuration")
)
