package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// newTestPipeline wires a Pipeline the way Orchestrator.BuildPipeline does,
// against a stub generate func so each scenario controls exactly what the
// model tier "answers" without touching a real provider.
func newTestPipeline(t *testing.T, generate GenerateFunc, events PipelineEvents) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	synth := func(ctx context.Context, text string, speed float64) ([]byte, error) {
		return []byte(text), nil
	}
	p := NewPipeline(cfg, &NoOpLogger{}, nil, synth, generate, events)
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func canned(reply string) GenerateFunc {
	return func(ctx context.Context, tier pipeline.Tier, reasoning pipeline.ReasoningMode, utterance pipeline.Utterance) (string, error) {
		return reply, nil
	}
}

// TestPipeline_Greeting exercises spec 8's "Greeting" scenario: a templated
// reply short-circuits routing (A -> B) and never reaches generation.
func TestPipeline_Greeting(t *testing.T) {
	generateCalled := false
	generate := func(ctx context.Context, tier pipeline.Tier, reasoning pipeline.ReasoningMode, utterance pipeline.Utterance) (string, error) {
		generateCalled = true
		return "", nil
	}
	p := newTestPipeline(t, generate, PipelineEvents{})

	result, err := p.Process(context.Background(), pipeline.Utterance{
		Text:          "hello",
		Language:      "en",
		ArrivalTime:   time.Now(),
		CorrelationID: "greeting",
	}, true)

	require.NoError(t, err)
	assert.Equal(t, pipeline.DecisionTemplate, result.Route.Kind)
	assert.NotEmpty(t, result.Text)
	assert.False(t, generateCalled, "a templated greeting must not reach generation")
}

// TestPipeline_ClosedFactual exercises the "Closed factual" scenario: a
// plain question routes to DecisionModel and returns the generator's text.
func TestPipeline_ClosedFactual(t *testing.T) {
	p := newTestPipeline(t, canned("Paris is the capital of France."), PipelineEvents{})

	result, err := p.Process(context.Background(), pipeline.Utterance{
		Text:          "what is the capital of france",
		Language:      "en",
		ArrivalTime:   time.Now(),
		CorrelationID: "factual",
	}, true)

	require.NoError(t, err)
	assert.Equal(t, pipeline.DecisionModel, result.Route.Kind)
	assert.Equal(t, "Paris is the capital of France.", result.Text)
}

// TestPipeline_RefusalFutureEvent exercises the "Refusal (future)" scenario.
func TestPipeline_RefusalFutureEvent(t *testing.T) {
	var refused pipeline.RefusalReason
	events := PipelineEvents{OnRefusal: func(reason pipeline.RefusalReason) { refused = reason }}
	p := newTestPipeline(t, canned("should not be called"), events)

	result, err := p.Process(context.Background(), pipeline.Utterance{
		Text:          "who will win the next election",
		Language:      "en",
		ArrivalTime:   time.Now(),
		CorrelationID: "refuse-future",
	}, true)

	require.NoError(t, err)
	assert.Equal(t, pipeline.DecisionRefuse, result.Route.Kind)
	assert.Equal(t, pipeline.RefuseFutureEvent, refused)
	assert.NotEmpty(t, result.Text)
}

// TestPipeline_RefusalPrivateInfo exercises the "Refusal (private)" scenario.
func TestPipeline_RefusalPrivateInfo(t *testing.T) {
	var refused pipeline.RefusalReason
	events := PipelineEvents{OnRefusal: func(reason pipeline.RefusalReason) { refused = reason }}
	p := newTestPipeline(t, canned("should not be called"), events)

	result, err := p.Process(context.Background(), pipeline.Utterance{
		Text:          "what is my password",
		Language:      "en",
		ArrivalTime:   time.Now(),
		CorrelationID: "refuse-private",
	}, true)

	require.NoError(t, err)
	assert.Equal(t, pipeline.DecisionRefuse, result.Route.Kind)
	assert.Equal(t, pipeline.RefusePrivateInfo, refused)
	assert.NotEmpty(t, result.Text)
}

// TestPipeline_StreamingGap exercises the "Streaming gap" scenario through
// the real composition: a multi-sentence reply is split (C), enqueued (E),
// and its audio arrives ordinal-ordered through OnAudioChunk.
func TestPipeline_StreamingGap(t *testing.T) {
	reply := "This is the first sentence. This is the second sentence. This is the third sentence."

	var mu sync.Mutex
	var ordinals []int
	var sentenceCompletions int

	events := PipelineEvents{
		OnAudioChunk: func(ordinal int, chunk []byte) {
			mu.Lock()
			ordinals = append(ordinals, ordinal)
			mu.Unlock()
		},
		OnSentenceComplete: func(ordinal int) {
			mu.Lock()
			sentenceCompletions++
			mu.Unlock()
		},
	}
	p := newTestPipeline(t, canned(reply), events)

	result, err := p.Process(context.Background(), pipeline.Utterance{
		Text:          "tell me something in three sentences",
		Language:      "en",
		ArrivalTime:   time.Now(),
		CorrelationID: "streaming-gap",
	}, true)
	require.NoError(t, err)
	require.Equal(t, 3, result.SentenceCount)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ordinals) == 3
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, ordinal := range ordinals {
		assert.Equal(t, i, ordinal, "sentences must play back in strict ordinal order")
	}
	assert.Equal(t, 3, sentenceCompletions)
}

// TestPipeline_Interruption exercises the "Interruption" scenario: calling
// Interrupt while a multi-sentence reply is still queued cancels the
// remaining unplayed sentences rather than letting them all play out.
func TestPipeline_Interruption(t *testing.T) {
	reply := strings.Repeat("This is one of several sentences in a long reply. ", 8)

	var mu sync.Mutex
	var played int

	cfg := DefaultConfig()
	synth := func(ctx context.Context, text string, speed float64) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
		return []byte(text), nil
	}
	generate := canned(reply)
	events := PipelineEvents{
		OnAudioChunk: func(ordinal int, chunk []byte) {
			mu.Lock()
			played++
			mu.Unlock()
		},
	}
	p := NewPipeline(cfg, &NoOpLogger{}, nil, synth, generate, events)
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	result, err := p.Process(context.Background(), pipeline.Utterance{
		Text:          "tell me a long story",
		Language:      "en",
		ArrivalTime:   time.Now(),
		CorrelationID: "interrupt-me",
	}, true)
	require.NoError(t, err)
	require.Greater(t, result.SentenceCount, 2)

	// Let at most the first sentence or two start before barging in.
	time.Sleep(60 * time.Millisecond)
	p.Interrupt()

	// Give any in-flight synthesis time to observe cancellation and for the
	// queue to settle; no new sentences should complete after this point.
	time.Sleep(400 * time.Millisecond)
	mu.Lock()
	playedAtInterrupt := played
	mu.Unlock()

	time.Sleep(400 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, playedAtInterrupt, played, "no further sentences should play after Interrupt")
	assert.Less(t, played, result.SentenceCount, "interruption must cut off before every sentence plays")
	assert.Greater(t, p.Stats().Queue.Cancelled, int64(0))
}
