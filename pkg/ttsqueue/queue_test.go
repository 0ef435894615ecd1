package ttsqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/ewma"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

func instantSynth(ctx context.Context, text string, speed float64) ([]byte, error) {
	return []byte(text), nil
}

func TestOrderPreservation(t *testing.T) {
	var mu sync.Mutex
	var played []int

	cb := Callbacks{
		OnAudioChunk: func(ordinal int, chunk []byte) {
			mu.Lock()
			played = append(played, ordinal)
			mu.Unlock()
		},
	}

	q := New(64, 2, 50, 300, instantSynth, ewma.New(0.2, 20), cb)
	q.Start(context.Background())
	defer q.Stop(true)

	for i := 4; i >= 0; i-- {
		_, err := q.Enqueue(i, "sentence", pipeline.PriorityNormal, 1.0, 0.01)
		require.NoError(t, err)
	}

	// Generous budget: with low EWMA confidence early on, the overlap-aware
	// scheduler's (1-confidence)*M term adds real delay between sentences by
	// design (spec 4.E), on top of the 50ms target gap.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(played) == 5
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, ordinal := range played {
		assert.Equal(t, i, ordinal)
	}
}

func TestEnqueue_RejectsInvalidSpeed(t *testing.T) {
	q := New(64, 2, 50, 300, instantSynth, ewma.New(0.2, 20), Callbacks{})
	q.Start(context.Background())
	defer q.Stop(true)

	_, err := q.Enqueue(0, "x", pipeline.PriorityNormal, 3.0, 0.01)
	assert.ErrorIs(t, err, ErrInvalidSpeed)

	_, err = q.Enqueue(0, "x", pipeline.PriorityNormal, 0.1, 0.01)
	assert.ErrorIs(t, err, ErrInvalidSpeed)
}

func TestEnqueue_RejectedWhenNotRunning(t *testing.T) {
	q := New(64, 2, 50, 300, instantSynth, ewma.New(0.2, 20), Callbacks{})
	_, err := q.Enqueue(0, "x", pipeline.PriorityNormal, 1.0, 0.01)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStartStop_Idempotent(t *testing.T) {
	q := New(64, 2, 50, 300, instantSynth, ewma.New(0.2, 20), Callbacks{})
	q.Start(context.Background())
	q.Start(context.Background())
	q.Stop(true)
	q.Stop(true)
}

func TestCancel_AllAfterOrdinal(t *testing.T) {
	var mu sync.Mutex
	var played []int
	cb := Callbacks{
		OnAudioChunk: func(ordinal int, chunk []byte) {
			mu.Lock()
			played = append(played, ordinal)
			mu.Unlock()
		},
	}

	// Synthesis is slow enough that Cancel reliably races ahead of playback.
	slowSynth := func(ctx context.Context, text string, speed float64) ([]byte, error) {
		time.Sleep(50 * time.Millisecond)
		return []byte(text), nil
	}

	q := New(64, 2, 50, 300, slowSynth, ewma.New(0.2, 20), cb)
	q.Start(context.Background())
	defer q.Stop(true)

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(i, "sentence", pipeline.PriorityNormal, 1.0, 0.01)
		require.NoError(t, err)
	}

	cancelled := q.Cancel("", 1)
	assert.Greater(t, cancelled, 0)

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for _, ordinal := range played {
		assert.LessOrEqual(t, ordinal, 1)
	}
}

func TestSynthesisFailure_EmitsUnderrun(t *testing.T) {
	var underrunCalled bool
	var mu sync.Mutex
	failSynth := func(ctx context.Context, text string, speed float64) ([]byte, error) {
		return nil, errors.New("backend unavailable")
	}

	cb := Callbacks{
		OnUnderrun: func(ordinal int, reason error) {
			mu.Lock()
			underrunCalled = true
			mu.Unlock()
		},
	}

	q := New(64, 2, 50, 300, failSynth, ewma.New(0.2, 20), cb)
	q.Start(context.Background())
	defer q.Stop(true)

	_, err := q.Enqueue(0, "sentence", pipeline.PriorityNormal, 1.0, 0.01)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return underrunCalled
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStats_ReflectsCompletion(t *testing.T) {
	q := New(64, 2, 50, 300, instantSynth, ewma.New(0.2, 20), Callbacks{})
	q.Start(context.Background())
	defer q.Stop(true)

	_, err := q.Enqueue(0, "x", pipeline.PriorityNormal, 1.0, 0.01)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return q.Stats().Completed == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// TestOverlapScheduling_StreamingGapScenario reproduces spec 8's literal
// "Streaming gap" scenario: three 1.5s sentences, a synthesis backend with
// ~1.0s latency, expecting inter-sentence gaps to settle to <= 100ms once
// the EWMA predictor has warmed up past the first sentence.
func TestOverlapScheduling_StreamingGapScenario(t *testing.T) {
	backendLatency := 1000 * time.Millisecond
	synth := func(ctx context.Context, text string, speed float64) ([]byte, error) {
		time.Sleep(backendLatency)
		return []byte(text), nil
	}

	var mu sync.Mutex
	var playedAt []time.Time
	cb := Callbacks{
		OnAudioChunk: func(ordinal int, chunk []byte) {
			mu.Lock()
			playedAt = append(playedAt, time.Now())
			mu.Unlock()
		},
	}

	q := New(64, 2, 50, 300, synth, ewma.New(0.2, 20), cb)
	q.Start(context.Background())
	defer q.Stop(true)

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(i, "sentence", pipeline.PriorityNormal, 1.0, 1.5)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(playedAt) == 3
	}, 15*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, playedAt, 3)

	// The gap after warm-up (sentence 2, once one latency sample informs the
	// predictor) should be bounded close to the 50ms target.
	gap := playedAt[2].Sub(playedAt[1]) - 1500*time.Millisecond
	assert.LessOrEqual(t, gap.Milliseconds(), int64(100))
}

// TestOverlapScheduling_AverageGapConvergesToTarget exercises testable
// property #4: after warm-up, the average inter-sentence gap stays within
// gap_target_ms + 20ms over a run of many sentences.
func TestOverlapScheduling_AverageGapConvergesToTarget(t *testing.T) {
	const gapTargetMS = 50
	synth := func(ctx context.Context, text string, speed float64) ([]byte, error) {
		time.Sleep(80 * time.Millisecond)
		return []byte(text), nil
	}

	var mu sync.Mutex
	var playedAt []time.Time
	cb := Callbacks{
		OnAudioChunk: func(ordinal int, chunk []byte) {
			mu.Lock()
			playedAt = append(playedAt, time.Now())
			mu.Unlock()
		},
	}

	q := New(256, 4, gapTargetMS, 300, synth, ewma.New(0.2, 20), cb)
	q.Start(context.Background())
	defer q.Stop(true)

	const sentenceSeconds = 0.2
	const total = 30
	for i := 0; i < total; i++ {
		_, err := q.Enqueue(i, "sentence", pipeline.PriorityNormal, 1.0, sentenceSeconds)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(playedAt) == total
	}, 30*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	// Discard the first few samples (cold predictor, confidence near 0) and
	// average the rest, where confidence has had room to climb.
	const warmup = 20
	var sum time.Duration
	var n int
	for i := warmup + 1; i < len(playedAt); i++ {
		gap := playedAt[i].Sub(playedAt[i-1]) - time.Duration(sentenceSeconds*float64(time.Second))
		sum += gap
		n++
	}
	require.Greater(t, n, 0)
	avgGapMS := float64(sum.Milliseconds()) / float64(n)
	assert.LessOrEqual(t, avgGapMS, float64(gapTargetMS)+20)
}
