package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

type fakeBackend struct {
	name     string
	fail     bool
	unloaded bool
}

func (f *fakeBackend) Generate(ctx context.Context, prompt string) (string, error) {
	if f.fail {
		return "", errors.New("generation failed")
	}
	return "reply from " + f.name, nil
}

func (f *fakeBackend) Unload() error {
	f.unloaded = true
	return nil
}

func loaderFor(fail map[string]bool) LoaderFunc {
	return func(ctx context.Context, name string, contextWindow int, quant pipeline.Quantization) (Backend, error) {
		if fail[name] {
			return nil, errors.New("load failed: " + name)
		}
		return &fakeBackend{name: name}, nil
	}
}

func TestSelectQuantization_Tiers(t *testing.T) {
	assert.Equal(t, pipeline.QuantIQ3XXS, SelectQuantization(50))
	assert.Equal(t, pipeline.QuantQ4KM, SelectQuantization(500))
	assert.Equal(t, pipeline.QuantQ5KM, SelectQuantization(1200))
}

func TestAcquire_LazyLoadsOnce(t *testing.T) {
	loads := 0
	loader := func(ctx context.Context, name string, contextWindow int, quant pipeline.Quantization) (Backend, error) {
		loads++
		return &fakeBackend{name: name}, nil
	}
	p := New(loader, Config{})

	h1, err := p.Acquire(context.Background(), "expert_long", 4096, 100, "")
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background(), "expert_long", 4096, 100, "")
	require.NoError(t, err)

	assert.Equal(t, 1, loads)
	assert.Equal(t, h1.Name, h2.Name)
	p.Release(h1)
	p.Release(h2)
}

func TestAcquire_ReloadsOnLargerContextWindow(t *testing.T) {
	p := New(loaderFor(nil), Config{})

	h1, err := p.Acquire(context.Background(), "m", 1024, 100, "")
	require.NoError(t, err)
	assert.Equal(t, 1024, h1.ContextWindow)
	p.Release(h1)

	h2, err := p.Acquire(context.Background(), "m", 4096, 100, "")
	require.NoError(t, err)
	assert.Equal(t, 4096, h2.ContextWindow)
	assert.Equal(t, h1.Quantization, h2.Quantization)
	p.Release(h2)
}

// TestRelease_TargetsLeaseEntryAcrossReload guards testable property #6: a
// handle's refcount at drop equals the refcount at acquisition, even when a
// concurrent Acquire with a larger context window has swapped p.entries[name]
// out from under an older, still-held lease.
func TestRelease_TargetsLeaseEntryAcrossReload(t *testing.T) {
	p := New(loaderFor(nil), Config{})

	h1, err := p.Acquire(context.Background(), "m", 1024, 100, "")
	require.NoError(t, err)
	oldEntry := h1.entry

	// Larger context window forces a reload, replacing p.entries["m"].
	h2, err := p.Acquire(context.Background(), "m", 4096, 100, "")
	require.NoError(t, err)
	require.NotSame(t, oldEntry, h2.entry)

	p.mu.RLock()
	currentEntry := p.entries["m"]
	p.mu.RUnlock()
	require.Same(t, h2.entry, currentEntry)

	// Releasing the stale lease must decrement the superseded entry, not the
	// one that replaced it in the map.
	p.Release(h1)
	assert.EqualValues(t, 0, atomic.LoadInt64(&oldEntry.refs))
	assert.EqualValues(t, 1, atomic.LoadInt64(&currentEntry.refs))

	p.Release(h2)
}

func TestGenerate_FallsBackOnFailure(t *testing.T) {
	p := New(loaderFor(nil), Config{
		FallbackChain: map[string][]string{
			"deep": {"balanced", "fast"},
		},
	})

	// Force "deep" to fail generation by making its backend error.
	lease, err := p.Acquire(context.Background(), "deep", 2048, 100, "")
	require.NoError(t, err)
	p.mu.RLock()
	p.entries["deep"].backend.(*fakeBackend).fail = true
	p.mu.RUnlock()
	p.Release(lease)

	text, used, degraded, err := p.Generate(context.Background(), "deep", "hello", 2048, 100)
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, "balanced", used)
	assert.Contains(t, text, "balanced")
}

func TestGenerate_ExhaustedChainReturnsUnavailable(t *testing.T) {
	p := New(loaderFor(map[string]bool{"deep": true, "balanced": true, "fast": true}), Config{
		FallbackChain: map[string][]string{"deep": {"balanced", "fast"}},
	})

	_, _, _, err := p.Generate(context.Background(), "deep", "hello", 2048, 100)
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
}

func TestSweep_EvictsOnlyZeroRefcountExpiredEntries(t *testing.T) {
	p := New(loaderFor(nil), Config{TTLWarmSeconds: 1, TTLColdSeconds: 1})

	h, err := p.Acquire(context.Background(), "idle-model", 1024, 50, "")
	require.NoError(t, err)
	assert.NotNil(t, h)
	// Released immediately so refcount returns to zero and TTL applies.
	p.Release(h)

	time.Sleep(1200 * time.Millisecond)
	p.sweep()

	p.mu.RLock()
	_, present := p.entries["idle-model"]
	p.mu.RUnlock()
	assert.False(t, present)
}

func TestSweep_NeverEvictsHeldHandle(t *testing.T) {
	p := New(loaderFor(nil), Config{TTLWarmSeconds: 1, TTLColdSeconds: 1})

	_, err := p.Acquire(context.Background(), "held-model", 1024, 50, "")
	require.NoError(t, err)
	// No Release: refcount stays >= 1.

	time.Sleep(1200 * time.Millisecond)
	p.sweep()

	p.mu.RLock()
	_, present := p.entries["held-model"]
	p.mu.RUnlock()
	assert.True(t, present)
}
