// Package pool implements the model pool: a cache of logical generation
// backends keyed by name, lazily loaded, LRU/TTL-evicted, auto-quantized,
// and backed by a per-name fallback chain.
//
// Grounded on the original Python model/pool.py and model/wrapper.py (the
// CASCADE Oracle's three quantization tiers and Hot/Warm/Cold TTL windows)
// and on the teacher's per-key exclusivity idiom (managed_stream.go guards
// its mutable fields with a mutex that is never held across a suspension
// point); per-key load serialization is implemented with
// golang.org/x/sync/singleflight, already part of the pack's dependency
// graph alongside x/sync/errgroup.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// ErrGenerationUnavailable is returned when a name and its entire fallback
// chain fail to load or generate.
var ErrGenerationUnavailable = errors.New("pool: generation unavailable, fallback chain exhausted")

// Backend is the capability set a concrete model variant must implement.
// Consumers always use this generic interface; the pool carries the variant
// tag on the handle.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Unload() error
}

// LoaderFunc constructs a Backend for name at the given context window and
// quantization tier.
type LoaderFunc func(ctx context.Context, name string, contextWindow int, quant pipeline.Quantization) (Backend, error)

const (
	hotAccessThreshold  = 3
	accessWindow        = 5 * time.Minute
)

type entry struct {
	mu      sync.Mutex
	handle  pipeline.ModelHandle
	backend Backend
	refs    int64
}

// Pool is the thread-safe model cache.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*entry
	load    singleflight.Group

	loader       LoaderFunc
	fallbacks    map[string][]string
	ttlHot       time.Duration
	ttlWarm      time.Duration
	ttlCold      time.Duration

	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup

	statsMu   sync.Mutex
	loads     int64
	evictions int64
	fallbacksUsed int64
}

// Config configures TTL tiers and the fallback chain table.
type Config struct {
	TTLHotSeconds  int
	TTLWarmSeconds int
	TTLColdSeconds int
	FallbackChain  map[string][]string
}

// New builds a Pool. Zero-valued TTL fields fall back to the spec defaults
// (300s/45s/15s).
func New(loader LoaderFunc, cfg Config) *Pool {
	hot, warm, cold := cfg.TTLHotSeconds, cfg.TTLWarmSeconds, cfg.TTLColdSeconds
	if hot <= 0 {
		hot = 300
	}
	if warm <= 0 {
		warm = 45
	}
	if cold <= 0 {
		cold = 15
	}
	fallbacks := cfg.FallbackChain
	if fallbacks == nil {
		fallbacks = make(map[string][]string)
	}
	return &Pool{
		entries:   make(map[string]*entry),
		loader:    loader,
		fallbacks: fallbacks,
		ttlHot:    time.Duration(hot) * time.Second,
		ttlWarm:   time.Duration(warm) * time.Second,
		ttlCold:   time.Duration(cold) * time.Second,
	}
}

// SelectQuantization implements the spec's expected-output-size heuristic:
// IQ3-class below 200 tokens, Q4-class for 200-800, Q5-class above 800.
func SelectQuantization(expectedOutputTokens int) pipeline.Quantization {
	switch {
	case expectedOutputTokens < 200:
		return pipeline.QuantIQ3XXS
	case expectedOutputTokens <= 800:
		return pipeline.QuantQ4KM
	default:
		return pipeline.QuantQ5KM
	}
}

// StartSweeper launches the background TTL sweeper at the given cadence.
func (p *Pool) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.sweepCancel = cancel
	p.sweepWG.Add(1)
	go func() {
		defer p.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.sweep()
			}
		}
	}()
}

// StopSweeper halts the background sweeper, if running.
func (p *Pool) StopSweeper() {
	if p.sweepCancel != nil {
		p.sweepCancel()
		p.sweepWG.Wait()
	}
}

// Lease is the handle returned by Acquire. It carries the acquired
// ModelHandle snapshot and pins the specific entry the acquisition resolved
// to, so that Release always drops the reference that was actually taken
// even if a concurrent reload has since replaced the pool's entry for name.
type Lease struct {
	pipeline.ModelHandle
	entry *entry
}

// Acquire returns the handle for name, loading it if absent. contextWindow
// and an optional quantization override (pass "" to let the pool select)
// govern the load. The caller must call Release when done; while held, the
// handle's reference count is >= 1 and it cannot be evicted.
func (p *Pool) Acquire(ctx context.Context, name string, contextWindow int, expectedOutputTokens int, quantOverride pipeline.Quantization) (*Lease, error) {
	e, err := p.acquireEntry(ctx, name, contextWindow, expectedOutputTokens, quantOverride)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	handle := e.handle
	e.mu.Unlock()
	return &Lease{ModelHandle: handle, entry: e}, nil
}

// Release drops the reference a Lease holds. It decrements the refcount on
// the entry the originating Acquire actually resolved to, not whatever
// p.entries[name] currently holds, so a concurrent reload that swaps the map
// entry out from under a held lease can't cause it to decrement the wrong
// entry or leak the superseded backend.
func (p *Pool) Release(lease *Lease) {
	if lease == nil || lease.entry == nil {
		return
	}
	atomic.AddInt64(&lease.entry.refs, -1)
}

// Generate runs prompt against name, consulting name's fallback chain on
// failure. The first substitute to succeed is used and a degradation event
// is recorded; if every candidate fails, ErrGenerationUnavailable is
// returned.
func (p *Pool) Generate(ctx context.Context, name, prompt string, contextWindow, expectedOutputTokens int) (text string, usedName string, degraded bool, err error) {
	candidates := append([]string{name}, p.fallbacks[name]...)
	for i, candidate := range candidates {
		e, acquireErr := p.acquireEntry(ctx, candidate, contextWindow, expectedOutputTokens, "")
		if acquireErr != nil {
			continue
		}
		out, genErr := e.backend.Generate(ctx, prompt)
		atomic.AddInt64(&e.refs, -1)
		if genErr == nil {
			if i > 0 {
				p.statsMu.Lock()
				p.fallbacksUsed++
				p.statsMu.Unlock()
			}
			return out, candidate, i > 0, nil
		}
	}
	return "", "", false, ErrGenerationUnavailable
}

func (p *Pool) acquireEntry(ctx context.Context, name string, contextWindow int, expectedOutputTokens int, quantOverride pipeline.Quantization) (*entry, error) {
	p.mu.RLock()
	e, ok := p.entries[name]
	p.mu.RUnlock()

	if ok {
		e.mu.Lock()
		needsReload := contextWindow > e.handle.ContextWindow
		e.mu.Unlock()
		if !needsReload {
			p.touch(e)
			atomic.AddInt64(&e.refs, 1)
			return e, nil
		}
		// Context window grew: reload at the larger window, same quantization.
		return p.load1(ctx, name, contextWindow, expectedOutputTokens, e.handle.Quantization)
	}

	return p.load1(ctx, name, contextWindow, expectedOutputTokens, quantOverride)
}

func (p *Pool) load1(ctx context.Context, name string, contextWindow, expectedOutputTokens int, quantOverride pipeline.Quantization) (*entry, error) {
	v, err, _ := p.load.Do(name, func() (interface{}, error) {
		quant := quantOverride
		if quant == "" {
			quant = SelectQuantization(expectedOutputTokens)
		}
		backend, loadErr := p.loader(ctx, name, contextWindow, quant)
		if loadErr != nil {
			return nil, loadErr
		}

		e := &entry{
			handle: pipeline.ModelHandle{
				Name:          name,
				Backend:       pipeline.BackendGGUF,
				Quantization:  quant,
				ContextWindow: contextWindow,
				LastUsed:      time.Now(),
			},
			backend: backend,
		}
		p.mu.Lock()
		p.entries[name] = e
		p.mu.Unlock()
		p.statsMu.Lock()
		p.loads++
		p.statsMu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	e := v.(*entry)
	p.touch(e)
	atomic.AddInt64(&e.refs, 1)
	return e, nil
}

func (p *Pool) touch(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	e.handle.LastUsed = now
	e.handle.AccessHistory = append(e.handle.AccessHistory, now)
	cutoff := now.Add(-accessWindow)
	filtered := e.handle.AccessHistory[:0]
	for _, t := range e.handle.AccessHistory {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	e.handle.AccessHistory = filtered
}

// tier returns the Hot/Warm/Cold TTL tier for an entry given its recent
// access history.
func (p *Pool) tier(e *entry) time.Duration {
	e.mu.Lock()
	cutoff := time.Now().Add(-accessWindow)
	accesses := 0
	for _, t := range e.handle.AccessHistory {
		if t.After(cutoff) {
			accesses++
		}
	}
	e.mu.Unlock()
	switch {
	case accesses >= hotAccessThreshold:
		return p.ttlHot
	case accesses >= 1:
		return p.ttlWarm
	default:
		return p.ttlCold
	}
}

func (p *Pool) sweep() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, e := range p.entries {
		if atomic.LoadInt64(&e.refs) > 0 {
			continue
		}
		ttl := p.tier(e)
		e.mu.Lock()
		idle := now.Sub(e.handle.LastUsed)
		e.mu.Unlock()
		if idle >= ttl {
			_ = e.backend.Unload()
			delete(p.entries, name)
			p.statsMu.Lock()
			p.evictions++
			p.statsMu.Unlock()
		}
	}
}

// Stats returns a read-only snapshot of pool counters and the current
// Hot/Warm/Cold distribution.
func (p *Pool) Stats() pipeline.PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := pipeline.PoolStats{}
	p.statsMu.Lock()
	stats.Loads = p.loads
	stats.Evictions = p.evictions
	stats.Fallbacks = p.fallbacksUsed
	p.statsMu.Unlock()

	for _, e := range p.entries {
		ttl := p.tier(e)
		switch ttl {
		case p.ttlHot:
			stats.HotCount++
		case p.ttlWarm:
			stats.WarmCount++
		default:
			stats.ColdCount++
		}
	}
	return stats
}
