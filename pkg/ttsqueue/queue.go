// Package ttsqueue implements the TTS streaming queue: a priority scheduler
// that turns a stream of sentences into back-to-back spoken audio with
// bounded inter-sentence gaps.
//
// Grounded on the teacher's managed_stream.go single-owner playback model
// (a dedicated goroutine is the sole writer of playback order, mutable
// state guarded by a mutex never held across a suspension point) and on
// the priority-queue idiom from the pack's dependency graph
// (github.com/emirpasic/gods/v2/queues/priorityqueue).
package ttsqueue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/emirpasic/gods/v2/queues/priorityqueue"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/ewma"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// ErrInvalidSpeed is returned by Enqueue when speed falls outside [0.5, 2.0].
var ErrInvalidSpeed = errors.New("ttsqueue: speed must be within [0.5, 2.0]")

// ErrNotRunning is returned by Enqueue after Stop.
var ErrNotRunning = errors.New("ttsqueue: queue is not running")

const (
	maxSynthesisRetries = 2
	retryBackoffBase    = 25 * time.Millisecond
	retryBackoffMax     = 100 * time.Millisecond
)

// SynthesizeFunc renders text to audio bytes for a single sentence.
type SynthesizeFunc func(ctx context.Context, text string, speed float64) ([]byte, error)

// Callbacks are the queue's event sinks. Any nil callback is a no-op.
type Callbacks struct {
	OnAudioChunk      func(ordinal int, chunk []byte)
	OnSentenceComplete func(ordinal int)
	OnUnderrun        func(ordinal int, reason error)
}

type queuedJob struct {
	job      pipeline.TTSJob
	priority pipeline.Priority
	seq      int64 // FIFO tie-break within equal priority
}

// Queue is the priority-ordered TTS streaming scheduler. Exactly one
// goroutine (the playback worker) ever advances playback order; synthesis
// may run with bounded parallelism ahead of playback.
type Queue struct {
	capacity int
	parallel int64
	gapMS    int
	overlapMarginMS int

	synthesize SynthesizeFunc
	predictor  *ewma.Predictor
	callbacks  Callbacks

	mu       sync.Mutex
	heap     *priorityqueue.Queue[*queuedJob]
	jobs     map[string]*pipeline.TTSJob
	audio    map[int][]byte // ordinal -> synthesized audio, once Ready
	cancelled map[int]bool
	seqCounter int64

	running    bool
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	sem        *semaphore.Weighted

	nextPlayOrdinal int
	lastPlaybackEnd time.Time

	// prevPlaybackEnd and prevDurationSeconds track t_playback_end(n-1) and
	// L_{n-1} for the overlap-aware scheduling formula (spec 4.E): the
	// predicted moment the most recently started sentence finishes playing,
	// and its estimated spoken length. Zero until the first sentence starts.
	prevPlaybackEnd     time.Time
	prevDurationSeconds float64

	statsMu   sync.Mutex
	completed int64
	cancelCnt int64
	failed    int64
	gapSumMS  float64
	gapCount  int64
	maxGapMS  float64
}

// New builds a Queue. capacity <= 0 defaults to 64; parallel <= 0 defaults to 2.
func New(capacity, parallel, gapTargetMS, overlapMarginMS int, synthesize SynthesizeFunc, predictor *ewma.Predictor, cb Callbacks) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	if parallel <= 0 {
		parallel = 2
	}
	if gapTargetMS <= 0 {
		gapTargetMS = 50
	}
	if overlapMarginMS <= 0 {
		overlapMarginMS = 300
	}
	cmp := func(a, b *queuedJob) int {
		if a.priority != b.priority {
			return int(b.priority) - int(a.priority) // higher priority first
		}
		if a.seq != b.seq {
			if a.seq < b.seq {
				return -1
			}
			return 1
		}
		return 0
	}
	return &Queue{
		capacity:        capacity,
		parallel:        int64(parallel),
		gapMS:           gapTargetMS,
		overlapMarginMS: overlapMarginMS,
		synthesize:      synthesize,
		predictor:       predictor,
		callbacks:       cb,
		heap:            priorityqueue.NewWith(cmp),
		jobs:            make(map[string]*pipeline.TTSJob),
		audio:           make(map[int][]byte),
		cancelled:       make(map[int]bool),
		sem:             semaphore.NewWeighted(int64(parallel)),
	}
}

// Start is idempotent; calling it twice has the same effect as calling it once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.running = true
	q.cancelFunc = cancel
	q.nextPlayOrdinal = 0
	q.lastPlaybackEnd = time.Now()
	q.prevPlaybackEnd = time.Time{}
	q.prevDurationSeconds = 0
	q.mu.Unlock()

	q.wg.Add(1)
	go q.playbackLoop(runCtx)
}

// Stop is idempotent. When cancel is true, pending and in-flight jobs are
// cancelled immediately; otherwise pending jobs drain before Stop returns.
func (q *Queue) Stop(cancel bool) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancelFn := q.cancelFunc
	q.mu.Unlock()

	if cancel && cancelFn != nil {
		cancelFn()
	}
	q.wg.Wait()
	if cancelFn != nil {
		cancelFn()
	}
}

// defaultDurationEstimateSeconds is used when a caller doesn't know the
// sentence's estimated spoken length (e.g. tests exercising ordering or
// failure paths rather than the scheduling formula itself).
const defaultDurationEstimateSeconds = 0.5

// Enqueue submits text for synthesis at ordinal, returning a job id.
// estimatedDurationSeconds is the sentence splitter's estimated spoken
// length (Sentence.EstimatedDurationSeconds); it feeds the overlap-aware
// scheduler as L for this sentence once it starts playing. Pass <= 0 to
// fall back to defaultDurationEstimateSeconds.
func (q *Queue) Enqueue(ordinal int, text string, priority pipeline.Priority, speed float64, estimatedDurationSeconds float64) (string, error) {
	if speed == 0 {
		speed = 1.0
	}
	if speed < 0.5 || speed > 2.0 {
		return "", ErrInvalidSpeed
	}
	if estimatedDurationSeconds <= 0 {
		estimatedDurationSeconds = defaultDurationEstimateSeconds
	}

	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return "", ErrNotRunning
	}

	// Back-pressure: above 90% fullness, producers spill new work to Low
	// priority rather than blocking the generator outright.
	if q.heap.Size() >= (q.capacity*9)/10 && priority != pipeline.PriorityCritical {
		priority = pipeline.PriorityLow
	}

	id := uuid.NewString()
	q.seqCounter++
	job := pipeline.TTSJob{
		ID:                      id,
		Ordinal:                 ordinal,
		Text:                    text,
		Priority:                priority,
		Speed:                   speed,
		SubmitTime:              time.Now(),
		State:                   pipeline.JobQueued,
		DurationEstimateSeconds: estimatedDurationSeconds,
	}
	q.jobs[id] = &job
	q.heap.Enqueue(&queuedJob{job: job, priority: priority, seq: q.seqCounter})
	q.mu.Unlock()

	q.maybeStartSynthesis()
	return id, nil
}

// EnqueueFiller synthesizes text immediately on its own goroutine and plays
// it out-of-band, bypassing the strict-ordinal playback loop entirely. The
// Silence Gap Monitor (J) uses this for filler phrases: a filler exists to
// interrupt a gap that is forming right now, so it cannot wait for an
// ordinal slot that may never come due (playbackLoop only ever advances
// nextPlayOrdinal forward from 0). Returns a synthetic job id for logging.
func (q *Queue) EnqueueFiller(text string, speed float64) (string, error) {
	if speed == 0 {
		speed = 1.0
	}
	if speed < 0.5 || speed > 2.0 {
		return "", ErrInvalidSpeed
	}

	q.mu.Lock()
	running := q.running
	q.mu.Unlock()
	if !running {
		return "", ErrNotRunning
	}

	id := uuid.NewString()
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		audio, err := q.synthesize(context.Background(), text, speed)
		if err != nil {
			if q.callbacks.OnUnderrun != nil {
				q.callbacks.OnUnderrun(fillerOrdinal, err)
			}
			return
		}
		if q.callbacks.OnAudioChunk != nil {
			q.callbacks.OnAudioChunk(fillerOrdinal, audio)
		}
	}()
	return id, nil
}

// fillerOrdinal tags audio handed to OnAudioChunk via EnqueueFiller, so
// callers can tell a filler apart from an ordinal sentence without it ever
// being mistaken for one (ordinals are always >= 0).
const fillerOrdinal = -1

// Cancel cancels a single job by id, or, when jobID is empty, every job not
// yet done whose ordinal > afterOrdinal (afterOrdinal -1 cancels them all).
// Returns the count cancelled.
func (q *Queue) Cancel(jobID string, afterOrdinal int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	if jobID != "" {
		if job, ok := q.jobs[jobID]; ok && job.State != pipeline.JobDone && job.State != pipeline.JobPlaying {
			job.State = pipeline.JobCancelled
			q.cancelled[job.Ordinal] = true
			count++
		}
		return count
	}

	for _, job := range q.jobs {
		if job.Ordinal > afterOrdinal && job.State != pipeline.JobDone {
			job.State = pipeline.JobCancelled
			q.cancelled[job.Ordinal] = true
			count++
		}
	}
	q.statsMu.Lock()
	q.cancelCnt += int64(count)
	q.statsMu.Unlock()
	return count
}

// Stats returns a read-only snapshot of queue counters.
func (q *Queue) Stats() pipeline.QueueStats {
	mean, confidence := q.predictor.Predict()
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	avgGap := 0.0
	if q.gapCount > 0 {
		avgGap = q.gapSumMS / float64(q.gapCount)
	}
	return pipeline.QueueStats{
		EWMAMean:   mean,
		Confidence: confidence,
		Completed:  q.completed,
		Cancelled:  q.cancelCnt,
		Failed:     q.failed,
		AvgGapMS:   avgGap,
		MaxGapMS:   q.maxGapMS,
	}
}

// maybeStartSynthesis kicks off a bounded synthesis worker for the
// highest-priority pending job, if a slot is free and the overlap-aware
// scheduling formula (spec 4.E) says it's time. For the n-th sentence, with
// predicted synthesis time p_n (EWMA), observed/estimated playback length of
// the previous sentence L_{n-1}, target gap G, and safety margin M:
//
//	t_start(n) = t_playback_end(n-1) - min(p_n, L_{n-1}) + G + (1-confidence)*M
//
// If that time hasn't arrived yet, the job is put back and retried once it
// has, rather than starting synthesis the instant a worker slot frees up.
func (q *Queue) maybeStartSynthesis() {
	if !q.sem.TryAcquire(1) {
		return
	}

	q.mu.Lock()
	qj, ok := q.heap.Dequeue()
	if !ok {
		q.mu.Unlock()
		q.sem.Release(1)
		return
	}
	job := q.jobs[qj.job.ID]
	if job == nil || job.State == pipeline.JobCancelled {
		q.mu.Unlock()
		q.sem.Release(1)
		return
	}

	delay := q.synthesisDelayLocked()
	if delay > 0 {
		// Not yet time for this job's synthesis to start: hand the slot
		// back and retry once t_start(n) arrives. seq is preserved on the
		// queuedJob so FIFO tie-breaking among equal priorities is unaffected.
		q.heap.Enqueue(qj)
		q.mu.Unlock()
		q.sem.Release(1)
		time.AfterFunc(delay, q.maybeStartSynthesis)
		return
	}

	job.State = pipeline.JobSynthesizing
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.sem.Release(1)
		q.synthesizeJob(job)
		q.maybeStartSynthesis() // pull the next pending job into the freed slot
	}()
}

// synthesisDelayLocked computes time.Until(t_start(n)) for the job about to
// be scheduled. Must be called with q.mu held. Returns 0 (start now) when no
// sentence has started playing yet, since there's nothing to overlap with.
func (q *Queue) synthesisDelayLocked() time.Duration {
	if q.prevPlaybackEnd.IsZero() {
		return 0
	}
	pN, confidence := q.predictor.Predict()
	lPrev := q.prevDurationSeconds
	minOverlap := pN
	if lPrev < minOverlap {
		minOverlap = lPrev
	}
	gap := time.Duration(q.gapMS) * time.Millisecond
	margin := time.Duration(float64(q.overlapMarginMS)*(1-confidence)) * time.Millisecond

	tStart := q.prevPlaybackEnd.
		Add(-time.Duration(minOverlap * float64(time.Second))).
		Add(gap).
		Add(margin)
	return time.Until(tStart)
}

func (q *Queue) synthesizeJob(job *pipeline.TTSJob) {
	ctx := context.Background()
	var audio []byte
	var err error

	backoffs := []time.Duration{retryBackoffBase, retryBackoffMax}
	for attempt := 0; attempt <= maxSynthesisRetries; attempt++ {
		start := time.Now()
		audio, err = q.synthesize(ctx, job.Text, job.Speed)
		if err == nil {
			q.predictor.Observe(time.Since(start).Seconds())
			break
		}
		if attempt < len(backoffs) {
			jitter := time.Duration(rand.Int63n(int64(backoffs[attempt] / 2)))
			time.Sleep(backoffs[attempt] + jitter)
		}
	}

	q.mu.Lock()
	if job.State == pipeline.JobCancelled {
		q.mu.Unlock()
		return
	}
	if err != nil {
		job.State = pipeline.JobFailed
		q.cancelled[job.Ordinal] = true // playbackLoop skips the failed ordinal
		q.mu.Unlock()
		q.statsMu.Lock()
		q.failed++
		q.statsMu.Unlock()
		if q.callbacks.OnUnderrun != nil {
			q.callbacks.OnUnderrun(job.Ordinal, err)
		}
		return
	}
	job.State = pipeline.JobReady
	q.audio[job.Ordinal] = audio
	q.mu.Unlock()
}

// playbackLoop is the single cooperative task that owns playback ordering.
func (q *Queue) playbackLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		q.mu.Lock()
		if !q.running {
			pending := false
			for _, job := range q.jobs {
				if job.State == pipeline.JobQueued || job.State == pipeline.JobSynthesizing || job.State == pipeline.JobReady {
					pending = true
					break
				}
			}
			if !pending {
				q.mu.Unlock()
				return
			}
		}
		ordinal := q.nextPlayOrdinal
		if q.cancelled[ordinal] {
			delete(q.cancelled, ordinal)
			q.nextPlayOrdinal++
			q.mu.Unlock()
			continue
		}
		audio, ready := q.audio[ordinal]
		earliestPlay := q.prevPlaybackEnd
		if !earliestPlay.IsZero() {
			earliestPlay = earliestPlay.Add(time.Duration(q.gapMS) * time.Millisecond)
		}
		var durationEstimate float64
		if job, ok := q.findByOrdinalLocked(ordinal); ok {
			durationEstimate = job.DurationEstimateSeconds
		}
		q.mu.Unlock()
		if !ready {
			continue
		}
		if !earliestPlay.IsZero() && time.Now().Before(earliestPlay) {
			// Synthesis finished before the target gap elapsed: hold the
			// audio and play at t_playback_end(n-1) + G instead of back to
			// back, per spec 4.E.
			continue
		}
		if durationEstimate <= 0 {
			durationEstimate = defaultDurationEstimateSeconds
		}

		gap := time.Since(q.lastPlaybackEnd)
		q.recordGap(gap)

		q.mu.Lock()
		if job, ok := q.findByOrdinalLocked(ordinal); ok {
			job.State = pipeline.JobPlaying
		}
		delete(q.audio, ordinal)
		q.mu.Unlock()

		playStart := time.Now()
		if q.callbacks.OnAudioChunk != nil {
			q.callbacks.OnAudioChunk(ordinal, audio)
		}

		q.mu.Lock()
		if job, ok := q.findByOrdinalLocked(ordinal); ok {
			job.State = pipeline.JobDone
		}
		q.nextPlayOrdinal++
		q.prevPlaybackEnd = playStart.Add(time.Duration(durationEstimate * float64(time.Second)))
		q.prevDurationSeconds = durationEstimate
		q.mu.Unlock()

		q.lastPlaybackEnd = time.Now()
		q.statsMu.Lock()
		q.completed++
		q.statsMu.Unlock()
		if q.callbacks.OnSentenceComplete != nil {
			q.callbacks.OnSentenceComplete(ordinal)
		}
	}
}

func (q *Queue) findByOrdinalLocked(ordinal int) (*pipeline.TTSJob, bool) {
	for _, job := range q.jobs {
		if job.Ordinal == ordinal {
			return job, true
		}
	}
	return nil, false
}

func (q *Queue) recordGap(gap time.Duration) {
	gapMS := float64(gap.Milliseconds())
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	q.gapSumMS += gapMS
	q.gapCount++
	if gapMS > q.maxGapMS {
		q.maxGapMS = gapMS
	}
}
