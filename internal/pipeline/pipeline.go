// Package pipeline drives the whole transcription pipeline for one
// recording: segmentation, bounded-parallel transcription through the
// admission gate, a retry pass for recoverable failures, and the final merge.
//
// Per-segment transcription failures are contained — they degrade the final
// transcript's coverage but never fail the job. Only splitting and merging
// faults (and authentication failures surfacing from the client) abort the
// whole run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/voxsplit/voxsplit/internal/observe"
	"github.com/voxsplit/voxsplit/pkg/audio"
	"github.com/voxsplit/voxsplit/pkg/gate"
	"github.com/voxsplit/voxsplit/pkg/segment"
	"github.com/voxsplit/voxsplit/pkg/transcribe"
)

// State is the orchestrator's lifecycle state for one run.
type State string

const (
	StateIdle         State = "idle"
	StateSplitting    State = "splitting"
	StateTranscribing State = "transcribing"
	StateMerging      State = "merging"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// ErrNoSegments is returned when segmentation yields nothing to transcribe,
// e.g. for a recording shorter than the minimum segment duration.
var ErrNoSegments = errors.New("pipeline: segmentation produced no segments")

// ProgressFunc is invoked after every segment settlement with the number of
// segments that have completed or failed at least once, and the total count.
type ProgressFunc func(done, total int)

// Config holds the pipeline tuning knobs. Zero values select the defaults.
type Config struct {
	// SegmentDuration is the nominal window length in seconds. Default 60.
	SegmentDuration float64

	// Overlap is the window overlap in seconds. Default 1.
	Overlap float64

	// BitDepth is the segment payload bit depth (8 or 16). Default 16.
	// A 16-bit payload rejected as too large is re-encoded at 8 bits for
	// the retry pass.
	BitDepth int

	// Concurrency is the admission gate width. Default 4.
	Concurrency int

	// MinSpacing is the global rate floor between call admissions.
	// Default 500 ms.
	MinSpacing time.Duration

	// RetryRounds is how many extra waves a retryably-failed segment may
	// join after the initial one. Default 2, so a segment failing every time
	// is attempted 3 times in total at this level.
	RetryRounds int

	// CallTimeout bounds a single admitted transcription call. Default 5 m.
	CallTimeout time.Duration

	// Language and Model are optional hints forwarded with every request.
	Language string
	Model    string
}

const defaultRetryRounds = 2

func (c Config) withDefaults() Config {
	if c.SegmentDuration == 0 {
		c.SegmentDuration = 60
	}
	if c.Overlap == 0 {
		c.Overlap = 1
	}
	if c.BitDepth == 0 {
		c.BitDepth = audio.BitDepth16
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.MinSpacing == 0 {
		c.MinSpacing = 500 * time.Millisecond
	}
	if c.RetryRounds == 0 {
		c.RetryRounds = defaultRetryRounds
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 5 * time.Minute
	}
	return c
}

// FailedSegment records a segment that stayed failed after all retry rounds.
type FailedSegment struct {
	Index int
	Err   error
}

// Result is the outcome of a completed run.
type Result struct {
	Transcript transcribe.Transcript

	TotalSegments int
	Succeeded     int
	Failed        []FailedSegment

	// Message summarises partial success ("transcribed 7/9 segments");
	// empty when every segment succeeded.
	Message string
}

// Orchestrator runs the pipeline. One Run may be active at a time; create a
// fresh Orchestrator per concurrent job.
type Orchestrator struct {
	client  transcribe.Client
	cfg     Config
	gate    *gate.Gate
	metrics *observe.Metrics

	progress  ProgressFunc
	stateHook func(State)

	mu    sync.Mutex
	state State
}

// Option is a functional option for New.
type Option func(*Orchestrator)

// WithProgress registers a callback invoked after every segment settlement.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithStateHook registers a callback invoked on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.stateHook = fn }
}

// WithMetrics wires pipeline metrics. Nil (the default) disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator around client. The client performs a single
// network call per invocation; wrap it in [transcribe.Retrying] to get
// per-call backoff underneath the orchestrator's own retry pass.
func New(client transcribe.Client, cfg Config, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("pipeline: client must not be nil")
	}
	cfg = cfg.withDefaults()
	g, err := gate.New(cfg.Concurrency, cfg.MinSpacing)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	o := &Orchestrator{
		client: client,
		cfg:    cfg,
		gate:   g,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	hook := o.stateHook
	o.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}

// segJob is the per-segment bookkeeping unit of one run.
type segJob struct {
	seg        segment.Segment
	frag       *transcribe.Fragment
	err        error
	retries    int
	settled    bool
	downgraded bool
}

// runState holds the progress counters for one run. They are mutated from
// many settlement goroutines, so every access goes through Orchestrator.mu.
type runState struct {
	done  int
	total int

	// fatal is the first authentication failure seen. Credentials are shared
	// across all segments, so one auth rejection dooms the whole run.
	fatal error
}

// Run executes the full pipeline over w and returns the merged transcript.
//
// Cancellation is cooperative: once ctx is cancelled no new segment is
// queued, already-admitted calls run to completion on a detached context,
// the run returns ctx.Err(), and the state returns to idle without a result.
func (o *Orchestrator) Run(ctx context.Context, w *audio.Waveform) (*Result, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.ActiveJobs.Add(ctx, 1)
		defer o.metrics.ActiveJobs.Add(context.WithoutCancel(ctx), -1)
	}

	// ── Splitting ─────────────────────────────────────────────────────────
	o.setState(StateSplitting)
	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()

	segs, err := segment.Split(w, segment.Options{
		SegmentDuration: o.cfg.SegmentDuration,
		Overlap:         o.cfg.Overlap,
		BitDepth:        o.cfg.BitDepth,
	})
	if err != nil {
		o.setState(StateError)
		return nil, fmt.Errorf("pipeline: split: %w", err)
	}
	if len(segs) == 0 {
		o.setState(StateError)
		return nil, ErrNoSegments
	}
	if o.metrics != nil {
		o.metrics.SegmentsProduced.Add(ctx, int64(len(segs)))
	}
	observe.Logger(ctx).Info("waveform split",
		"segments", len(segs),
		"duration_s", w.Duration(),
	)

	// ── Transcribing ──────────────────────────────────────────────────────
	o.setState(StateTranscribing)
	jobs := make([]*segJob, len(segs))
	for i, s := range segs {
		jobs[i] = &segJob{seg: s}
	}
	rs := &runState{total: len(jobs)}

	wave := jobs
	for round := 0; len(wave) > 0 && ctx.Err() == nil; round++ {
		if round > 0 {
			observe.Logger(ctx).Info("retry pass", "round", round, "segments", len(wave))
			if o.metrics != nil {
				o.metrics.SegmentRetries.Add(ctx, int64(len(wave)))
			}
		}
		o.runWave(ctx, wave, rs)
		if o.fatal(rs) != nil {
			break
		}
		wave = o.nextWave(wave)
	}

	if err := ctx.Err(); err != nil {
		o.setState(StateIdle)
		return nil, err
	}
	if err := o.fatal(rs); err != nil {
		o.setState(StateError)
		observe.Logger(ctx).Error("aborting run", "err", err)
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	// ── Merging ───────────────────────────────────────────────────────────
	o.setState(StateMerging)
	var fragments []transcribe.Fragment
	var failed []FailedSegment
	for _, sj := range jobs {
		if sj.err != nil {
			failed = append(failed, FailedSegment{Index: sj.seg.Index, Err: sj.err})
			continue
		}
		fragments = append(fragments, *sj.frag)
	}
	transcript := transcribe.Merge(fragments)

	o.setState(StateCompleted)
	if o.metrics != nil {
		o.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	}

	res := &Result{
		Transcript:    transcript,
		TotalSegments: len(jobs),
		Succeeded:     len(fragments),
		Failed:        failed,
	}
	if len(failed) > 0 {
		res.Message = fmt.Sprintf("transcribed %d/%d segments", res.Succeeded, res.TotalSegments)
		observe.Logger(ctx).Warn("pipeline completed with failures",
			"succeeded", res.Succeeded,
			"total", res.TotalSegments,
		)
	}
	return res, nil
}

// runWave submits every job in wave through the gate and waits for all of
// them to settle, success or failure, independent of each other's outcome.
func (o *Orchestrator) runWave(ctx context.Context, wave []*segJob, rs *runState) {
	var eg errgroup.Group
	for _, sj := range wave {
		if ctx.Err() != nil {
			break // cancelled: stop dispatching new submissions
		}
		eg.Go(func() error {
			err := o.gate.Do(ctx, func(ctx context.Context) error {
				return o.transcribeSegment(ctx, sj)
			})
			o.settle(ctx, sj, err, rs)
			return nil
		})
	}
	eg.Wait()
}

// transcribeSegment performs one admitted transcription call. The call runs
// on a context detached from cancellation so that an admitted in-flight call
// is never forcibly interrupted, bounded by CallTimeout instead.
func (o *Orchestrator) transcribeSegment(ctx context.Context, sj *segJob) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	frag, err := o.client.Transcribe(callCtx, transcribe.Request{
		Payload:  sj.seg.Payload,
		Filename: fmt.Sprintf("segment-%03d.wav", sj.seg.Index),
		Language: o.cfg.Language,
		Model:    o.cfg.Model,
	})
	if o.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.metrics.TranscribeDuration.Record(callCtx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", status)))
	}
	if err != nil {
		// A CallTimeout expiry is a slow or hung server, not a verdict on the
		// payload: reclassify it as transient so the segment re-enters the
		// retry pass. Job cancellation keeps its raw error.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &transcribe.TransientError{
				Err: fmt.Errorf("call timed out after %s: %w", o.cfg.CallTimeout, err),
			}
		}
		return err
	}

	frag.Index = sj.seg.Index
	frag.Start = sj.seg.Start
	frag.End = sj.seg.End
	sj.frag = frag
	return nil
}

// settle records one segment outcome and reports progress. Cancellation
// while queued is not a settlement — the run is abandoned anyway.
func (o *Orchestrator) settle(ctx context.Context, sj *segJob, err error, rs *runState) {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}

	o.mu.Lock()
	sj.err = err
	if !sj.settled {
		sj.settled = true
		rs.done++
	}
	var authErr *transcribe.AuthError
	if errors.As(err, &authErr) && rs.fatal == nil {
		rs.fatal = err
	}
	done, total := rs.done, rs.total
	cb := o.progress
	o.mu.Unlock()

	if err != nil {
		slog.Debug("segment failed",
			"index", sj.seg.Index,
			"retryable", transcribe.Retryable(err),
			"err", err,
		)
		if o.metrics != nil {
			o.metrics.SegmentsFailed.Add(context.WithoutCancel(ctx), 1)
		}
	}
	if cb != nil {
		cb(done, total)
	}
}

// fatal returns the run's recorded authentication failure, if any.
func (o *Orchestrator) fatal(rs *runState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return rs.fatal
}

// nextWave selects the segments joining the next retry pass: retryably
// failed and still within the per-segment retry budget. A payload rejected
// as too large re-enters once when a smaller encoding exists.
func (o *Orchestrator) nextWave(wave []*segJob) []*segJob {
	var next []*segJob
	for _, sj := range wave {
		if sj.err == nil || sj.retries >= o.cfg.RetryRounds {
			continue
		}
		if !transcribe.Retryable(sj.err) && !o.downgradePayload(sj) {
			continue
		}
		sj.retries++
		next = append(next, sj)
	}
	return next
}

// downgradePayload re-encodes a 16-bit segment payload at 8 bits after the
// service rejected it as too large, halving its size. A payload already at
// 8 bits has no smaller encoding, so the failure stays terminal.
func (o *Orchestrator) downgradePayload(sj *segJob) bool {
	var tooLarge *transcribe.PayloadTooLargeError
	if !errors.As(sj.err, &tooLarge) || sj.downgraded || o.cfg.BitDepth != audio.BitDepth16 {
		return false
	}
	w, err := audio.DecodeWAV(sj.seg.Payload)
	if err != nil {
		return false
	}
	payload, err := audio.EncodeWAV(w, audio.BitDepth8)
	if err != nil {
		return false
	}
	sj.seg.Payload = payload
	sj.downgraded = true
	slog.Info("re-encoding segment at 8 bits after size rejection",
		"index", sj.seg.Index,
		"bytes", len(payload),
	)
	return true
}
