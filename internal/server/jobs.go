package server

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxsplit/voxsplit/internal/pipeline"
	"github.com/voxsplit/voxsplit/pkg/transcribe"
)

// stateCancelled marks a job aborted by the user. The pipeline itself never
// reports it; the job layer applies it when a run ends in context.Canceled,
// so that a cancelled job is distinguishable from a failed one.
const stateCancelled = pipeline.State("cancelled")

// Event is one progress update pushed to websocket subscribers.
type Event struct {
	JobID   string `json:"job_id"`
	State   string `json:"state"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Job tracks one transcription run from upload to completion. All fields
// behind mu; snapshots are taken via Snapshot.
type Job struct {
	ID       uuid.UUID
	Filename string

	mu         sync.Mutex
	state      pipeline.State
	done       int
	total      int
	failed     int
	message    string
	errText    string
	transcript *transcribe.Transcript
	createdAt  time.Time
	updatedAt  time.Time

	cancel context.CancelFunc
	subs   map[chan Event]struct{}
}

// JobView is an immutable snapshot of a job, shaped for JSON responses.
type JobView struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	State     string    `json:"state"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Failed    int       `json:"failed"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newJob(filename string, cancel context.CancelFunc) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.New(),
		Filename:  filename,
		state:     pipeline.StateIdle,
		createdAt: now,
		updatedAt: now,
		cancel:    cancel,
		subs:      make(map[chan Event]struct{}),
	}
}

// Snapshot returns the current job state as a [JobView].
func (j *Job) Snapshot() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobView{
		ID:        j.ID.String(),
		Filename:  j.Filename,
		State:     string(j.state),
		Done:      j.done,
		Total:     j.total,
		Failed:    j.failed,
		Message:   j.message,
		Error:     j.errText,
		CreatedAt: j.createdAt,
		UpdatedAt: j.updatedAt,
	}
}

// Transcript returns the merged transcript once the job has completed, or nil.
func (j *Job) Transcript() *transcribe.Transcript {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transcript
}

// Cancel aborts the job's pipeline run. Safe to call at any time.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// setState transitions the job and broadcasts the change.
func (j *Job) setState(s pipeline.State) {
	j.mu.Lock()
	j.state = s
	j.updatedAt = time.Now()
	j.mu.Unlock()
	j.broadcast()
}

// setProgress updates the settlement counters and broadcasts.
func (j *Job) setProgress(done, total int) {
	j.mu.Lock()
	j.done = done
	j.total = total
	j.updatedAt = time.Now()
	j.mu.Unlock()
	j.broadcast()
}

// complete records the final result and broadcasts the terminal event.
func (j *Job) complete(res *pipeline.Result) {
	j.mu.Lock()
	j.state = pipeline.StateCompleted
	j.transcript = &res.Transcript
	j.total = res.TotalSegments
	j.done = res.TotalSegments
	j.failed = len(res.Failed)
	j.message = res.Message
	j.updatedAt = time.Now()
	j.mu.Unlock()
	j.broadcast()
}

// fail records a terminal error and broadcasts it.
func (j *Job) fail(err error) {
	j.mu.Lock()
	j.state = pipeline.StateError
	j.errText = err.Error()
	j.updatedAt = time.Now()
	j.mu.Unlock()
	j.broadcast()
}

// markCancelled records a user-initiated abort and broadcasts it.
func (j *Job) markCancelled() {
	j.mu.Lock()
	j.state = stateCancelled
	j.updatedAt = time.Now()
	j.mu.Unlock()
	j.broadcast()
}

// Subscribe registers a progress channel. The channel receives a snapshot
// event immediately so late subscribers see the current state.
func (j *Job) Subscribe() chan Event {
	ch := make(chan Event, 16)
	j.mu.Lock()
	j.subs[ch] = struct{}{}
	ev := j.eventLocked()
	j.mu.Unlock()
	ch <- ev
	return ch
}

// Unsubscribe removes a channel registered with Subscribe.
func (j *Job) Unsubscribe(ch chan Event) {
	j.mu.Lock()
	delete(j.subs, ch)
	j.mu.Unlock()
}

// broadcast delivers the current state to every subscriber. Slow subscribers
// drop events rather than blocking the pipeline.
func (j *Job) broadcast() {
	j.mu.Lock()
	ev := j.eventLocked()
	for ch := range j.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	j.mu.Unlock()
}

func (j *Job) eventLocked() Event {
	return Event{
		JobID:   j.ID.String(),
		State:   string(j.state),
		Done:    j.done,
		Total:   j.total,
		Message: j.message,
		Error:   j.errText,
	}
}

// terminal reports whether the job has reached a final state.
func (j *Job) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return terminalState(string(j.state))
}

// terminalState reports whether s names a final job state.
func terminalState(s string) bool {
	switch pipeline.State(s) {
	case pipeline.StateCompleted, pipeline.StateError, stateCancelled:
		return true
	}
	return false
}

// defaultJobLimit caps how many jobs the registry retains. Finished jobs
// beyond the cap are evicted oldest-first; running jobs are never evicted.
const defaultJobLimit = 500

// JobRegistry is the in-memory index of active and recent jobs.
// It is safe for concurrent use.
type JobRegistry struct {
	limit int

	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
}

// NewJobRegistry returns an empty registry retaining at most limit jobs.
// A limit of zero or less selects the default cap.
func NewJobRegistry(limit int) *JobRegistry {
	if limit <= 0 {
		limit = defaultJobLimit
	}
	return &JobRegistry{
		limit: limit,
		jobs:  make(map[uuid.UUID]*Job),
	}
}

// Add inserts a job, evicting the oldest finished jobs when the registry
// exceeds its cap.
func (r *JobRegistry) Add(j *Job) {
	r.mu.Lock()
	r.jobs[j.ID] = j
	r.evictLocked()
	r.mu.Unlock()
}

// evictLocked drops the oldest terminal jobs until the registry fits its
// limit again. Jobs still running are kept even when the cap is exceeded.
func (r *JobRegistry) evictLocked() {
	if len(r.jobs) <= r.limit {
		return
	}
	finished := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if j.terminal() {
			finished = append(finished, j)
		}
	}
	slices.SortFunc(finished, func(a, b *Job) int {
		return a.createdAt.Compare(b.createdAt)
	})
	for _, j := range finished {
		if len(r.jobs) <= r.limit {
			return
		}
		delete(r.jobs, j.ID)
	}
}

// Get returns the job with the given ID, or nil.
func (r *JobRegistry) Get(id uuid.UUID) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}

// CancelAll aborts every registered job. Called on server shutdown.
func (r *JobRegistry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, j := range r.jobs {
		j.Cancel()
	}
}

// List returns snapshots of all jobs, newest first.
func (r *JobRegistry) List() []JobView {
	r.mu.RLock()
	views := make([]JobView, 0, len(r.jobs))
	for _, j := range r.jobs {
		views = append(views, j.Snapshot())
	}
	r.mu.RUnlock()

	slices.SortFunc(views, func(a, b JobView) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return views
}
