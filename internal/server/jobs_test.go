package server

import (
	"testing"
	"time"

	"github.com/voxsplit/voxsplit/internal/pipeline"
)

func finishedJob(name string, age time.Duration) *Job {
	j := newJob(name, nil)
	j.mu.Lock()
	j.state = pipeline.StateCompleted
	j.createdAt = time.Now().Add(-age)
	j.mu.Unlock()
	return j
}

func TestRegistryEvictsOldestFinished(t *testing.T) {
	r := NewJobRegistry(2)

	oldest := finishedJob("oldest.wav", 3*time.Hour)
	middle := finishedJob("middle.wav", 2*time.Hour)
	r.Add(oldest)
	r.Add(middle)
	r.Add(finishedJob("newest.wav", time.Hour))

	if got := len(r.List()); got != 2 {
		t.Fatalf("registry holds %d jobs, want 2", got)
	}
	if r.Get(oldest.ID) != nil {
		t.Errorf("oldest finished job survived eviction")
	}
	if r.Get(middle.ID) == nil {
		t.Errorf("middle job evicted, want kept")
	}
}

func TestRegistryNeverEvictsRunningJobs(t *testing.T) {
	r := NewJobRegistry(2)

	running := make([]*Job, 3)
	for i, name := range []string{"a.wav", "b.wav", "c.wav"} {
		running[i] = newJob(name, nil)
		running[i].setState(pipeline.StateTranscribing)
		r.Add(running[i])
	}

	// Over the cap, but nothing is finished yet.
	if got := len(r.List()); got != 3 {
		t.Fatalf("registry holds %d jobs, want all 3 running ones", got)
	}

	running[0].complete(&pipeline.Result{})
	r.Add(finishedJob("d.wav", 0))

	if r.Get(running[0].ID) != nil {
		t.Errorf("finished job kept while registry is over its cap")
	}
	for _, j := range running[1:] {
		if r.Get(j.ID) == nil {
			t.Errorf("running job %s evicted", j.Filename)
		}
	}
}

func TestRegistryDefaultLimit(t *testing.T) {
	if r := NewJobRegistry(0); r.limit != defaultJobLimit {
		t.Errorf("limit = %d, want %d", r.limit, defaultJobLimit)
	}
	if r := NewJobRegistry(-5); r.limit != defaultJobLimit {
		t.Errorf("limit = %d, want %d", r.limit, defaultJobLimit)
	}
}

func TestMarkCancelledIsTerminal(t *testing.T) {
	j := newJob("rec.wav", nil)
	j.setState(pipeline.StateTranscribing)
	if j.terminal() {
		t.Fatal("running job reported terminal")
	}

	j.markCancelled()
	if !j.terminal() {
		t.Error("cancelled job not terminal")
	}
	if got := j.Snapshot().State; got != "cancelled" {
		t.Errorf("state = %q, want cancelled", got)
	}
	if got := j.Snapshot().Error; got != "" {
		t.Errorf("error = %q, want empty", got)
	}
}
