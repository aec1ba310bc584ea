package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/voxsplit/voxsplit/internal/observe"
	"github.com/voxsplit/voxsplit/internal/pipeline"
	"github.com/voxsplit/voxsplit/internal/store"
)

// apiError is the JSON error response body.
type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// jobFromPath resolves the {id} path value to a registered job. Writes the
// error response and returns nil when the ID is malformed or unknown.
func (s *Server) jobFromPath(w http.ResponseWriter, r *http.Request) *Job {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed job id")
		return nil
	}
	j := s.jobs.Get(id)
	if j == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return nil
	}
	return j
}

// handleCreate accepts a multipart upload (field "file"), registers a job,
// and starts the pipeline in the background. Responds 202 with the job view.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "reading upload failed")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := newJob(header.Filename, cancel)
	s.jobs.Add(job)

	go s.runJob(jobCtx, job, data)

	observe.Logger(r.Context()).Info("job accepted",
		"job_id", job.ID,
		"filename", job.Filename,
		"bytes", len(data),
	)
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// runJob executes the full pipeline for one upload: decode, split,
// transcribe, merge, persist. Runs on its own goroutine per job.
func (s *Server) runJob(ctx context.Context, job *Job, data []byte) {
	log := observe.Logger(ctx).With("job_id", job.ID)

	start := time.Now()
	wave, err := s.decoder.Decode(ctx, data)
	if err != nil {
		log.Error("decode failed", "err", err)
		job.fail(err)
		s.persistJob(job)
		return
	}
	s.metrics.DecodeDuration.Record(ctx, time.Since(start).Seconds())

	orch, err := pipeline.New(s.client, pipeline.Config{
		SegmentDuration: s.pipeCfg.SegmentDuration.Seconds(),
		Overlap:         s.pipeCfg.Overlap.Seconds(),
		BitDepth:        s.pipeCfg.BitDepth,
		Concurrency:     s.pipeCfg.Width,
		MinSpacing:      s.pipeCfg.MinSpacing,
		RetryRounds:     s.pipeCfg.RetryRounds,
		CallTimeout:     s.pipeCfg.CallTimeout,
		Language:        s.lang,
		Model:           s.model,
	},
		pipeline.WithMetrics(s.metrics),
		pipeline.WithStateHook(job.setState),
		pipeline.WithProgress(job.setProgress),
	)
	if err != nil {
		log.Error("pipeline setup failed", "err", err)
		job.fail(err)
		s.persistJob(job)
		return
	}

	res, err := orch.Run(ctx, wave)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("job cancelled")
			job.markCancelled()
		} else {
			log.Error("pipeline failed", "err", err)
			job.fail(err)
		}
		s.persistJob(job)
		return
	}

	job.complete(res)
	s.persistJob(job)
	s.persistTranscript(job)
	log.Info("job completed",
		"segments", res.TotalSegments,
		"succeeded", res.Succeeded,
	)
}

// persistJob mirrors the job state to PostgreSQL when a store is configured.
func (s *Server) persistJob(job *Job) {
	if s.store == nil {
		return
	}
	v := job.Snapshot()
	rec := store.JobRecord{
		ID:            job.ID,
		Filename:      v.Filename,
		State:         v.State,
		TotalSegments: v.Total,
		Succeeded:     v.Total - v.Failed,
		Failed:        v.Failed,
		Message:       firstNonEmpty(v.Message, v.Error),
		CreatedAt:     v.CreatedAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SaveJob(ctx, rec); err != nil {
		observe.Logger(ctx).Warn("persisting job failed", "job_id", job.ID, "err", err)
	}
}

// persistTranscript stores the merged transcript when a store is configured.
func (s *Server) persistTranscript(job *Job) {
	if s.store == nil {
		return
	}
	tr := job.Transcript()
	if tr == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SaveTranscript(ctx, job.ID, tr); err != nil {
		observe.Logger(ctx).Warn("persisting transcript failed", "job_id", job.ID, "err", err)
	}
}

// handleList returns all known jobs, newest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

// handleGet returns the status of one job.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if j := s.jobFromPath(w, r); j != nil {
		writeJSON(w, http.StatusOK, j.Snapshot())
	}
}

// handleCancel aborts a running job. Cancelling a finished job is a no-op.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	j := s.jobFromPath(w, r)
	if j == nil {
		return
	}
	j.Cancel()
	writeJSON(w, http.StatusOK, j.Snapshot())
}

// handleTranscript returns the merged transcript of a completed job.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	j := s.jobFromPath(w, r)
	if j == nil {
		return
	}
	tr := j.Transcript()
	if tr == nil {
		writeError(w, http.StatusConflict, "job has not completed")
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// handleEvents upgrades to a websocket and streams progress events until the
// job reaches a terminal state or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	j := s.jobFromPath(w, r)
	if j == nil {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return // Accept already wrote the error response
	}
	defer conn.CloseNow()

	ch := j.Subscribe()
	defer j.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
			if terminalState(ev.State) {
				conn.Close(websocket.StatusNormalClosure, "job finished")
				return
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
