package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voxsplit/voxsplit/internal/config"
	"github.com/voxsplit/voxsplit/internal/server"
	"github.com/voxsplit/voxsplit/pkg/audio"
	"github.com/voxsplit/voxsplit/pkg/transcribe"
)

// fakeClient transcribes instantly with a canned per-segment text.
type fakeClient struct {
	err error
}

func (c *fakeClient) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Fragment, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &transcribe.Fragment{
		Text:     "hello",
		Language: "en",
		Segments: []transcribe.Span{{Start: 0, End: 1, Text: "hello"}},
	}, nil
}

// slowClient blocks until its context is cancelled, for cancellation tests.
type slowClient struct{}

func (c *slowClient) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Fragment, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return &transcribe.Fragment{Text: "late"}, nil
	}
}

// testWAV returns an encoded mono recording of the given length in seconds.
func testWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	const rate = 8000
	n := int(seconds * rate)
	w := &audio.Waveform{
		SampleRate: rate,
		Channels:   1,
		Samples:    [][]float32{make([]float32, n)},
	}
	data, err := audio.EncodeWAV(w, audio.BitDepth16)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

func newTestServer(t *testing.T, client transcribe.Client) *server.Server {
	t.Helper()
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			SegmentDuration: 2 * time.Second,
			Overlap:         500 * time.Millisecond,
			Width:           4,
			MinSpacing:      time.Nanosecond,
			RetryRounds:     1,
			CallTimeout:     time.Second,
		},
	}
	return server.New(cfg, client)
}

// upload POSTs a multipart body with the given file content and returns the
// decoded job view.
func upload(t *testing.T, ts *httptest.Server, data []byte) server.JobView {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "recording.wav")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("writing part: %v", err)
	}
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/transcriptions", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload status = %d, want 202", resp.StatusCode)
	}

	var view server.JobView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decoding job view: %v", err)
	}
	return view
}

// waitForState polls the job endpoint until the job reaches want or the
// deadline passes.
func waitForState(t *testing.T, ts *httptest.Server, id, want string) server.JobView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/transcriptions/" + id)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		var view server.JobView
		err = json.NewDecoder(resp.Body).Decode(&view)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if view.State == want {
			return view
		}
		if view.State == "error" && want != "error" {
			t.Fatalf("job failed: %s", view.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach state %q", id, want)
	return server.JobView{}
}

func TestUploadAndComplete(t *testing.T) {
	srv := newTestServer(t, &fakeClient{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	view := upload(t, ts, testWAV(t, 5))
	if view.Filename != "recording.wav" {
		t.Errorf("filename = %q", view.Filename)
	}

	final := waitForState(t, ts, view.ID, "completed")
	if final.Total == 0 || final.Done != final.Total {
		t.Errorf("progress counters = %d/%d", final.Done, final.Total)
	}

	resp, err := http.Get(ts.URL + "/api/transcriptions/" + view.ID + "/transcript")
	if err != nil {
		t.Fatalf("GET transcript: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transcript status = %d, want 200", resp.StatusCode)
	}
	var tr transcribe.Transcript
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatalf("decoding transcript: %v", err)
	}
	if !strings.Contains(tr.Text, "hello") {
		t.Errorf("transcript text = %q", tr.Text)
	}
}

func TestUploadWithoutFile(t *testing.T) {
	srv := newTestServer(t, &fakeClient{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/transcriptions", "text/plain", strings.NewReader("nope"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestJobNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeClient{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/transcriptions/6b44cf4c-3a2f-4fd0-9b91-0a76b2f16f8e")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/transcriptions/not-a-uuid")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListJobs(t *testing.T) {
	srv := newTestServer(t, &fakeClient{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	upload(t, ts, testWAV(t, 3))
	upload(t, ts, testWAV(t, 3))

	resp, err := http.Get(ts.URL + "/api/transcriptions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var views []server.JobView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(views) != 2 {
		t.Errorf("got %d jobs, want 2", len(views))
	}
}

func TestCancelJob(t *testing.T) {
	srv := newTestServer(t, &slowClient{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	view := upload(t, ts, testWAV(t, 5))
	waitForState(t, ts, view.ID, "transcribing")

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/transcriptions/"+view.ID, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}

	final := waitForState(t, ts, view.ID, "cancelled")
	if final.Error != "" {
		t.Errorf("error = %q, want empty for a cancelled job", final.Error)
	}
}

func TestEventsWebsocket(t *testing.T) {
	srv := newTestServer(t, &fakeClient{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	view := upload(t, ts, testWAV(t, 5))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") +
		fmt.Sprintf("/api/transcriptions/%s/events", view.ID)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var last server.Event
	for {
		var ev server.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			break // server closes after the terminal event
		}
		if ev.JobID != view.ID {
			t.Errorf("event job_id = %q, want %q", ev.JobID, view.ID)
		}
		last = ev
		if ev.State == "completed" || ev.State == "error" {
			break
		}
	}
	if last.State != "completed" {
		t.Fatalf("final event state = %q, want completed", last.State)
	}
	if last.Done != last.Total || last.Total == 0 {
		t.Errorf("final event counters = %d/%d", last.Done, last.Total)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeClient{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
