// Package whisperserver provides a transcription client backed by a
// self-hosted whisper.cpp server (the whisper-server binary, which exposes a
// REST API at POST /inference).
//
// Each call uploads one WAV segment as multipart/form-data and requests a
// verbose JSON response carrying per-segment and per-word timestamps. The
// client performs exactly one network call per Transcribe invocation; wrap it
// in [transcribe.Retrying] for backoff behaviour.
//
// Usage:
//
//	c, err := whisperserver.New("http://localhost:8080",
//	    whisperserver.WithLanguage("en"),
//	)
//	frag, err := c.Transcribe(ctx, transcribe.Request{Payload: wav})
package whisperserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/voxsplit/voxsplit/pkg/transcribe"
)

const defaultTimeout = 2 * time.Minute

// Compile-time assertion that Client implements transcribe.Client.
var _ transcribe.Client = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the server (e.g.
// "base.en", "small"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithLanguage sets the default language code sent with every request (e.g.
// "en", "de"). A per-request language hint takes precedence.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithHTTPClient overrides the HTTP client. The default has a 2-minute
// timeout, sized for long segments on CPU-only servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client implements transcribe.Client against a whisper.cpp HTTP server.
// Safe for concurrent use.
type Client struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Client that connects to the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisperserver: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// inferenceResponse is the verbose_json shape returned by whisper-server,
// compatible with the OpenAI transcription schema. Model-diagnostic scalars
// (temperature, avg_logprob, …) are ignored.
type inferenceResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Transcribe uploads req.Payload to the server's /inference endpoint and
// parses the response into a Fragment with segment-local times. Error
// responses map to the transcribe taxonomy by HTTP status class.
func (c *Client) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Fragment, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	filename := req.Filename
	if filename == "" {
		filename = "segment.wav"
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("whisperserver: create form file: %w", err)
	}
	if _, err := fw.Write(req.Payload); err != nil {
		return nil, fmt.Errorf("whisperserver: write payload: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
	}
	if lang := firstNonEmpty(req.Language, c.language); lang != "" {
		fields["language"] = lang
	}
	if model := firstNonEmpty(req.Model, c.model); model != "" {
		fields["model"] = model
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisperserver: write field %q: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisperserver: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisperserver: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transcribe.TransientError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transcribe.TransientError{Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, transcribe.FromStatus(resp.StatusCode, string(bytes.TrimSpace(data)), retryAfterHeader(resp))
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &transcribe.TransientError{Err: fmt.Errorf("parse JSON response: %w", err)}
	}
	return toFragment(result), nil
}

// toFragment converts the wire response into the pipeline's fragment model.
// Times stay segment-local; the orchestrator stamps the absolute window.
func toFragment(r inferenceResponse) *transcribe.Fragment {
	frag := &transcribe.Fragment{
		Text:     r.Text,
		Language: r.Language,
		Duration: r.Duration,
	}
	for _, s := range r.Segments {
		frag.Segments = append(frag.Segments, transcribe.Span{Start: s.Start, End: s.End, Text: s.Text})
	}
	for _, w := range r.Words {
		frag.Words = append(frag.Words, transcribe.Span{Start: w.Start, End: w.End, Text: w.Word})
	}
	return frag
}

// retryAfterHeader parses an integral Retry-After header, in seconds.
func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
