// Package openai provides a transcription client backed by the OpenAI audio
// transcription API.
//
// The SDK's typed response for audio transcriptions only carries the plain
// text, so the client requests verbose_json and captures the raw response
// body instead, parsing the segment and word timestamps itself. SDK errors
// are mapped onto the transcribe taxonomy by HTTP status class.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxsplit/voxsplit/pkg/transcribe"
)

const defaultModel = "whisper-1"

// Compile-time assertion that Client implements transcribe.Client.
var _ transcribe.Client = (*Client)(nil)

// config holds optional configuration for the client.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// API-compatible gateways and for tests.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Client implements transcribe.Client against the OpenAI audio API.
// Safe for concurrent use.
type Client struct {
	client oai.Client
	model  string
}

// New constructs a new OpenAI transcription Client. model may be empty, in
// which case "whisper-1" is used.
func New(apiKey string, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retrying owns the retry policy; the SDK must not retry on its own.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Client{client: client, model: model}, nil
}

// verboseTranscription is the verbose_json response shape. Model-diagnostic
// scalars are ignored.
type verboseTranscription struct {
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

// Transcribe implements transcribe.Client with one call to the audio
// transcription endpoint.
func (c *Client) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Fragment, error) {
	filename := req.Filename
	if filename == "" {
		filename = "segment.wav"
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(req.Payload), filename, "audio/wav"),
		Model: oai.AudioModel(model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment", "word"},
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	var raw []byte
	_, err := c.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&raw))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, mapError(err)
	}

	var result verboseTranscription
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &transcribe.TransientError{Err: fmt.Errorf("openai: parse verbose response: %w", err)}
	}

	frag := &transcribe.Fragment{
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
	}
	for _, s := range result.Segments {
		frag.Segments = append(frag.Segments, transcribe.Span{Start: s.Start, End: s.End, Text: s.Text})
	}
	for _, w := range result.Words {
		frag.Words = append(frag.Words, transcribe.Span{Start: w.Start, End: w.End, Text: w.Word})
	}
	return frag, nil
}

// mapError converts SDK errors to the transcribe taxonomy. Anything that is
// not a structured API error (DNS failure, reset connection) is transient.
func mapError(err error) error {
	var apierr *oai.Error
	if !errors.As(err, &apierr) {
		return &transcribe.TransientError{Err: err}
	}

	message := apierr.Message
	if message == "" {
		message = apierr.Error()
	}
	var retryAfter time.Duration
	if apierr.Response != nil {
		if v := apierr.Response.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return transcribe.FromStatus(apierr.StatusCode, message, retryAfter)
}
