// Package transcribe defines the transcription client abstraction used by the
// voxsplit pipeline: the request/response model for transcribing one audio
// segment, the error taxonomy mapped from the remote service's HTTP status
// classes, a retrying client wrapper with exponential backoff, and the merger
// that reassembles per-segment fragments into one time-aligned transcript.
//
// Backends live in sub-packages (whisperserver, openai). All implementations
// of [Client] must be safe for concurrent use — the pipeline issues many
// overlapping calls through a single client value.
package transcribe

import "context"

// Span is one timed piece of transcribed text. Inside a [Fragment] the times
// are local to the segment (starting at 0); inside a [Transcript] they are
// absolute times of the original recording.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Fragment is the transcription result for one segment, in segment-local time.
// Index, Start, and End are carried over from the segment by the caller and
// used by [Merge] to offset the local spans.
type Fragment struct {
	// Index is the originating segment's position in the produced sequence.
	Index int `json:"index"`

	// Start and End are the segment's absolute window in seconds of the
	// original recording.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Text is the full transcribed text of the segment.
	Text string `json:"text"`

	// Segments are the service's sub-segment spans, local to this fragment.
	Segments []Span `json:"segments"`

	// Words are per-word spans, local to this fragment. May be empty when the
	// service does not report word timestamps.
	Words []Span `json:"words"`

	// Language is the detected language code.
	Language string `json:"language"`

	// Duration is the audio duration reported by the service, in seconds.
	Duration float64 `json:"duration"`
}

// Transcript is the final merged result in recording-absolute time.
type Transcript struct {
	Text     string `json:"text"`
	Segments []Span `json:"segments"`
	Words    []Span `json:"words"`
	Language string `json:"language"`

	// Duration is the maximum end time observed across fragments. Segments
	// overlap in time, so this is a maximum rather than a sum.
	Duration float64 `json:"duration"`
}

// Request describes one transcription call.
type Request struct {
	// Payload is a self-contained audio container (WAV).
	Payload []byte

	// Filename is a display name for the payload, used in multipart uploads.
	// Empty means "segment.wav".
	Filename string

	// Language is an optional language hint (e.g. "en"). Empty lets the
	// service auto-detect.
	Language string

	// Model is an optional model hint forwarded to the service.
	Model string
}

// Client transcribes a single audio segment with one outbound network call.
// Retry behaviour is layered on top via [Retrying]; implementations must not
// retry internally.
type Client interface {
	Transcribe(ctx context.Context, req Request) (*Fragment, error)
}
