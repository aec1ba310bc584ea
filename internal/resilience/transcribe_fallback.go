package resilience

import (
	"context"

	"github.com/voxsplit/voxsplit/pkg/transcribe"
)

// TranscribeFallback implements [transcribe.Client] with automatic failover
// across multiple transcription backends. Each backend has its own circuit
// breaker, so a consistently failing primary is bypassed without probing it
// on every segment.
type TranscribeFallback struct {
	group *FallbackGroup[transcribe.Client]
}

// Compile-time interface assertion.
var _ transcribe.Client = (*TranscribeFallback)(nil)

// NewTranscribeFallback creates a [TranscribeFallback] with primary as the
// preferred backend.
func NewTranscribeFallback(primary transcribe.Client, primaryName string, cfg FallbackConfig) *TranscribeFallback {
	return &TranscribeFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend tried after the primary.
func (f *TranscribeFallback) AddFallback(name string, client transcribe.Client) {
	f.group.AddFallback(name, client)
}

// Transcribe sends the request to the first healthy backend. If the primary
// fails or its breaker is open, subsequent fallbacks are tried in order.
func (f *TranscribeFallback) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Fragment, error) {
	return ExecuteWithResult(f.group, func(c transcribe.Client) (*transcribe.Fragment, error) {
		return c.Transcribe(ctx, req)
	})
}
