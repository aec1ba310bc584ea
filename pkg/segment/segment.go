// Package segment slices a decoded waveform into fixed-duration, overlapping
// sub-waveforms, each re-encoded as a self-contained WAV payload ready for a
// transcription request.
//
// Consecutive windows overlap by a configured duration so that words spoken
// across a segment boundary are captured by at least one segment. The step
// between consecutive start times is segmentDuration − overlap; a non-positive
// step would never advance and is rejected before any work is done.
package segment

import (
	"errors"
	"fmt"

	"github.com/voxsplit/voxsplit/pkg/audio"
)

// MinDuration is the shortest window, in seconds, that is still emitted as a
// segment. A trailing remainder strictly shorter than this is dropped; a
// remainder of exactly MinDuration is kept.
const MinDuration = 1.0

// ErrNonAdvancingWindow is returned when overlap ≥ segment duration, which
// would make the slicing window stand still or move backwards.
var ErrNonAdvancingWindow = errors.New("segment: overlap must be smaller than segment duration")

// Segment is one time-bounded slice of the source recording.
type Segment struct {
	// Index is the 0-based position in the produced sequence. Indices are
	// strictly increasing and gapless.
	Index int

	// Start is the window start in seconds of the source recording, inclusive.
	Start float64

	// End is the window end in seconds, exclusive of the next segment's
	// overlap trim. Always > Start.
	End float64

	// Payload is the window encoded as a self-contained WAV container with
	// the source's sample rate and channel count.
	Payload []byte
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Options configures Split.
type Options struct {
	// SegmentDuration is the nominal window length in seconds. Must be > 0.
	SegmentDuration float64

	// Overlap is how many seconds consecutive windows share. Must satisfy
	// 0 ≤ Overlap < SegmentDuration.
	Overlap float64

	// BitDepth selects the payload's per-sample bit depth (8 or 16).
	// Zero means 16.
	BitDepth int
}

// Split slices w into overlapping segments. A zero-length waveform yields an
// empty sequence and no error. The trailing window is clamped to the
// waveform's remaining length and dropped entirely when shorter than
// [MinDuration], so the recording tail may be truncated by at most one
// sub-threshold remainder.
func Split(w *audio.Waveform, opts Options) ([]Segment, error) {
	if opts.SegmentDuration <= 0 {
		return nil, fmt.Errorf("segment: segment duration %g must be positive", opts.SegmentDuration)
	}
	if opts.Overlap < 0 {
		return nil, fmt.Errorf("segment: overlap %g must not be negative", opts.Overlap)
	}
	if opts.Overlap >= opts.SegmentDuration {
		return nil, fmt.Errorf("%w (duration=%g overlap=%g)", ErrNonAdvancingWindow, opts.SegmentDuration, opts.Overlap)
	}
	bitDepth := opts.BitDepth
	if bitDepth == 0 {
		bitDepth = audio.BitDepth16
	}
	if bitDepth != audio.BitDepth8 && bitDepth != audio.BitDepth16 {
		return nil, fmt.Errorf("segment: unsupported bit depth %d (only 8 or 16)", bitDepth)
	}

	total := w.Len()
	if total == 0 {
		return nil, nil
	}
	rate := float64(w.SampleRate)
	if rate <= 0 {
		return nil, fmt.Errorf("segment: invalid sample rate %d", w.SampleRate)
	}

	window := int(opts.SegmentDuration * rate)
	step := int((opts.SegmentDuration - opts.Overlap) * rate)
	if step <= 0 {
		// Sub-sample step after rounding; identical failure mode.
		return nil, fmt.Errorf("%w (duration=%g overlap=%g)", ErrNonAdvancingWindow, opts.SegmentDuration, opts.Overlap)
	}

	var segs []Segment
	for start := 0; start < total; start += step {
		take := min(window, total-start)

		// Strictly below the threshold is dropped; exactly MinDuration is kept.
		if float64(take)/rate < MinDuration {
			break
		}

		payload, err := audio.EncodeWAV(w.Slice(start, start+take), bitDepth)
		if err != nil {
			return nil, fmt.Errorf("segment: encode window %d: %w", len(segs), err)
		}
		segs = append(segs, Segment{
			Index:   len(segs),
			Start:   float64(start) / rate,
			End:     float64(start+take) / rate,
			Payload: payload,
		})
	}
	return segs, nil
}
