package segment_test

import (
	"errors"
	"math"
	"testing"

	"github.com/voxsplit/voxsplit/pkg/audio"
	"github.com/voxsplit/voxsplit/pkg/segment"
)

// silence builds a mono waveform of the given duration in seconds.
func silence(rate int, seconds float64) *audio.Waveform {
	return &audio.Waveform{
		SampleRate: rate,
		Channels:   1,
		Samples:    [][]float32{make([]float32, int(seconds*float64(rate)))},
	}
}

const tolerance = 1e-6

func TestSplit130SecondRecording(t *testing.T) {
	// 130 s at 60 s windows with 1 s overlap: starts advance by 59 s, the
	// final window is clamped to the 12 s remainder and kept (12 ≥ 1).
	w := silence(8000, 130)

	segs, err := segment.Split(w, segment.Options{SegmentDuration: 60, Overlap: 1})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("segment count: got %d, want 3", len(segs))
	}

	wantStarts := []float64{0, 59, 118}
	wantEnds := []float64{60, 119, 130}
	for i, s := range segs {
		if s.Index != i {
			t.Errorf("segment %d: index %d, want %d", i, s.Index, i)
		}
		if math.Abs(s.Start-wantStarts[i]) > tolerance {
			t.Errorf("segment %d: start %g, want %g", i, s.Start, wantStarts[i])
		}
		if math.Abs(s.End-wantEnds[i]) > tolerance {
			t.Errorf("segment %d: end %g, want %g", i, s.End, wantEnds[i])
		}
		if math.Abs(s.Duration()-(s.End-s.Start)) > tolerance {
			t.Errorf("segment %d: duration %g does not match end−start", i, s.Duration())
		}
	}
	if math.Abs(segs[2].Duration()-12) > tolerance {
		t.Errorf("tail duration: got %g, want 12", segs[2].Duration())
	}
}

func TestSplitStartSpacing(t *testing.T) {
	tests := []struct {
		name            string
		seconds         float64
		segmentDuration float64
		overlap         float64
	}{
		{"no overlap", 45, 10, 0},
		{"two second overlap", 63, 15, 2},
		{"large overlap", 30, 10, 8},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := silence(16000, tc.seconds)
			segs, err := segment.Split(w, segment.Options{
				SegmentDuration: tc.segmentDuration,
				Overlap:         tc.overlap,
			})
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if len(segs) == 0 {
				t.Fatal("no segments produced")
			}
			step := tc.segmentDuration - tc.overlap
			for i, s := range segs {
				want := float64(i) * step
				if math.Abs(s.Start-want) > tolerance {
					t.Errorf("segment %d: start %g, want %g", i, s.Start, want)
				}
				if s.End <= s.Start {
					t.Errorf("segment %d: end %g not after start %g", i, s.End, s.Start)
				}
				full := math.Abs(s.Duration()-tc.segmentDuration) < tolerance
				remainder := math.Abs(s.End-tc.seconds) < tolerance
				if !full && !remainder {
					t.Errorf("segment %d: duration %g is neither full nor the exact remainder", i, s.Duration())
				}
			}
		})
	}
}

func TestSplitDropsSubSecondTail(t *testing.T) {
	// 20.5 s with 10 s windows, no overlap: windows at 0 and 10, then a
	// 0.5 s remainder that must be dropped silently.
	w := silence(8000, 20.5)
	segs, err := segment.Split(w, segment.Options{SegmentDuration: 10, Overlap: 0})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("segment count: got %d, want 2", len(segs))
	}
}

func TestSplitKeepsExactlyOneSecondTail(t *testing.T) {
	// The drop test is strict "< 1 s": a remainder of exactly 1.0 s stays.
	w := silence(8000, 21)
	segs, err := segment.Split(w, segment.Options{SegmentDuration: 10, Overlap: 0})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("segment count: got %d, want 3", len(segs))
	}
	if math.Abs(segs[2].Duration()-1) > tolerance {
		t.Errorf("tail duration: got %g, want exactly 1", segs[2].Duration())
	}
}

func TestSplitEmptyWaveform(t *testing.T) {
	w := silence(8000, 0)
	segs, err := segment.Split(w, segment.Options{SegmentDuration: 10, Overlap: 1})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("got %d segments from empty input, want 0", len(segs))
	}
}

func TestSplitNonAdvancingWindow(t *testing.T) {
	w := silence(8000, 30)
	for _, overlap := range []float64{10, 12} {
		_, err := segment.Split(w, segment.Options{SegmentDuration: 10, Overlap: overlap})
		if !errors.Is(err, segment.ErrNonAdvancingWindow) {
			t.Errorf("overlap=%g: got %v, want ErrNonAdvancingWindow", overlap, err)
		}
	}
}

func TestSplitInvalidOptions(t *testing.T) {
	w := silence(8000, 30)
	if _, err := segment.Split(w, segment.Options{SegmentDuration: 0}); err == nil {
		t.Error("expected error for zero segment duration")
	}
	if _, err := segment.Split(w, segment.Options{SegmentDuration: 10, Overlap: -1}); err == nil {
		t.Error("expected error for negative overlap")
	}
	if _, err := segment.Split(w, segment.Options{SegmentDuration: 10, BitDepth: 12}); err == nil {
		t.Error("expected error for unsupported bit depth")
	}
}

func TestSplitPayloadRoundTrip(t *testing.T) {
	// Each payload must be a self-contained WAV carrying the source rate and
	// channel count and exactly the window's samples.
	w := silence(16000, 25)
	segs, err := segment.Split(w, segment.Options{SegmentDuration: 10, Overlap: 2, BitDepth: audio.BitDepth8})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for _, s := range segs {
		dec, err := audio.DecodeWAV(s.Payload)
		if err != nil {
			t.Fatalf("segment %d: payload does not decode: %v", s.Index, err)
		}
		if dec.SampleRate != w.SampleRate || dec.Channels != w.Channels {
			t.Errorf("segment %d: payload format %d Hz/%dch, want %d Hz/%dch",
				s.Index, dec.SampleRate, dec.Channels, w.SampleRate, w.Channels)
		}
		wantSamples := int(math.Round(s.Duration() * float64(w.SampleRate)))
		if dec.Len() != wantSamples {
			t.Errorf("segment %d: payload has %d samples, want %d", s.Index, dec.Len(), wantSamples)
		}
	}
}
