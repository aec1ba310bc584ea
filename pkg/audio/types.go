// Package audio defines the canonical in-memory waveform representation used
// throughout the voxsplit pipeline, together with WAV container encoding and
// decoding.
//
// A decoded recording is held as one float32 sample slice per channel,
// normalised to [-1, 1]. The waveform is treated as immutable once produced:
// the segmenter reads from it but never writes, and sub-waveforms are built
// from fresh slices.
package audio

// Waveform is the canonical decoded form of an audio recording.
type Waveform struct {
	// SampleRate in Hz. Always > 0 for a valid waveform.
	SampleRate int

	// Channels is the number of audio channels. Always ≥ 1 for a valid waveform.
	Channels int

	// Samples holds one slice per channel, all of equal length, with sample
	// values normalised to [-1, 1].
	Samples [][]float32
}

// Len returns the number of samples per channel. A waveform with no channels
// has length 0.
func (w *Waveform) Len() int {
	if len(w.Samples) == 0 {
		return 0
	}
	return len(w.Samples[0])
}

// Duration returns the waveform length in seconds.
func (w *Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(w.Len()) / float64(w.SampleRate)
}

// Slice returns a new Waveform sharing no sample storage with w, covering
// samples [from, to) of every channel. Bounds are clamped to the waveform
// length.
func (w *Waveform) Slice(from, to int) *Waveform {
	n := w.Len()
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if from > to {
		from = to
	}
	out := &Waveform{
		SampleRate: w.SampleRate,
		Channels:   w.Channels,
		Samples:    make([][]float32, len(w.Samples)),
	}
	for ch := range w.Samples {
		out.Samples[ch] = make([]float32, to-from)
		copy(out.Samples[ch], w.Samples[ch][from:to])
	}
	return out
}
