package transcribe

import (
	"slices"
	"strings"
)

// DefaultLanguage marks a merged transcript for which no fragment reported a
// language (including the empty-input case).
const DefaultLanguage = "auto"

// Merge reassembles per-segment fragments into one transcript with
// recording-absolute timestamps. The input may arrive in any order —
// completion order is whichever network calls finished first — so Merge sorts
// by segment index before assembling, making it the sole source of final
// ordering.
//
// Each fragment's local spans are offset by its segment's absolute start
// time. Texts are concatenated with a single separating space. The final
// duration is the maximum fragment end time, not the sum: segments overlap
// rather than concatenate in time.
func Merge(fragments []Fragment) Transcript {
	out := Transcript{
		Language: DefaultLanguage,
		Segments: []Span{},
		Words:    []Span{},
	}
	if len(fragments) == 0 {
		return out
	}

	sorted := slices.Clone(fragments)
	slices.SortFunc(sorted, func(a, b Fragment) int {
		return a.Index - b.Index
	})

	var texts []string
	for _, frag := range sorted {
		if out.Language == DefaultLanguage && frag.Language != "" {
			out.Language = frag.Language
		}
		if text := strings.TrimSpace(frag.Text); text != "" {
			texts = append(texts, text)
		}
		for _, s := range frag.Segments {
			out.Segments = append(out.Segments, Span{
				Start: frag.Start + s.Start,
				End:   frag.Start + s.End,
				Text:  s.Text,
			})
		}
		for _, w := range frag.Words {
			out.Words = append(out.Words, Span{
				Start: frag.Start + w.Start,
				End:   frag.Start + w.End,
				Text:  w.Text,
			})
		}
		if frag.End > out.Duration {
			out.Duration = frag.End
		}
	}
	out.Text = strings.Join(texts, " ")
	return out
}
