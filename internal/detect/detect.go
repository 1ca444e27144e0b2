// Package detect holds the rule-based PHI detectors that run alongside the
// NER collaborators. Their candidates carry a "pattern:<name>" source so the
// merger prefers them over model output at the same position.
package detect

import (
	"strings"

	"github.com/wolfman30/ensemble-deid/internal/ensemble"
)

// Detector finds candidate spans in one page of text. prior holds the
// candidates already produced for the page (NER output and earlier detectors).
type Detector interface {
	Name() string
	Detect(text string, prior []ensemble.Candidate) []ensemble.Candidate
}

// Defaults returns the built-in detectors in the order they run.
func Defaults() []Detector {
	return []Detector{
		PostalCodes{},
		AddressNumbers{},
		Ages{},
		Genders{},
		DoctorInitials{},
	}
}

// Run applies the detectors in order and returns prior followed by every
// candidate they produced. Each detector sees the output of the ones before it.
func Run(text string, prior []ensemble.Candidate, detectors ...Detector) []ensemble.Candidate {
	out := make([]ensemble.Candidate, 0, len(prior))
	out = append(out, prior...)
	for _, d := range detectors {
		out = append(out, d.Detect(text, out)...)
	}
	return out
}

// Source returns the candidate source for a detector name.
func Source(name string) string {
	return ensemble.PatternSourcePrefix + name
}

// page converts regexp byte offsets into code point offsets.
type page struct {
	text  string
	runes []rune
	pos   []int // rune offset of the rune starting at each byte
}

func newPage(text string) *page {
	p := &page{text: text, runes: []rune(text), pos: make([]int, len(text)+1)}
	n := 0
	for i := range text {
		p.pos[i] = n
		n++
	}
	p.pos[len(text)] = n
	return p
}

func (p *page) runeOffset(byteOffset int) int { return p.pos[byteOffset] }

// window returns the runes in [lo, hi) clamped to the page.
func (p *page) window(lo, hi int) string {
	if lo < 0 {
		lo = 0
	}
	if hi > len(p.runes) {
		hi = len(p.runes)
	}
	if lo >= hi {
		return ""
	}
	return string(p.runes[lo:hi])
}

// candidate builds a candidate from a byte range of the page.
func (p *page) candidate(t ensemble.EntityType, byteStart, byteEnd int, score float64, source string) ensemble.Candidate {
	return ensemble.Candidate{
		EntityType: t,
		Text:       p.text[byteStart:byteEnd],
		Score:      score,
		Start:      p.runeOffset(byteStart),
		End:        p.runeOffset(byteEnd),
		Source:     source,
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// covered reports whether start falls inside any of the spans.
func covered(start int, spans []ensemble.Candidate) bool {
	for _, s := range spans {
		if s.Start <= start && start < s.End {
			return true
		}
	}
	return false
}
