package detect

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wolfman30/ensemble-deid/internal/ensemble"
)

var nameSplitRe = regexp.MustCompile(`[.\s]+`)

const (
	doctorScore = 0.85
	minLastName = 3
)

// DoctorInitials finds abbreviated forms ("Dr. K. Ragava") of people whose
// full name was already detected on the page.
type DoctorInitials struct{}

// Name implements Detector.
func (DoctorInitials) Name() string { return "doctor_initials" }

// Detect implements Detector.
func (d DoctorInitials) Detect(text string, prior []ensemble.Candidate) []ensemble.Candidate {
	var persons []ensemble.Candidate
	seen := make(map[string]struct{})
	var lastNames []string
	for _, c := range prior {
		if ensemble.NormalizeLabel(string(c.EntityType)) != ensemble.EntityPerson {
			continue
		}
		persons = append(persons, c)
		parts := nameSplitRe.Split(strings.TrimSpace(c.Text), -1)
		if len(parts) < 2 {
			continue
		}
		last := strings.TrimFunc(parts[len(parts)-1], func(r rune) bool { return !unicode.IsLetter(r) })
		if utf8.RuneCountInString(last) < minLastName {
			continue
		}
		key := strings.ToLower(last)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		lastNames = append(lastNames, last)
	}
	if len(lastNames) == 0 {
		return nil
	}

	p := newPage(text)
	var out []ensemble.Candidate
	for _, last := range lastNames {
		re := regexp.MustCompile(`(?i)\bDr\.\s+[A-Z]\.\s+` + regexp.QuoteMeta(last) + `\b`)
		for _, m := range re.FindAllStringIndex(text, -1) {
			c := p.candidate(ensemble.EntityPerson, m[0], m[1], doctorScore, Source(d.Name()))
			if covered(c.Start, persons) || covered(c.Start, out) {
				continue
			}
			out = append(out, c)
		}
	}
	return out
}
