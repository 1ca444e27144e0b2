package detect

import (
	"regexp"
	"strconv"

	"github.com/wolfman30/ensemble-deid/internal/ensemble"
)

var (
	ageRe = regexp.MustCompile(`(?i)\bAge\s*(?:/\s*Sex)?\s*:?\s*(\d{1,3})`)

	genderLabelRe  = regexp.MustCompile(`(?i)\b(?:Sex|Gender)\s*:?\s*(Male|Female|M|F)\b`)
	genderAgeSexRe = regexp.MustCompile(`(?i)\bAge\s*(?:/\s*Sex)?\s*:?\s*\d{1,3}\s*(?:Years?|YRS)?\s*/\s*(Male|Female|M|F)\b`)
	genderAfterAge = regexp.MustCompile(`(?i)\bAge\s*:?\s*\d{1,3}\s+(Male|Female|M|F)\b`)
	genderSlashRe  = regexp.MustCompile(`(?i)\b/\s*(M|F)\b`)
	patientInfoRe  = regexp.MustCompile(`(?i)\bAge|Sex|Patient|/\s*\d{1,3}\s*Years?\b`)
)

const (
	maxAge            = 120
	ageScore          = 0.90
	genderScore       = 0.90
	genderAfterScore  = 0.85
	genderSlashScore  = 0.80
	genderSlashWindow = 50
)

// Ages detects the number in "Age 62", "Age: 62" and "Age / Sex: 23 YRS / M".
// Only the number is redacted, never the label.
type Ages struct{}

// Name implements Detector.
func (Ages) Name() string { return "age" }

// Detect implements Detector.
func (d Ages) Detect(text string, _ []ensemble.Candidate) []ensemble.Candidate {
	p := newPage(text)
	var out []ensemble.Candidate
	for _, m := range ageRe.FindAllStringSubmatchIndex(text, -1) {
		age, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || age > maxAge {
			continue
		}
		out = append(out, p.candidate(ensemble.EntityAge, m[2], m[3], ageScore, Source(d.Name())))
	}
	return out
}

// Genders detects sex and gender values: labelled ("Sex: Male"), combined
// with an age ("Age/Sex: 62/M", "Age 23 Male"), or the short "/ F" form
// next to patient details.
type Genders struct{}

// Name implements Detector.
func (Genders) Name() string { return "gender" }

// Detect implements Detector.
func (d Genders) Detect(text string, _ []ensemble.Candidate) []ensemble.Candidate {
	p := newPage(text)
	src := Source(d.Name())
	var out []ensemble.Candidate
	add := func(start, end int, score float64) {
		c := p.candidate(ensemble.EntityGender, start, end, score, src)
		if covered(c.Start, out) {
			return
		}
		out = append(out, c)
	}

	for _, m := range genderLabelRe.FindAllStringSubmatchIndex(text, -1) {
		add(m[2], m[3], genderScore)
	}
	for _, m := range genderAgeSexRe.FindAllStringSubmatchIndex(text, -1) {
		add(m[2], m[3], genderScore)
	}
	for _, m := range genderAfterAge.FindAllStringSubmatchIndex(text, -1) {
		add(m[2], m[3], genderAfterScore)
	}
	for _, m := range genderSlashRe.FindAllStringSubmatchIndex(text, -1) {
		start := p.runeOffset(m[0])
		context := p.window(start-genderSlashWindow, p.runeOffset(m[1]))
		if !patientInfoRe.MatchString(context) {
			continue
		}
		add(m[2], m[3], genderSlashScore)
	}
	return out
}
