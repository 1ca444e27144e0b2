package detect

import (
	"regexp"
	"strings"

	"github.com/wolfman30/ensemble-deid/internal/ensemble"
)

var (
	postalDashRe  = regexp.MustCompile(`[–\-]\s*(\d{6})\b`)
	postalSplitRe = regexp.MustCompile(`\b\d{3}\s*\d{3}\b`)
	longDigitsRe  = regexp.MustCompile(`\d{7,}`)
	whitespaceRe  = regexp.MustCompile(`\s`)

	addressHashRe = regexp.MustCompile(`#\s*\d+(?:[-/]\d+)*`)
	addressDashRe = regexp.MustCompile(`\b\d{1,4}(?:[-/]\d+)+\b`)
)

const (
	postalScore    = 0.85
	addressScore   = 0.80
	contextWindow  = 30
	postalLookback = 30
	postalLookhead = 10
)

var addressContext = []string{
	"beside", "near", "road", "street", "address", "location",
	"hospital", "clinic", "market", "super",
}

// PostalCodes detects six digit Indian PIN codes, either after a dash
// ("Guntur – 522002") or written as two groups of three ("500 081").
type PostalCodes struct{}

// Name implements Detector.
func (PostalCodes) Name() string { return "postal_code" }

// Detect implements Detector.
func (d PostalCodes) Detect(text string, _ []ensemble.Candidate) []ensemble.Candidate {
	p := newPage(text)
	src := Source(d.Name())
	var out []ensemble.Candidate

	for _, m := range postalDashRe.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, p.candidate(ensemble.EntityPostalCode, m[2], m[3], postalScore, src))
	}

	for _, m := range postalSplitRe.FindAllStringIndex(text, -1) {
		c := p.candidate(ensemble.EntityPostalCode, m[0], m[1], postalScore, src)
		if covered(c.Start, out) {
			continue
		}
		digits := whitespaceRe.ReplaceAllString(c.Text, "")
		before := p.window(c.Start-postalLookback, c.Start)
		after := p.window(c.End, c.End+postalLookhead)
		if longDigitsRe.MatchString(before + digits + after) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// AddressNumbers detects house and plot numbers such as "#15-11-154" or
// "12/4" when an address keyword appears within 30 runes.
type AddressNumbers struct{}

// Name implements Detector.
func (AddressNumbers) Name() string { return "address_number" }

// Detect implements Detector.
func (d AddressNumbers) Detect(text string, _ []ensemble.Candidate) []ensemble.Candidate {
	p := newPage(text)
	src := Source(d.Name())
	var out []ensemble.Candidate
	for _, re := range []*regexp.Regexp{addressHashRe, addressDashRe} {
		for _, m := range re.FindAllStringIndex(text, -1) {
			c := p.candidate(ensemble.EntityAddressNumber, m[0], m[1], addressScore, src)
			before := strings.ToLower(p.window(c.Start-contextWindow, c.Start))
			after := strings.ToLower(p.window(c.End, c.End+contextWindow))
			if containsAny(before, addressContext) || containsAny(after, addressContext) {
				out = append(out, c)
			}
		}
	}
	return out
}
