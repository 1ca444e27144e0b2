package ensemble

import (
	"regexp"
	"strings"
	"unicode"
)

// MedicalDegrees are abbreviations that NER models routinely tag as PERSON.
var MedicalDegrees = []string{
	"MD", "MS", "DNB", "DMLT", "MNAMS", "MBBS", "DM", "MCH",
	"BDS", "BAMS", "BHMS", "BPT",
}

// DrugNames are medications that must stay readable even when tagged as PERSON.
var DrugNames = []string{
	"AMOXICILLIN", "LEVOSALBUTAMOL", "SALBUTAMOL", "AZITHROMYCIN",
	"CEFTRIAXONE", "DOLO", "PARACETAMOL", "IBUPROFEN",
	"CEFADROXIL", "CETIRIZINE", "MONTELUKAST",
}

var (
	dosageRe    = regexp.MustCompile(`(?i)\b\d+\s*(?:mg|mcg|g|gm|ml|iu|units)\b`)
	routeWordRe = regexp.MustCompile(`(?i)\b(?:IV|IM|PO|SC|TD|OD|BD|SOS|PRN|SACHET|INJ|TAB|CAP)\b`)

	sixDigitsRe   = regexp.MustCompile(`\b\d{6}\b`)
	numberRe      = regexp.MustCompile(`\b\d{2,}\b`)
	blockSectorRe = regexp.MustCompile(`\b(?:BLOCK|SECTOR)\b`)

	dateLikeRe      = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
	phoneSepRe      = regexp.MustCompile(`[- ]+`)
	mobileRe        = regexp.MustCompile(`(\+91[- ]?|91[- ]?)?[6-9]\d{2,3}[- ]?\d{6,7}$`)
	landlineRe      = regexp.MustCompile(`^0?\d{2,4}[- ]?\d{2,3}[- ]?\d{4,5}$`)
	shortLandlineRe = regexp.MustCompile(`^\d{6,8}$`)
)

const (
	medicineWindow   = 30
	minPhoneDigits   = 7
	maxPhoneDigits   = 12
	shortAllCapsSize = 4
)

var addressKeywords = []string{
	"LAB", "PATHLAB", "PATHLABS", "REFERENCE", "HOSPITAL", "CLINIC",
	"CENTRAL", "NRL", "LPL", "BLOCK", "SECTOR", "AVENUE", "ROAD",
	"DELHI", "AHMEDABAD", "KUNJ",
}

var facilityKeywords = []string{
	"hospital", "clinic", "center", "centre", "diagnostic",
	"laboratory", "lab", "medical", "healthcare", "health",
	"market",
}

// DenyKey normalizes text for denylist lookups: every non-word rune is removed
// and the rest upper-cased, so "M.D." and "md" both match "MD".
func DenyKey(text string) string {
	var b strings.Builder
	for _, r := range text {
		if isWordRune(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// AllowKey normalizes text for allowlist lookups: punctuation is removed,
// whitespace is kept, and the result is trimmed and upper-cased.
func AllowKey(text string) string {
	var b strings.Builder
	for _, r := range text {
		if isWordRune(r) || unicode.IsSpace(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return strings.TrimSpace(b.String())
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ShortAllCaps rejects short fully upper-case tokens (CT, MRI, HB) which the
// NER model tends to tag as names.
func ShortAllCaps(_ []rune, c Candidate) bool {
	txt := strings.TrimSpace(c.Text)
	if txt == "" || len([]rune(txt)) > shortAllCapsSize {
		return false
	}
	hasLetter := false
	for _, r := range txt {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

// MedicineContext rejects spans sitting next to dosage amounts or route
// words, which are almost always medication names rather than people.
func MedicineContext(page []rune, c Candidate) bool {
	if c.Text == "" {
		return false
	}
	lo := c.Start - medicineWindow
	if lo < 0 {
		lo = 0
	}
	hi := c.End + medicineWindow
	if hi > len(page) {
		hi = len(page)
	}
	if lo > hi {
		return false
	}
	window := string(page[lo:hi])
	if dosageRe.MatchString(window) || routeWordRe.MatchString(window) {
		return true
	}
	return dosageRe.MatchString(c.Text)
}

// LooksLikeAddress reports whether an organization or location span reads
// like a postal address or a facility line.
func LooksLikeAddress(text string) bool {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return false
	}
	upper := strings.ToUpper(cleaned)
	if upper == cleaned && len([]rune(cleaned)) <= 3 {
		return false
	}
	for _, kw := range addressKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	if blockSectorRe.MatchString(upper) || sixDigitsRe.MatchString(cleaned) {
		return true
	}
	hasAlpha, hasDigit := false, false
	for _, r := range cleaned {
		hasAlpha = hasAlpha || unicode.IsLetter(r)
		hasDigit = hasDigit || unicode.IsDigit(r)
	}
	if numberRe.MatchString(cleaned) && hasAlpha {
		return true
	}
	return hasDigit && strings.Contains(cleaned, "-")
}

// IsFacility reports whether the text names a care facility.
func IsFacility(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range facilityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// WeakOrganization rejects mid-confidence organization spans that are neither
// facilities nor address-like.
func WeakOrganization(_ []rune, c Candidate) bool {
	if c.Score >= 0.7 {
		return false
	}
	return !IsFacility(c.Text) && !LooksLikeAddress(c.Text)
}

// PhoneDigits returns only the digits of text.
func PhoneDigits(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidPhoneNumber accepts common Indian mobile and landline formats and
// rejects dates, vitals, record codes and other digit runs.
func IsValidPhoneNumber(text string) bool {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return false
	}
	digits := PhoneDigits(raw)
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return false
	}
	if dateLikeRe.MatchString(raw) {
		return false
	}

	normalized := strings.TrimSpace(phoneSepRe.ReplaceAllString(raw, " "))
	if mobileRe.MatchString(normalized) || landlineRe.MatchString(normalized) || shortLandlineRe.MatchString(normalized) {
		return true
	}

	switch n := len(digits); {
	case n == 10 && strings.ContainsRune("6789", rune(digits[0])):
		return true
	case (n == 11 || n == 12) && strings.ContainsRune("6789", rune(digits[n-10])):
		return true
	case n >= 8 && digits[0] == '0':
		return true
	case n >= 8 && n <= 10:
		return true
	}
	return false
}

// PhonePattern rescues low-scoring phone candidates whose text validates as a
// complete phone number.
func PhonePattern(_ []rune, c Candidate) bool {
	return IsValidPhoneNumber(c.Text)
}
