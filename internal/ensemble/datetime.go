package ensemble

import "regexp"

// timeSuffixRe matches a time portion trailing a date, e.g. " at 13:33",
// " @ 9:05 pm" or " 10:15 hrs".
var timeSuffixRe = regexp.MustCompile(`^\s*(?:at|@)?\s*\d{1,2}:\d{2}(?::\d{2})?(?:\s*(?:AM|PM|am|pm|hrs?))?`)

const timeLookahead = 40

// ExtendDateTimes widens DATE_TIME candidates so an adjacent time portion is
// redacted together with the date. Other candidates are returned unchanged.
func ExtendDateTimes(text string, candidates []Candidate) []Candidate {
	page := []rune(text)
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = c
		if c.EntityType != EntityDateTime || c.End >= len(page) || c.End < 0 {
			continue
		}
		hi := c.End + timeLookahead
		if hi > len(page) {
			hi = len(page)
		}
		loc := timeSuffixRe.FindStringIndex(string(page[c.End:hi]))
		if loc == nil {
			continue
		}
		matched := []rune(string(page[c.End:hi])[:loc[1]])
		out[i].End = c.End + len(matched)
		out[i].Text = string(page[c.Start:out[i].End])
	}
	return out
}
