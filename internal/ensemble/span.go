package ensemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Candidate is an unconfirmed PHI detection. Start and End are half-open code
// point offsets into the page text, matching the offsets reported by the
// NER collaborators.
type Candidate struct {
	EntityType EntityType `json:"entity_type"`
	Text       string     `json:"text"`
	Score      float64    `json:"score"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Source     string     `json:"source,omitempty"`
}

// Len returns the span length in code points.
func (c Candidate) Len() int { return c.End - c.Start }

// Overlaps reports whether the two half-open spans share at least one position.
func (c Candidate) Overlaps(o Candidate) bool {
	return c.Start < o.End && o.Start < c.End
}

type candidateWire struct {
	EntityType string   `json:"entity_type"`
	Text       string   `json:"text"`
	Score      *float64 `json:"score"`
	Start      *int     `json:"start"`
	End        *int     `json:"end"`
	Source     string   `json:"source,omitempty"`
}

// UnmarshalJSON decodes a candidate. A missing or null score becomes NaN so it
// can never pass a threshold; missing offsets become -1 so validation rejects them.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var w candidateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Candidate{
		EntityType: EntityType(w.EntityType),
		Text:       w.Text,
		Score:      math.NaN(),
		Start:      -1,
		End:        -1,
		Source:     w.Source,
	}
	if w.Score != nil {
		c.Score = *w.Score
	}
	if w.Start != nil {
		c.Start = *w.Start
	}
	if w.End != nil {
		c.End = *w.End
	}
	return nil
}

// MarshalJSON encodes NaN scores as null so the output stays valid JSON.
func (c Candidate) MarshalJSON() ([]byte, error) {
	w := candidateWire{
		EntityType: string(c.EntityType),
		Text:       c.Text,
		Start:      &c.Start,
		End:        &c.End,
		Source:     c.Source,
	}
	if !math.IsNaN(c.Score) && !math.IsInf(c.Score, 0) {
		score := c.Score
		w.Score = &score
	}
	return json.Marshal(w)
}

// Resolved is a candidate that survived filtering and merging. Index is its
// position in the page's start-ordered, non-overlapping sequence.
// Resolved spans are not serialized directly; the redactor records them.
type Resolved struct {
	Candidate
	Index int
}

// ErrSchema marks a candidate that is structurally invalid.
var ErrSchema = errors.New("ensemble: invalid candidate")

// Validate checks the candidate against a page of textLen code points.
// A NaN score is not a schema error; it fails the threshold instead.
func (c Candidate) Validate(textLen int) error {
	switch {
	case c.EntityType == "":
		return fmt.Errorf("%w: missing entity_type", ErrSchema)
	case !c.EntityType.Tokenizable():
		return fmt.Errorf("%w: entity_type %q contains a bracket", ErrSchema, c.EntityType)
	case c.Score < 0 || c.Score > 1:
		return fmt.Errorf("%w: score %v outside [0,1]", ErrSchema, c.Score)
	case c.Start < 0 || c.End < 0:
		return fmt.Errorf("%w: negative offsets %d-%d", ErrSchema, c.Start, c.End)
	case c.End <= c.Start:
		return fmt.Errorf("%w: inverted or empty span %d-%d", ErrSchema, c.Start, c.End)
	case c.End > textLen:
		return fmt.Errorf("%w: span %d-%d beyond text length %d", ErrSchema, c.Start, c.End, textLen)
	}
	return nil
}
