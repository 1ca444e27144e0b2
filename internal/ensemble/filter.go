package ensemble

import (
	"fmt"
	"math"
)

// Predicate inspects a candidate in the context of the full page text.
type Predicate func(page []rune, c Candidate) bool

// Rule configures filtering for one entity type.
type Rule struct {
	MinScore  float64
	Denylist  map[string]struct{} // keys produced by DenyKey
	Allowlist map[string]struct{} // keys produced by AllowKey
	Reject    []Predicate
	// Rescue, when set, keeps a candidate that scored below MinScore.
	Rescue Predicate
}

// NewRule builds a rule with the given threshold and word lists.
func NewRule(minScore float64, denylist, allowlist []string) Rule {
	r := Rule{MinScore: minScore}
	r.AddDenied(denylist...)
	r.AddAllowed(allowlist...)
	return r
}

// AddDenied adds words that must never be redacted as this type.
func (r *Rule) AddDenied(words ...string) {
	if r.Denylist == nil {
		r.Denylist = make(map[string]struct{}, len(words))
	}
	for _, w := range words {
		if k := DenyKey(w); k != "" {
			r.Denylist[k] = struct{}{}
		}
	}
}

// AddAllowed adds words that stay readable even when a detector tags them.
func (r *Rule) AddAllowed(words ...string) {
	if r.Allowlist == nil {
		r.Allowlist = make(map[string]struct{}, len(words))
	}
	for _, w := range words {
		if k := AllowKey(w); k != "" {
			r.Allowlist[k] = struct{}{}
		}
	}
}

// RejectReason classifies why a candidate was dropped.
type RejectReason string

// Reasons a candidate does not survive filtering.
const (
	ReasonSchema    RejectReason = "schema"
	ReasonBlocked   RejectReason = "blocked_type"
	ReasonThreshold RejectReason = "below_threshold"
	ReasonDenylist  RejectReason = "denylist"
	ReasonAllowlist RejectReason = "allowlist"
	ReasonContext   RejectReason = "context"
)

// Rejection records a dropped candidate.
type Rejection struct {
	Candidate Candidate
	Reason    RejectReason
	Detail    string
}

// Policy holds the per-type rules used by Filter.
type Policy struct {
	Rules   map[EntityType]Rule
	Default Rule
	Blocked map[EntityType]struct{}
}

// DefaultPolicy returns the thresholds and domain lists tuned for clinical
// discharge summaries.
func DefaultPolicy() *Policy {
	person := NewRule(0.5, MedicalDegrees, DrugNames)
	person.Reject = []Predicate{ShortAllCaps, MedicineContext}

	phone := NewRule(0.7, nil, nil)
	phone.Rescue = PhonePattern

	org := NewRule(0.65, nil, nil)
	org.Reject = []Predicate{WeakOrganization}

	p := &Policy{
		Rules: map[EntityType]Rule{
			EntityPerson:        person,
			EntityID:            NewRule(0.75, nil, nil),
			EntityPhoneNumber:   phone,
			EntityDateTime:      NewRule(0.7, nil, nil),
			EntityLocation:      NewRule(0.75, nil, nil),
			EntityOrganization:  org,
			EntityPostalCode:    NewRule(0.6, nil, nil),
			EntityAddressNumber: NewRule(0.6, nil, nil),
		},
		Blocked: make(map[EntityType]struct{}, len(BlockedTypes)),
	}
	for _, t := range BlockedTypes {
		p.Blocked[t] = struct{}{}
	}
	return p
}

// Rule returns the rule that applies to t.
func (p *Policy) Rule(t EntityType) Rule {
	if r, ok := p.Rules[t]; ok {
		return r
	}
	return p.Default
}

// Filter returns the candidates that pass the policy. Entity types are
// normalized and candidate text is re-read from the page so the kept spans
// always agree with the source. Filter has no side effects.
func (p *Policy) Filter(text string, candidates []Candidate) ([]Candidate, []Rejection) {
	page := []rune(text)
	kept := make([]Candidate, 0, len(candidates))
	var rejected []Rejection

	for _, c := range candidates {
		c.EntityType = NormalizeLabel(string(c.EntityType))
		if err := c.Validate(len(page)); err != nil {
			rejected = append(rejected, Rejection{Candidate: c, Reason: ReasonSchema, Detail: err.Error()})
			continue
		}
		c.Text = string(page[c.Start:c.End])

		if reason, detail, ok := p.check(page, c); !ok {
			rejected = append(rejected, Rejection{Candidate: c, Reason: reason, Detail: detail})
			continue
		}
		kept = append(kept, c)
	}
	return kept, rejected
}

func (p *Policy) check(page []rune, c Candidate) (RejectReason, string, bool) {
	if _, blocked := p.Blocked[c.EntityType]; blocked {
		return ReasonBlocked, string(c.EntityType), false
	}
	rule := p.Rule(c.EntityType)

	// NaN compares false against everything, so it never reaches the threshold.
	if !(c.Score >= rule.MinScore) {
		if math.IsNaN(c.Score) || rule.Rescue == nil || !rule.Rescue(page, c) {
			return ReasonThreshold, fmt.Sprintf("score %v < %v", c.Score, rule.MinScore), false
		}
	}
	if _, denied := rule.Denylist[DenyKey(c.Text)]; denied {
		return ReasonDenylist, "", false
	}
	if _, allowed := rule.Allowlist[AllowKey(c.Text)]; allowed {
		return ReasonAllowlist, "", false
	}
	for _, reject := range rule.Reject {
		if reject(page, c) {
			return ReasonContext, "", false
		}
	}
	return "", "", true
}
