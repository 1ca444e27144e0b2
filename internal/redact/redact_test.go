package redact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ensemble-deid/internal/ensemble"
)

const scenario = "Patient John Smith, DOB 1990-01-01, seen at Apollo Hospital."

func scenarioSpans() []ensemble.Resolved {
	return []ensemble.Resolved{
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Text: "John Smith", Score: 0.95, Start: 8, End: 18, Source: "ner"}, Index: 0},
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityDateTime, Text: "1990-01-01", Score: 0.9, Start: 24, End: 34, Source: "ner"}, Index: 1},
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityOrganization, Text: "Apollo Hospital", Score: 0.8, Start: 44, End: 59, Source: "ner"}, Index: 2},
	}
}

func scenarioPage() PageInfo {
	return PageInfo{DocID: "discharge_42", DocName: "discharge_42.pdf", PageNumber: 1}
}

func TestRedact_Scenario(t *testing.T) {
	res, err := Redact(scenario, scenarioPage(), scenarioSpans())
	require.NoError(t, err)

	assert.Equal(t, "Patient [PERSON], DOB [DATE_TIME], seen at [ORGANIZATION].", res.Anonymized)
	assert.Equal(t, "discharge_42", res.Page.DocID)
	assert.Equal(t, 1, res.Page.PageNumber)
	assert.Equal(t, []Entry{
		{EntityID: "page_1_PERSON_1", EntityType: ensemble.EntityPerson, OriginalText: "John Smith", ReplacementToken: "[PERSON]", OrderIndex: 0, Start: 8, End: 18},
		{EntityID: "page_1_DATE_TIME_1", EntityType: ensemble.EntityDateTime, OriginalText: "1990-01-01", ReplacementToken: "[DATE_TIME]", OrderIndex: 1, Start: 24, End: 34},
		{EntityID: "page_1_ORGANIZATION_1", EntityType: ensemble.EntityOrganization, OriginalText: "Apollo Hospital", ReplacementToken: "[ORGANIZATION]", OrderIndex: 2, Start: 44, End: 59},
	}, res.Page.Replacements)
	assert.Equal(t, []ensemble.EntityType{ensemble.EntityPerson, ensemble.EntityDateTime, ensemble.EntityOrganization}, res.Page.Types())
}

func TestRedact_PerTypeCounters(t *testing.T) {
	text := "Ravi met Sita on 2 May"
	spans := []ensemble.Resolved{
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 0, End: 4}, Index: 0},
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 9, End: 13}, Index: 1},
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityDateTime, Start: 17, End: 22}, Index: 2},
	}
	res, err := Redact(text, PageInfo{DocID: "d", PageNumber: 3}, spans)
	require.NoError(t, err)

	assert.Equal(t, "[PERSON] met [PERSON] on [DATE_TIME]", res.Anonymized)
	ids := make([]string, 0, 3)
	for _, e := range res.Page.Replacements {
		ids = append(ids, e.EntityID)
	}
	assert.Equal(t, []string{"page_3_PERSON_1", "page_3_PERSON_2", "page_3_DATE_TIME_1"}, ids)
}

func TestRedact_ReadsOriginalFromSource(t *testing.T) {
	text := "Dr. Müller, Zürich"
	spans := []ensemble.Resolved{
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Text: "stale", Start: 4, End: 10}, Index: 0},
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityLocation, Start: 12, End: 18}, Index: 1},
	}
	res, err := Redact(text, PageInfo{PageNumber: 1}, spans)
	require.NoError(t, err)
	assert.Equal(t, "Dr. [PERSON], [LOCATION]", res.Anonymized)
	assert.Equal(t, "Müller", res.Page.Replacements[0].OriginalText)
	assert.Equal(t, "Zürich", res.Page.Replacements[1].OriginalText)
}

func TestRedact_NoSpans(t *testing.T) {
	res, err := Redact("nothing to hide [x]", PageInfo{PageNumber: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "nothing to hide [x]", res.Anonymized)
	assert.Empty(t, res.Page.Replacements)
}

func TestRedact_AmbiguousText(t *testing.T) {
	text := "Form field [PERSON]: Ravi"
	spans := []ensemble.Resolved{
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 21, End: 25}, Index: 0},
	}
	_, err := Redact(text, PageInfo{PageNumber: 1}, spans)
	assert.ErrorIs(t, err, ErrAmbiguousText)

	custom := "ward [BED] 4 patient Ravi"
	spans = []ensemble.Resolved{
		{Candidate: ensemble.Candidate{EntityType: "BED", Start: 11, End: 12}, Index: 0},
	}
	_, err = Redact(custom, PageInfo{PageNumber: 1}, spans)
	assert.ErrorIs(t, err, ErrAmbiguousText, "types present in the page count as tokens")
}

func TestRedact_AmbiguousTextReportsTokenOffset(t *testing.T) {
	text := "Naïve note [PERSON] Ravi"
	spans := []ensemble.Resolved{
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 20, End: 24}, Index: 0},
	}
	_, err := Redact(text, PageInfo{PageNumber: 1}, spans)
	require.ErrorIs(t, err, ErrAmbiguousText)
	assert.Contains(t, err.Error(), "[PERSON] at offset 11")

	text = "Ravi wrote [PERSON] here"
	spans = []ensemble.Resolved{
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 0, End: 4}, Index: 0},
	}
	_, err = Redact(text, PageInfo{PageNumber: 1}, spans)
	require.ErrorIs(t, err, ErrAmbiguousText)
	assert.Contains(t, err.Error(), "[PERSON] at offset 11")
}

func TestRedact_UntokenizableType(t *testing.T) {
	for _, typ := range []ensemble.EntityType{"", "FOO]", "[BED", "A]B"} {
		spans := []ensemble.Resolved{
			{Candidate: ensemble.Candidate{EntityType: typ, Start: 6, End: 9}, Index: 0},
		}
		_, err := Redact("hello Bob there", PageInfo{PageNumber: 1}, spans)
		assert.ErrorIs(t, err, ErrEntityType, "type %q", typ)
	}
}

func TestRedact_InvalidSpans(t *testing.T) {
	text := strings.Repeat("a", 20)
	tests := []struct {
		name  string
		spans []ensemble.Resolved
	}{
		{"overlap", []ensemble.Resolved{
			{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 0, End: 5}, Index: 0},
			{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 4, End: 8}, Index: 1},
		}},
		{"out of order", []ensemble.Resolved{
			{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 10, End: 12}, Index: 0},
			{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 0, End: 2}, Index: 1},
		}},
		{"wrong index", []ensemble.Resolved{
			{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 0, End: 2}, Index: 1},
		}},
		{"beyond text", []ensemble.Resolved{
			{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 18, End: 25}, Index: 0},
		}},
		{"empty span", []ensemble.Resolved{
			{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 3, End: 3}, Index: 0},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Redact(text, PageInfo{PageNumber: 1}, tt.spans)
			assert.ErrorIs(t, err, ErrOverlap)
		})
	}
}

func TestRedact_AdjacentSpans(t *testing.T) {
	text := "RaviKumar"
	spans := []ensemble.Resolved{
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 0, End: 4}, Index: 0},
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 4, End: 9}, Index: 1},
	}
	res, err := Redact(text, PageInfo{PageNumber: 1}, spans)
	require.NoError(t, err)
	assert.Equal(t, "[PERSON][PERSON]", res.Anonymized)
}
