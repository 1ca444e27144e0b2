package reid

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ensemble-deid/internal/ensemble"
	"github.com/wolfman30/ensemble-deid/internal/redact"
)

const scenario = "Patient John Smith, DOB 1990-01-01, seen at Apollo Hospital."

func scenarioPage(t *testing.T) (string, redact.PageSet) {
	t.Helper()
	spans := []ensemble.Resolved{
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 8, End: 18}, Index: 0},
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityDateTime, Start: 24, End: 34}, Index: 1},
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityOrganization, Start: 44, End: 59}, Index: 2},
	}
	res, err := redact.Redact(scenario, redact.PageInfo{DocID: "doc-1", DocName: "doc-1.pdf", PageNumber: 1}, spans)
	require.NoError(t, err)
	return res.Anonymized, res.Page
}

func TestReconstruct_Scenario(t *testing.T) {
	anonymized, page := scenarioPage(t)
	got, err := Reconstruct(anonymized, page)
	require.NoError(t, err)
	assert.Equal(t, scenario, got)
}

func TestReconstruct_IgnoresRecordOrder(t *testing.T) {
	anonymized, page := scenarioPage(t)
	r := page.Replacements
	page.Replacements = []redact.Entry{r[2], r[0], r[1]}
	got, err := Reconstruct(anonymized, page)
	require.NoError(t, err)
	assert.Equal(t, scenario, got)
}

func TestReconstruct_CountMismatch(t *testing.T) {
	anonymized, page := scenarioPage(t)
	edited := strings.Replace(anonymized, "[DATE_TIME]", "unknown", 1)

	got, err := Reconstruct(edited, page)
	assert.Empty(t, got)
	require.ErrorIs(t, err, ErrMismatch)

	var mm *MismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, 1, mm.Page)
	assert.Equal(t, 3, mm.Expected)
	assert.Equal(t, 2, mm.Found)
	assert.Equal(t, 1, mm.ExpectedByType[ensemble.EntityDateTime])
	assert.Zero(t, mm.FoundByType[ensemble.EntityDateTime])
	assert.Equal(t, strings.Index(edited, "[ORGANIZATION]"), mm.Position)
	assert.Contains(t, err.Error(), "DATE_TIME=1")
}

func TestReconstruct_ExtraToken(t *testing.T) {
	anonymized, page := scenarioPage(t)
	_, err := Reconstruct(anonymized+" [PERSON]", page)

	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, 4, mm.Found)
	assert.Equal(t, len(anonymized)+1, mm.Position)
}

func TestReconstruct_TypeMismatch(t *testing.T) {
	anonymized, page := scenarioPage(t)
	page.Replacements[0].EntityType, page.Replacements[1].EntityType =
		page.Replacements[1].EntityType, page.Replacements[0].EntityType

	_, err := Reconstruct(anonymized, page)
	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, mm.Expected, mm.Found)
	assert.Equal(t, strings.Index(anonymized, "[PERSON]"), mm.Position)
}

func TestReconstruct_InvalidRecord(t *testing.T) {
	anonymized, page := scenarioPage(t)
	page.Replacements[2].OrderIndex = 0
	_, err := Reconstruct(anonymized, page)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, page = scenarioPage(t)
	page.Replacements[1].OrderIndex = 7
	_, err = Reconstruct(anonymized, page)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestReconstruct_LiteralBrackets(t *testing.T) {
	text := "[x] Consent signed by Ravi [ ] witness"
	spans := []ensemble.Resolved{
		{Candidate: ensemble.Candidate{EntityType: ensemble.EntityPerson, Start: 22, End: 26}, Index: 0},
	}
	res, err := redact.Redact(text, redact.PageInfo{PageNumber: 2}, spans)
	require.NoError(t, err)

	got, err := Reconstruct(res.Anonymized, res.Page)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestScanner_OrderMatchesRecord(t *testing.T) {
	anonymized, page := scenarioPage(t)
	var found []ensemble.EntityType
	for _, tok := range NewScanner(page).Scan(anonymized) {
		found = append(found, tok.Type)
	}
	ordered, err := Ordered(page)
	require.NoError(t, err)
	var want []ensemble.EntityType
	for _, e := range ordered {
		want = append(want, e.EntityType)
	}
	assert.Equal(t, want, found)
}

var alphabet = []rune("abcdefghij klmnop,.:;-/0123456789 éüअ\n")

func randomPage(rng *rand.Rand) (string, []ensemble.Resolved) {
	n := 1 + rng.Intn(200)
	runes := make([]rune, n)
	for i := range runes {
		runes[i] = alphabet[rng.Intn(len(alphabet))]
	}
	var spans []ensemble.Resolved
	for pos := 0; pos < n; {
		pos += rng.Intn(12)
		length := 1 + rng.Intn(8)
		if pos+length > n {
			break
		}
		t := ensemble.KnownTypes[rng.Intn(len(ensemble.KnownTypes))]
		spans = append(spans, ensemble.Resolved{
			Candidate: ensemble.Candidate{EntityType: t, Start: pos, End: pos + length},
			Index:     len(spans),
		})
		pos += length
	}
	return string(runes), spans
}

func TestRoundTrip_Random(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		text, spans := randomPage(rng)
		res, err := redact.Redact(text, redact.PageInfo{DocID: "d", PageNumber: i}, spans)
		require.NoError(t, err)
		require.Len(t, NewScanner(res.Page).Scan(res.Anonymized), len(spans))

		got, err := Reconstruct(res.Anonymized, res.Page)
		require.NoError(t, err)
		require.Equal(t, text, got, "iteration %d", i)
	}
}
