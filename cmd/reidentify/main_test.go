package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/ensemble-deid/internal/config"
	"github.com/wolfman30/ensemble-deid/internal/ensemble"
	"github.com/wolfman30/ensemble-deid/internal/pipeline"
	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reid"
	"github.com/wolfman30/ensemble-deid/internal/reidstore"
	"github.com/wolfman30/ensemble-deid/pkg/logging"
)

var sourcePages = []string{
	"Patient John Smith, Age: 45, admitted 12 March 2023 at 10:15 hrs.",
	"Discharged on 20 March 2023 by Dr. Meena Rao.",
}

// fixture de-identifies sourcePages and writes the metadata and anonymized
// text the way the forward command does.
func fixture(t *testing.T) (dir, metaPath, textPath string) {
	t.Helper()
	dir = t.TempDir()
	reqs := []pipeline.PageRequest{
		{
			Page: redact.PageInfo{DocID: "discharge_42", DocName: "discharge_42.pdf", PageNumber: 1},
			Text: sourcePages[0],
			Candidates: []ensemble.Candidate{
				{EntityType: "PER", Score: 0.95, Start: 8, End: 18, Source: "ner"},
				{EntityType: "DATE", Score: 0.9, Start: 38, End: 51, Source: "ner"},
			},
		},
		{
			Page: redact.PageInfo{DocID: "discharge_42", DocName: "discharge_42.pdf", PageNumber: 2},
			Text: sourcePages[1],
			Candidates: []ensemble.Candidate{
				{EntityType: "DATE", Score: 0.9, Start: 14, End: 27, Source: "ner"},
				{EntityType: "PER", Score: 0.9, Start: 35, End: 44, Source: "ner"},
			},
		},
	}
	d := pipeline.NewDeidentifier(pipeline.WithLogger(logging.New("error")))
	results, err := pipeline.Results(d.DeidentifyDocument(context.Background(), reqs))
	require.NoError(t, err)
	meta, err := redact.BuildMetadata(redact.RunInfo{InputFile: "discharge_42.txt"}, results...)
	require.NoError(t, err)

	data, err := json.Marshal(meta)
	require.NoError(t, err)
	metaPath = filepath.Join(dir, "ensemble_metadata.json")
	require.NoError(t, os.WriteFile(metaPath, data, 0o600))

	textPath = filepath.Join(dir, "anonymized_output.txt")
	require.NoError(t, os.WriteFile(textPath, []byte(results[0].Anonymized+pageSeparator+results[1].Anonymized), 0o600))
	return dir, metaPath, textPath
}

func testConfig(dir string) *appconfig.Config {
	return &appconfig.Config{
		DeidOutputDir: dir,
		ReidOutputDir: filepath.Join(dir, "reid"),
		ReidStore:     appconfig.StoreFile,
		WorkerCount:   2,
	}
}

func loadMap(t *testing.T, path string) *reid.DocumentMap {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	m, err := reid.ParseDocumentMap(data)
	require.NoError(t, err)
	return m
}

func TestRunDefaultsConvergeOnOneMap(t *testing.T) {
	dir, _, _ := fixture(t)
	cfg := testConfig(dir)
	logger := logging.New("error")

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, logger, nil, &stdout))
	assert.Contains(t, stdout.String(), "Re-identified page 1 (doc: discharge_42)")

	restored, err := os.ReadFile(filepath.Join(cfg.ReidOutputDir, "discharge_42_page_1_reidentified.txt"))
	require.NoError(t, err)
	assert.Equal(t, sourcePages[0], string(restored))

	require.NoError(t, run(context.Background(), cfg, logger, []string{"--page", "2"}, &bytes.Buffer{}))
	restored, err = os.ReadFile(filepath.Join(cfg.ReidOutputDir, "discharge_42_page_2_reidentified.txt"))
	require.NoError(t, err)
	assert.Equal(t, sourcePages[1], string(restored))

	m := loadMap(t, filepath.Join(cfg.ReidOutputDir, "reid_map_discharge_42.json"))
	assert.Equal(t, "discharge_42", m.DocID)
	assert.Equal(t, "discharge_42.pdf", m.DocName)
	assert.Equal(t, []int{1, 2}, m.PageNumbers())

	require.NoError(t, run(context.Background(), cfg, logger, []string{"--page", "2"}, &bytes.Buffer{}))
	again := loadMap(t, filepath.Join(cfg.ReidOutputDir, "reid_map_discharge_42.json"))
	assert.Equal(t, m, again)
}

func TestRunAllPages(t *testing.T) {
	dir, _, _ := fixture(t)
	cfg := testConfig(dir)

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, logging.New("error"), []string{"--all"}, &stdout))
	assert.Equal(t, 2, strings.Count(stdout.String(), "Re-identified page"))

	m := loadMap(t, filepath.Join(cfg.ReidOutputDir, "reid_map_discharge_42.json"))
	assert.Equal(t, []int{1, 2}, m.PageNumbers())
}

func TestRunExplicitPaths(t *testing.T) {
	dir, metaPath, textPath := fixture(t)
	cfg := testConfig(dir)
	out := filepath.Join(dir, "custom", "page1.txt")
	mapPath := filepath.Join(dir, "custom", "map.json")

	args := []string{"--metadata", metaPath, "--anonymized", textPath, "--page", "1", "--output", out, "--reid-map-output", mapPath}
	require.NoError(t, run(context.Background(), cfg, logging.New("error"), args, &bytes.Buffer{}))

	restored, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, sourcePages[0], string(restored))
	assert.Equal(t, []int{1}, loadMap(t, mapPath).PageNumbers())
	_, err = os.Stat(filepath.Join(cfg.ReidOutputDir, "reid_map_discharge_42.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunMismatchLeavesMapUntouched(t *testing.T) {
	dir, _, textPath := fixture(t)
	cfg := testConfig(dir)
	logger := logging.New("error")
	require.NoError(t, run(context.Background(), cfg, logger, nil, &bytes.Buffer{}))

	data, err := os.ReadFile(textPath)
	require.NoError(t, err)
	edited := strings.Replace(string(data), "[AGE]", "forty five", 1)
	require.NoError(t, os.WriteFile(textPath, []byte(edited), 0o600))
	require.NoError(t, os.Remove(filepath.Join(cfg.ReidOutputDir, "discharge_42_page_1_reidentified.txt")))

	err = run(context.Background(), cfg, logger, []string{"--all"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, reid.ErrMismatch)
	assert.Contains(t, err.Error(), "page 1")

	_, err = os.Stat(filepath.Join(cfg.ReidOutputDir, "discharge_42_page_1_reidentified.txt"))
	assert.True(t, os.IsNotExist(err))
	restored, err := os.ReadFile(filepath.Join(cfg.ReidOutputDir, "discharge_42_page_2_reidentified.txt"))
	require.NoError(t, err)
	assert.Equal(t, sourcePages[1], string(restored))
}

func TestParseFlagsRejectsConflicts(t *testing.T) {
	cfg := testConfig(t.TempDir())
	_, err := parseFlags(cfg, []string{"--all", "--page", "2"})
	assert.Error(t, err)
	_, err = parseFlags(cfg, []string{"--page", "-1"})
	assert.Error(t, err)

	opts, err := parseFlags(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.DeidOutputDir, "ensemble_metadata.json"), opts.metadata)
}

func TestRunPageOutsideText(t *testing.T) {
	dir, _, _ := fixture(t)
	err := run(context.Background(), testConfig(dir), logging.New("error"), []string{"--page", "3"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunFromStoredMapWithoutMetadata(t *testing.T) {
	dir, metaPath, _ := fixture(t)
	cfg := testConfig(dir)
	logger := logging.New("error")
	require.NoError(t, run(context.Background(), cfg, logger, []string{"--all"}, &bytes.Buffer{}))

	require.NoError(t, os.Remove(metaPath))
	for i := range sourcePages {
		require.NoError(t, os.Remove(outputPath(cfg.ReidOutputDir, "discharge_42", i+1)))
	}

	var stdout bytes.Buffer
	args := []string{"--from-map", "--doc-id", "discharge_42", "--all"}
	require.NoError(t, run(context.Background(), cfg, logger, args, &stdout))
	assert.Equal(t, 2, strings.Count(stdout.String(), "Re-identified page"))
	for i, want := range sourcePages {
		restored, err := os.ReadFile(outputPath(cfg.ReidOutputDir, "discharge_42", i+1))
		require.NoError(t, err)
		assert.Equal(t, want, string(restored))
	}

	out := filepath.Join(dir, "p2.txt")
	args = []string{"--from-map", "--doc-id", "discharge_42", "--page", "2", "--output", out}
	require.NoError(t, run(context.Background(), cfg, logger, args, &bytes.Buffer{}))
	restored, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, sourcePages[1], string(restored))
}

func TestRunFromStoredMapTakesPrecedence(t *testing.T) {
	dir, metaPath, _ := fixture(t)
	cfg := testConfig(dir)
	logger := logging.New("error")
	require.NoError(t, run(context.Background(), cfg, logger, nil, &bytes.Buffer{}))

	meta, err := redact.LoadMetadata(metaPath)
	require.NoError(t, err)
	page := meta.Pages["1"]
	for i := range page.Replacements {
		if page.Replacements[i].OriginalText == "John Smith" {
			page.Replacements[i].OriginalText = "Jon Smyth"
		}
	}
	meta.Pages["1"] = page
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metaPath, data, 0o600))

	out := filepath.Join(dir, "p1.txt")
	require.NoError(t, run(context.Background(), cfg, logger, []string{"--from-map", "--output", out}, &bytes.Buffer{}))
	restored, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, sourcePages[0], string(restored))

	require.NoError(t, run(context.Background(), cfg, logger, []string{"--output", out}, &bytes.Buffer{}))
	restored, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(restored), "Jon Smyth")
}

func TestRunFromStoredMapFallsBackToMetadataPages(t *testing.T) {
	dir, _, _ := fixture(t)
	cfg := testConfig(dir)
	logger := logging.New("error")
	require.NoError(t, run(context.Background(), cfg, logger, []string{"--page", "1"}, &bytes.Buffer{}))

	require.NoError(t, run(context.Background(), cfg, logger, []string{"--from-map", "--page", "2"}, &bytes.Buffer{}))
	restored, err := os.ReadFile(outputPath(cfg.ReidOutputDir, "discharge_42", 2))
	require.NoError(t, err)
	assert.Equal(t, sourcePages[1], string(restored))
}

func TestRunFromStoredMapErrors(t *testing.T) {
	dir, metaPath, _ := fixture(t)
	cfg := testConfig(dir)
	logger := logging.New("error")

	err := run(context.Background(), cfg, logger, []string{"--from-map"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, reidstore.ErrNotFound)

	require.NoError(t, os.Remove(metaPath))
	err = run(context.Background(), cfg, logger, []string{"--from-map"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "--doc-id is required")

	err = run(context.Background(), cfg, logger, []string{"--from-map", "--metadata", metaPath, "--doc-id", "discharge_42"}, &bytes.Buffer{})
	assert.Error(t, err, "an explicit metadata path must exist")

	err = run(context.Background(), cfg, logger, nil, &bytes.Buffer{})
	assert.Error(t, err, "metadata is required without --from-map")
}

func TestResolveDocIDRejectsConflict(t *testing.T) {
	meta := &redact.Metadata{DocID: "discharge_42"}
	_, err := resolveDocID(meta, "other")
	assert.ErrorContains(t, err, "does not match")

	id, err := resolveDocID(meta, "")
	require.NoError(t, err)
	assert.Equal(t, "discharge_42", id)

	_, err = resolveDocID(nil, "../x")
	assert.ErrorIs(t, err, reidstore.ErrInvalidDocID)
}
