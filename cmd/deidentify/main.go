package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/ensemble-deid/internal/app/bootstrap"
	appconfig "github.com/wolfman30/ensemble-deid/internal/config"
	"github.com/wolfman30/ensemble-deid/internal/ensemble"
	"github.com/wolfman30/ensemble-deid/internal/observability/metrics"
	"github.com/wolfman30/ensemble-deid/internal/pipeline"
	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reidstore"
	"github.com/wolfman30/ensemble-deid/pkg/logging"
)

// pageSeparator splits multi-page input, as written by OCR text exports.
const pageSeparator = "\f"

const (
	anonymizedFile = "anonymized_output.txt"
	entitiesFile   = "ensemble_entities.json"
	metadataFile   = "ensemble_metadata.json"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.NewWithWriter(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, logger, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		logger.Error("de-identification failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	input      string
	candidates string
	docID      string
	docName    string
	policy     string
	models     string
	outputDir  string
}

func parseFlags(cfg *appconfig.Config, args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("deidentify", flag.ContinueOnError)
	fs.StringVar(&opts.input, "input", "", "Path to the page text; pages are separated by form feeds (required)")
	fs.StringVar(&opts.candidates, "candidates", "", "Path to NER candidate JSON: a list for one page or an object keyed by page number")
	fs.StringVar(&opts.docID, "doc-id", "", "Document id (defaults to the input file stem)")
	fs.StringVar(&opts.docName, "doc-name", "", "Document name (defaults to the input file name)")
	fs.StringVar(&opts.policy, "policy", cfg.FilterPolicyFile, "Filter policy JSON overriding the default thresholds")
	fs.StringVar(&opts.models, "models", cfg.NERModelName, "Comma separated NER models recorded in the metadata")
	fs.StringVar(&opts.outputDir, "output-dir", cfg.DeidOutputDir, "Directory for the anonymized text and metadata")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if strings.TrimSpace(opts.input) == "" {
		return options{}, errors.New("--input is required")
	}
	return opts, nil
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, args []string, stdout io.Writer) error {
	opts, err := parseFlags(cfg, args)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(opts.input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	pages := strings.Split(string(raw), pageSeparator)

	byPage := map[int][]ensemble.Candidate{}
	if opts.candidates != "" {
		data, err := os.ReadFile(opts.candidates)
		if err != nil {
			return fmt.Errorf("read candidates: %w", err)
		}
		if byPage, err = parseCandidates(data); err != nil {
			return err
		}
	}

	policy := ensemble.DefaultPolicy()
	if opts.policy != "" {
		if policy, err = ensemble.LoadPolicy(opts.policy); err != nil {
			return err
		}
	}

	docName := opts.docName
	if docName == "" {
		docName = filepath.Base(opts.input)
	}
	docID := opts.docID
	if docID == "" {
		docID = (&redact.Metadata{DocName: docName, InputFile: opts.input}).ResolvedDocID()
	}
	if err := reidstore.ValidateDocID(docID); err != nil {
		return err
	}

	audit, closeAudit, err := bootstrap.BuildAuditService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	runID := uuid.NewString()
	reg := prometheus.NewRegistry()
	pipelineOpts := []pipeline.Option{
		pipeline.WithPolicy(policy),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics.NewDeidMetrics(reg)),
		pipeline.WithWorkerCount(cfg.WorkerCount),
		pipeline.WithRunID(runID),
	}
	if audit != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithAudit(audit))
	}

	requests := make([]pipeline.PageRequest, len(pages))
	for i, text := range pages {
		n := i + 1
		requests[i] = pipeline.PageRequest{
			Page:       redact.PageInfo{DocID: docID, DocName: docName, PageNumber: n},
			Text:       text,
			Candidates: byPage[n],
		}
	}

	logger.Info("de-identifying document", "doc_id", docID, "pages", len(pages), "run_id", runID)
	results, err := pipeline.Results(pipeline.NewDeidentifier(pipelineOpts...).DeidentifyDocument(ctx, requests))
	if err != nil {
		return err
	}

	meta, err := redact.BuildMetadata(redact.RunInfo{
		InputFile: opts.input,
		Models:    splitModels(opts.models),
		RunID:     runID,
	}, results...)
	if err != nil {
		return err
	}

	anonymized := make([]string, len(results))
	for i, res := range results {
		anonymized[i] = res.Anonymized
	}
	if err := writeOutputs(opts.outputDir, strings.Join(anonymized, pageSeparator), meta); err != nil {
		return err
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfile, reg); err != nil {
		logger.Warn("failed to write metrics textfile", "error", err)
	}

	fmt.Fprintf(stdout, "De-identified %d page(s) of %s: %d entities redacted\n", len(results), docID, meta.TotalEntitiesRedacted)
	fmt.Fprintf(stdout, "-> Anonymized text: %s\n", filepath.Join(opts.outputDir, anonymizedFile))
	fmt.Fprintf(stdout, "-> Metadata: %s\n", filepath.Join(opts.outputDir, metadataFile))
	return nil
}

// parseCandidates accepts a JSON list for a single page or an object keyed
// by page number.
func parseCandidates(data []byte) (map[int][]ensemble.Candidate, error) {
	data = bytes.TrimSpace(data)
	out := map[int][]ensemble.Candidate{}
	if len(data) == 0 {
		return out, nil
	}
	if data[0] == '[' {
		var list []ensemble.Candidate
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode candidates: %w", err)
		}
		out[1] = list
		return out, nil
	}
	var paged map[string][]ensemble.Candidate
	if err := json.Unmarshal(data, &paged); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	for key, list := range paged {
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("decode candidates: invalid page key %q", key)
		}
		out[n] = list
	}
	return out, nil
}

func splitModels(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// writeOutputs writes the anonymized text and the two PHI-bearing JSON files.
func writeOutputs(dir, anonymized string, meta *redact.Metadata) error {
	if err := reidstore.WriteFileAtomic(filepath.Join(dir, anonymizedFile), []byte(anonymized), 0o644); err != nil {
		return err
	}
	entities, err := json.MarshalIndent(meta.Entities, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	if err := reidstore.WriteFileAtomic(filepath.Join(dir, entitiesFile), entities, 0o600); err != nil {
		return err
	}
	metadata, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return reidstore.WriteFileAtomic(filepath.Join(dir, metadataFile), metadata, 0o600)
}
