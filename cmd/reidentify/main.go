package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/ensemble-deid/cmd/mainconfig"
	"github.com/wolfman30/ensemble-deid/internal/app/bootstrap"
	appconfig "github.com/wolfman30/ensemble-deid/internal/config"
	"github.com/wolfman30/ensemble-deid/internal/observability/metrics"
	"github.com/wolfman30/ensemble-deid/internal/pipeline"
	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reid"
	"github.com/wolfman30/ensemble-deid/internal/reidstore"
	"github.com/wolfman30/ensemble-deid/pkg/logging"
)

const pageSeparator = "\f"

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
		logger.Error("re-identification failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	metadata         string
	metadataExplicit bool
	anonymized       string
	docID            string
	page             int
	all              bool
	fromMap          bool
	output           string
	reidMapOutput    string
}

func parseFlags(cfg *appconfig.Config, args []string) (options, error) {
	var opts options
	flags := flag.NewFlagSet("reidentify", flag.ContinueOnError)
	flags.StringVar(&opts.metadata, "metadata", filepath.Join(cfg.DeidOutputDir, "ensemble_metadata.json"), "Path to the ensemble metadata JSON")
	flags.StringVar(&opts.anonymized, "anonymized", filepath.Join(cfg.DeidOutputDir, "anonymized_output.txt"), "Path to the anonymized text for this page")
	flags.StringVar(&opts.docID, "doc-id", "", "Document id (defaults to doc_id from the metadata; required with --from-map when there is no metadata)")
	flags.IntVar(&opts.page, "page", 0, "Page number to re-identify (defaults to page_number from the metadata)")
	flags.BoolVar(&opts.all, "all", false, "Re-identify every page in the metadata, or in the stored reid map with --from-map")
	flags.BoolVar(&opts.fromMap, "from-map", false, "Restore from the stored reid map; its pages take precedence over the metadata")
	flags.StringVar(&opts.output, "output", "", "Where to write the re-identified text (derived from doc_id and page if empty)")
	flags.StringVar(&opts.reidMapOutput, "reid-map-output", "", "Path of the document reid map for the file store (derived from doc_id if empty)")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "metadata" {
			opts.metadataExplicit = true
		}
	})
	if opts.page < 0 {
		return options{}, fmt.Errorf("--page must be positive, got %d", opts.page)
	}
	if opts.all && (opts.page != 0 || opts.output != "") {
		return options{}, errors.New("--all cannot be combined with --page or --output")
	}
	return opts, nil
}

// outputPath returns the default location of a re-identified page.
func outputPath(dir, docID string, page int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_page_%d_reidentified.txt", docID, page))
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, args []string, stdout io.Writer) error {
	opts, err := parseFlags(cfg, args)
	if err != nil {
		return err
	}

	meta, err := loadMetadata(opts)
	if err != nil {
		return err
	}
	docID, err := resolveDocID(meta, opts.docID)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(opts.anonymized)
	if err != nil {
		return fmt.Errorf("read anonymized text: %w", err)
	}

	storeName := cfg.ReidStore
	if storeName == "" {
		storeName = appconfig.StoreFile
	}
	if opts.reidMapOutput != "" && storeName != appconfig.StoreFile {
		logger.Warn("--reid-map-output applies to the file store only", "store", storeName)
	}
	store, closeStore, err := bootstrap.BuildReidStore(ctx, cfg, opts.reidMapOutput, mainconfig.AWSLoader(cfg), logger)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := loadRecords(ctx, store, meta, docID, opts.fromMap)
	if err != nil {
		return err
	}
	jobs, err := buildJobs(records, meta, string(raw), opts)
	if err != nil {
		return err
	}

	audit, closeAudit, err := bootstrap.BuildAuditService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	reg := prometheus.NewRegistry()
	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics.NewDeidMetrics(reg)),
		pipeline.WithWorkerCount(cfg.WorkerCount),
		pipeline.WithStoreName(storeName),
		pipeline.WithStoreTimeout(cfg.StoreTimeout),
	}
	if audit != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithAudit(audit))
	}

	outcomes := pipeline.NewReidentifier(store, pipelineOpts...).ReidentifyDocument(ctx, jobs)

	var failed []error
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, fmt.Errorf("page %d: %w", o.PageNumber, o.Err))
			continue
		}
		path := opts.output
		if path == "" {
			path = outputPath(cfg.ReidOutputDir, docID, o.PageNumber)
		}
		if err := reidstore.WriteFileAtomic(path, []byte(o.Text), 0o600); err != nil {
			failed = append(failed, fmt.Errorf("page %d: %w", o.PageNumber, err))
			continue
		}
		fmt.Fprintf(stdout, "[Re-ID] Re-identified page %d (doc: %s) written to: %s\n", o.PageNumber, docID, path)
	}
	if fileStore, ok := store.(*reidstore.FileStore); ok {
		fmt.Fprintf(stdout, "[Re-ID] Reid map: %s\n", fileStore.PathFor(docID))
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfile, reg); err != nil {
		logger.Warn("failed to write metrics textfile", "error", err)
	}
	return errors.Join(failed...)
}

// loadMetadata reads the forward metadata. With --from-map a missing default
// metadata file is not an error and yields nil.
func loadMetadata(opts options) (*redact.Metadata, error) {
	meta, err := redact.LoadMetadata(opts.metadata)
	if err == nil {
		return meta, nil
	}
	if opts.fromMap && !opts.metadataExplicit && errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return nil, err
}

func resolveDocID(meta *redact.Metadata, flagID string) (string, error) {
	docID := flagID
	if meta != nil {
		if docID != "" && docID != meta.ResolvedDocID() {
			return "", fmt.Errorf("--doc-id %q does not match metadata doc_id %q", docID, meta.ResolvedDocID())
		}
		docID = meta.ResolvedDocID()
	}
	if docID == "" {
		return "", errors.New("--doc-id is required when there is no metadata")
	}
	if err := reidstore.ValidateDocID(docID); err != nil {
		return "", err
	}
	return docID, nil
}

// loadRecords returns the replacement records to restore from. With fromMap
// the stored map is laid over the metadata, so stored pages win.
func loadRecords(ctx context.Context, store reidstore.Store, meta *redact.Metadata, docID string, fromMap bool) (*reid.DocumentMap, error) {
	records := reid.NewDocumentMap(docID, "")
	if meta != nil {
		records = reid.MapFromMetadata(meta)
	}
	if !fromMap {
		return records, nil
	}
	stored, err := store.Load(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load reid map of %s: %w", docID, err)
	}
	return reid.MergeMaps(records, stored)
}

// buildJobs pairs pages of the anonymized text with their replacement
// records. A text without form feeds is a single page.
func buildJobs(records *reid.DocumentMap, meta *redact.Metadata, text string, opts options) ([]pipeline.PageJob, error) {
	segments := strings.Split(text, pageSeparator)
	pageText := func(n int) (string, error) {
		if len(segments) == 1 {
			return text, nil
		}
		if n < 1 || n > len(segments) {
			return "", fmt.Errorf("page %d not in anonymized text of %d pages", n, len(segments))
		}
		return segments[n-1], nil
	}

	var pages []int
	switch {
	case opts.all:
		pages = records.PageNumbers()
	case opts.page > 0:
		pages = []int{opts.page}
	case meta != nil:
		n := meta.PageNumber
		if n < 1 {
			n = 1
		}
		pages = []int{n}
	default:
		pages = records.PageNumbers()
		if len(pages) > 1 {
			pages = pages[:1]
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages recorded for %s", records.DocID)
	}

	jobs := make([]pipeline.PageJob, 0, len(pages))
	for _, n := range pages {
		page, ok := records.PageSet(n)
		if !ok {
			if meta == nil {
				return nil, fmt.Errorf("page %d not in reid map of %s", n, records.DocID)
			}
			page = reid.PageFromMetadata(meta, n)
		}
		anonymized, err := pageText(n)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, pipeline.PageJob{Anonymized: anonymized, Page: page})
	}
	return jobs, nil
}
