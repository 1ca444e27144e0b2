package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/ensemble-deid/internal/app/bootstrap"
	"github.com/wolfman30/ensemble-deid/internal/compliance"
	appconfig "github.com/wolfman30/ensemble-deid/internal/config"
	"github.com/wolfman30/ensemble-deid/pkg/logging"
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
		logger.Error("audit listing failed", "error", err)
		os.Exit(1)
	}
}

var eventAliases = map[string]compliance.AuditEventType{
	"redacted":     compliance.EventPHIRedacted,
	"reidentified": compliance.EventPHIReidentified,
	"mismatch":     compliance.EventReidMismatch,
}

type eventQuerier interface {
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

func parseFilter(args []string, now time.Time) (compliance.AuditFilter, error) {
	var (
		filter      compliance.AuditFilter
		eventType   string
		since, till string
	)
	flags := flag.NewFlagSet("audit", flag.ContinueOnError)
	flags.StringVar(&filter.DocID, "doc-id", "", "Document id to list events for (required)")
	flags.StringVar(&eventType, "event-type", "", "redacted, reidentified, mismatch or a full event type")
	flags.IntVar(&filter.PageNumber, "page", 0, "Only events of this page")
	flags.StringVar(&since, "since", "", "Lower bound: RFC 3339 time or a duration before now such as 24h")
	flags.StringVar(&till, "until", "", "Upper bound: RFC 3339 time or a duration before now")
	flags.IntVar(&filter.Limit, "limit", 100, "Maximum number of events")
	flags.IntVar(&filter.Offset, "offset", 0, "Events to skip")
	if err := flags.Parse(args); err != nil {
		return compliance.AuditFilter{}, err
	}

	if strings.TrimSpace(filter.DocID) == "" {
		return compliance.AuditFilter{}, errors.New("--doc-id is required")
	}
	if filter.PageNumber < 0 || filter.Limit < 0 || filter.Offset < 0 {
		return compliance.AuditFilter{}, errors.New("--page, --limit and --offset must not be negative")
	}
	if eventType != "" {
		t, ok := eventAliases[strings.ToLower(eventType)]
		if !ok {
			t = compliance.AuditEventType(eventType)
			if t != compliance.EventPHIRedacted && t != compliance.EventPHIReidentified && t != compliance.EventReidMismatch {
				return compliance.AuditFilter{}, fmt.Errorf("unknown --event-type %q", eventType)
			}
		}
		filter.EventType = t
	}

	var err error
	if filter.StartTime, err = parseBound(since, now); err != nil {
		return compliance.AuditFilter{}, fmt.Errorf("--since: %w", err)
	}
	if filter.EndTime, err = parseBound(till, now); err != nil {
		return compliance.AuditFilter{}, fmt.Errorf("--until: %w", err)
	}
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Before(filter.StartTime) {
		return compliance.AuditFilter{}, errors.New("--until is before --since")
	}
	return filter, nil
}

func parseBound(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, v)
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, args []string, stdout io.Writer) error {
	filter, err := parseFilter(args, time.Now().UTC())
	if err != nil {
		return err
	}
	svc, closeAudit, err := bootstrap.BuildAuditService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAudit()
	if svc == nil {
		return errors.New("audit trail is disabled, set AUDIT_ENABLED=true")
	}
	return list(ctx, svc, filter, stdout)
}

// list writes the matching events as JSON lines, newest first.
func list(ctx context.Context, q eventQuerier, filter compliance.AuditFilter, w io.Writer) error {
	events, err := q.QueryEvents(ctx, filter)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("write event %s: %w", e.ID, err)
		}
	}
	return nil
}
