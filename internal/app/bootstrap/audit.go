package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wolfman30/ensemble-deid/internal/compliance"
	appconfig "github.com/wolfman30/ensemble-deid/internal/config"
	"github.com/wolfman30/ensemble-deid/pkg/logging"
)

// BuildAuditService opens the audit database when AUDIT_ENABLED is set. It
// returns a nil service when auditing is off.
func BuildAuditService(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*compliance.AuditService, func(), error) {
	noop := func() {}
	if cfg == nil || !cfg.AuditEnabled {
		return nil, noop, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil, fmt.Errorf("bootstrap: audit requires DATABASE_URL")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: open audit db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping audit db: %w", err)
	}
	logger.Info("compliance audit trail enabled")
	return compliance.NewAuditService(db), func() { _ = db.Close() }, nil
}
