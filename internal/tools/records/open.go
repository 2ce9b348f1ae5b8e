package records

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-relay/internal/config"
	"go.uber.org/zap"
)

// Open builds the Source selected by cfg.Driver.
func Open(ctx context.Context, cfg config.RecordsConfig, logger *zap.Logger) (Source, error) {
	opts := Options{Table: cfg.Table, IDColumn: cfg.IDColumn, MaxRows: cfg.MaxRows}
	switch cfg.Driver {
	case "", "sqlite":
		if cfg.CSVPath == "" {
			return nil, fmt.Errorf("records: csv_path is required for the sqlite driver")
		}
		return OpenCSV(cfg.CSVPath, opts, logger)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("records: dsn is required for the postgres driver")
		}
		return OpenPostgres(ctx, cfg.DSN, opts, logger)
	default:
		return nil, fmt.Errorf("records: unknown driver %q", cfg.Driver)
	}
}
