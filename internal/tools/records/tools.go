package records

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-relay/internal/worker"
	"go.uber.org/zap"
)

// Register adds query_data, get_record_by_id and get_schema backed by src.
func Register(reg *worker.ToolRegistry, src Source, logger *zap.Logger) error {
	tools := []struct {
		spec    worker.ToolSpec
		handler worker.ToolHandler
	}{
		{
			worker.ToolSpec{
				Name:        "query_data",
				Description: "Run a read-only SQL SELECT against the dataset. Use get_schema first to learn the table and columns.",
				Parameters:  map[string]string{"sql": "a single SELECT statement"},
			},
			func(ctx context.Context, args map[string]any) (any, error) {
				var p struct {
					SQL string `json:"sql"`
				}
				if err := worker.DecodeArgs(args, &p); err != nil {
					return nil, err
				}
				rows, err := src.Query(ctx, p.SQL)
				if err != nil {
					logger.Debug("query_data failed", zap.String("sql", p.SQL), zap.Error(err))
					return nil, err
				}
				logger.Debug("query_data", zap.String("sql", p.SQL), zap.Int("rows", rows.RowCount))
				return rows, nil
			},
		},
		{
			worker.ToolSpec{
				Name:        "get_record_by_id",
				Description: "Fetch one record by its id.",
				Parameters:  map[string]string{"record_id": "the record id"},
			},
			func(ctx context.Context, args map[string]any) (any, error) {
				var p struct {
					RecordID string `json:"record_id"`
				}
				if err := worker.DecodeArgs(args, &p); err != nil {
					return nil, err
				}
				if p.RecordID == "" {
					return nil, fmt.Errorf("record_id is required")
				}
				rec, err := src.Record(ctx, p.RecordID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"record": rec}, nil
			},
		},
		{
			worker.ToolSpec{
				Name:        "get_schema",
				Description: "Describe the dataset table: column names, types and row count.",
			},
			func(ctx context.Context, _ map[string]any) (any, error) {
				return src.Schema(ctx)
			},
		},
	}

	for _, t := range tools {
		if err := reg.Register(t.spec, t.handler); err != nil {
			return err
		}
	}
	return nil
}
