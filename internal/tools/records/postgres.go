package records

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSource serves one PostgreSQL table. Every statement runs in a
// read-only transaction.
type PostgresSource struct {
	db     *pgxpool.Pool
	opts   Options
	logger *zap.Logger
}

// OpenPostgres connects with a pgx pool and verifies the table exists.
func OpenPostgres(ctx context.Context, dsn string, opts Options, logger *zap.Logger) (*PostgresSource, error) {
	opts.defaults()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected", zap.String("table", opts.Table))
	return &PostgresSource{db: pool, opts: opts, logger: logger}, nil
}

func (s *PostgresSource) table() string {
	return pgx.Identifier{s.opts.Table}.Sanitize()
}

func (s *PostgresSource) readOnly(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresSource) Query(ctx context.Context, query string) (*Rows, error) {
	q, err := checkReadOnly(query)
	if err != nil {
		return nil, err
	}
	var res *Rows
	err = s.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, q)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		res, err = collect(rows, s.opts.MaxRows)
		return err
	})
	return res, err
}

func (s *PostgresSource) Record(ctx context.Context, id string) (map[string]any, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s::text = $1 LIMIT 1",
		s.table(), pgx.Identifier{s.opts.IDColumn}.Sanitize())
	var res *Rows
	err := s.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, q, id)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", id, err)
		}
		defer rows.Close()
		res, err = collect(rows, 1)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return res.Rows[0], nil
}

func (s *PostgresSource) Schema(ctx context.Context) (*Schema, error) {
	sch := &Schema{Table: s.opts.Table}
	err := s.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT column_name, data_type FROM information_schema.columns
			WHERE table_name = $1 AND table_schema = current_schema()
			ORDER BY ordinal_position`, s.opts.Table)
		if err != nil {
			return fmt.Errorf("describe: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c Column
			if err := rows.Scan(&c.Name, &c.Type); err != nil {
				return fmt.Errorf("describe: %w", err)
			}
			sch.Columns = append(sch.Columns, c)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("describe: %w", err)
		}
		if len(sch.Columns) == 0 {
			return fmt.Errorf("table %s not found", s.opts.Table)
		}
		return tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+s.table()).Scan(&sch.RowCount)
	})
	if err != nil {
		return nil, err
	}
	return sch, nil
}

// Close shuts down the connection pool.
func (s *PostgresSource) Close() error {
	s.db.Close()
	return nil
}

func collect(rows pgx.Rows, max int) (*Rows, error) {
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	res := &Rows{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		if len(res.Rows) == max {
			res.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(vals[i])
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

var _ Source = (*PostgresSource)(nil)
