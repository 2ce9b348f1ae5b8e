package records

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteSource serves a CSV file loaded into an in-memory SQLite table.
type SQLiteSource struct {
	db     *sql.DB
	opts   Options
	logger *zap.Logger
}

// OpenCSV loads the CSV at path into a fresh in-memory table. The first
// line is the header. Column types are inferred from the values.
func OpenCSV(path string, opts Options, logger *zap.Logger) (*SQLiteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("records: open csv: %w", err)
	}
	defer f.Close()
	return LoadCSV(f, opts, logger)
}

// LoadCSV is OpenCSV over a reader.
func LoadCSV(r io.Reader, opts Options, logger *zap.Logger) (*SQLiteSource, error) {
	opts.defaults()

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	all, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("records: read csv: %w", err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("records: csv has no header")
	}
	header, data := all[0], all[1:]

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("records: open sqlite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	s := &SQLiteSource{db: db, opts: opts, logger: logger}
	if err := s.load(header, data); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("records: query_only: %w", err)
	}
	logger.Info("Records loaded",
		zap.String("table", opts.Table),
		zap.Int("columns", len(header)),
		zap.Int("rows", len(data)))
	return s, nil
}

func (s *SQLiteSource) load(header []string, data [][]string) error {
	types := inferTypes(header, data)
	defs := make([]string, len(header))
	marks := make([]string, len(header))
	for i, name := range header {
		defs[i] = quoteIdent(name) + " " + types[i]
		marks[i] = "?"
	}
	table := quoteIdent(s.opts.Table)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("records: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("records: create table: %w", err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("records: prepare insert: %w", err)
	}
	defer stmt.Close()

	for n, row := range data {
		vals := make([]any, len(header))
		for i := range header {
			if i < len(row) {
				vals[i] = typedValue(row[i], types[i])
			}
		}
		if _, err := stmt.Exec(vals...); err != nil {
			return fmt.Errorf("records: insert row %d: %w", n+1, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSource) Query(ctx context.Context, query string) (*Rows, error) {
	q, err := checkReadOnly(query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows, s.opts.MaxRows)
}

func (s *SQLiteSource) Record(ctx context.Context, id string) (map[string]any, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE CAST(%s AS TEXT) = ? LIMIT 1",
		quoteIdent(s.opts.Table), quoteIdent(s.opts.IDColumn))
	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", id, err)
	}
	defer rows.Close()
	res, err := scanRows(rows, 1)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return res.Rows[0], nil
}

func (s *SQLiteSource) Schema(ctx context.Context) (*Schema, error) {
	table := quoteIdent(s.opts.Table)
	rows, err := s.db.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?)", s.opts.Table)
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	defer rows.Close()

	sch := &Schema{Table: s.opts.Table}
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("describe: %w", err)
		}
		sch.Columns = append(sch.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&sch.RowCount); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	return sch, nil
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

func scanRows(rows *sql.Rows, max int) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	res := &Rows{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		if len(res.Rows) == max {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
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

func inferTypes(header []string, data [][]string) []string {
	types := make([]string, len(header))
	for i := range header {
		t := "INTEGER"
		seen := false
		for _, row := range data {
			if i >= len(row) || row[i] == "" {
				continue
			}
			seen = true
			if t == "INTEGER" {
				if _, err := strconv.ParseInt(row[i], 10, 64); err == nil {
					continue
				}
				t = "REAL"
			}
			if _, err := strconv.ParseFloat(row[i], 64); err != nil {
				t = "TEXT"
				break
			}
		}
		if !seen {
			t = "TEXT"
		}
		types[i] = t
	}
	return types
}

func typedValue(v, typ string) any {
	if v == "" {
		return nil
	}
	switch typ {
	case "INTEGER":
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case "REAL":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var _ Source = (*SQLiteSource)(nil)
