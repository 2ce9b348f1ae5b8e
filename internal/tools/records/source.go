// Package records exposes a tabular dataset to workers as read-only query
// tools. The dataset lives in SQLite (loaded from CSV) or PostgreSQL.
package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Source.Record when no row has the id.
var ErrNotFound = errors.New("record not found")

// Source is a read-only dataset with a single table.
type Source interface {
	Query(ctx context.Context, query string) (*Rows, error)
	Record(ctx context.Context, id string) (map[string]any, error)
	Schema(ctx context.Context) (*Schema, error)
	Close() error
}

// Options name the table and bound query results.
type Options struct {
	Table    string
	IDColumn string
	MaxRows  int
}

func (o *Options) defaults() {
	if o.Table == "" {
		o.Table = "data"
	}
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
	if o.MaxRows <= 0 {
		o.MaxRows = 500
	}
}

// Rows is a query result. Truncated is set when MaxRows cut it short.
type Rows struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Schema struct {
	Table    string   `json:"table"`
	Columns  []Column `json:"columns"`
	RowCount int64    `json:"row_count"`
}

// checkReadOnly accepts a single SELECT (or WITH ... SELECT) statement.
// The sources also enforce read-only access at the database level.
func checkReadOnly(query string) (string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if q == "" {
		return "", fmt.Errorf("empty query")
	}
	if strings.Contains(q, ";") {
		return "", fmt.Errorf("only one statement is allowed")
	}
	first := strings.ToUpper(strings.Fields(q)[0])
	if first != "SELECT" && first != "WITH" {
		return "", fmt.Errorf("only SELECT queries are allowed, got %s", first)
	}
	return q, nil
}

// normalize makes a scanned value JSON friendly.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}
