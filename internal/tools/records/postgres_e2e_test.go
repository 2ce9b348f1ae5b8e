//go:build e2e

package records

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

// startPostgres starts a PostgreSQL testcontainer seeded with a contracts
// table and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("relay_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	_, err = pool.Exec(ctx, `
		CREATE TABLE contracts (
			contract_id TEXT PRIMARY KEY,
			counterparty TEXT NOT NULL,
			termination_clause TEXT,
			liability_cap NUMERIC,
			auto_renewal BOOLEAN
		);
		INSERT INTO contracts VALUES
			('C-001', 'Acme Corp', '30 days written notice', 1000000, true),
			('C-002', 'Globex', '90 days notice', 250000, false),
			('C-003', 'Initech', NULL, 500000, true);`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return dsn
}

func TestPostgresSource(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	src, err := OpenPostgres(ctx, dsn, Options{Table: "contracts", IDColumn: "contract_id", MaxRows: 2}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	rows, err := src.Query(ctx, "SELECT contract_id FROM contracts ORDER BY contract_id")
	if err != nil {
		t.Fatal(err)
	}
	if rows.RowCount != 2 || !rows.Truncated || rows.Rows[0]["contract_id"] != "C-001" {
		t.Errorf("rows = %+v", rows)
	}

	rec, err := src.Record(ctx, "C-002")
	if err != nil {
		t.Fatal(err)
	}
	if rec["counterparty"] != "Globex" || rec["auto_renewal"] != false {
		t.Errorf("record = %v", rec)
	}
	if _, err := src.Record(ctx, "C-404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	sch, err := src.Schema(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sch.Columns) != 5 || sch.RowCount != 3 || sch.Columns[0].Name != "contract_id" {
		t.Errorf("schema = %+v", sch)
	}
}

func TestPostgresSourceReadOnly(t *testing.T) {
	ctx := context.Background()
	src, err := OpenPostgres(ctx, startPostgres(t), Options{Table: "contracts", IDColumn: "contract_id"}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if _, err := src.Query(ctx, "WITH gone AS (DELETE FROM contracts RETURNING *) SELECT * FROM gone"); err == nil {
		t.Error("expected write to fail in a read-only transaction")
	}
	sch, err := src.Schema(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sch.RowCount != 3 {
		t.Errorf("rows deleted: %d left", sch.RowCount)
	}
}
