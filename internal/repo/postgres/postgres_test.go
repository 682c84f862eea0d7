package postgres

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/domain"
)

func TestContributionQueriesAgreeOnColumnCount(t *testing.T) {
	args := contributionArgs(domain.Contribution{ContactID: 1, FinancialTypeID: 1, Currency: "usd"})
	if !strings.Contains(insertContributionQuery, "$23)") {
		t.Fatalf("insert query should bind %d values", len(args))
	}
	if len(args) != 23 {
		t.Fatalf("contributionArgs() len=%d, want 23", len(args))
	}
	if args[12] != "USD" {
		t.Fatalf("currency arg=%v, want USD", args[12])
	}
	if !strings.Contains(updateContributionQuery, "WHERE id = $24") {
		t.Fatalf("update query should key on $24")
	}
	if got := strings.Count(contributionColumns, ",") + 1; got != 24 {
		t.Fatalf("contributionColumns has %d columns, want 24", got)
	}
}

func TestCompletionQueries(t *testing.T) {
	if !strings.Contains(markCompletedQuery, "COALESCE($4, trxn_id)") {
		t.Fatalf("completion must keep the stored trxn_id when none is given")
	}
	if !strings.Contains(linkMembershipPaymentQuery, "ON CONFLICT (membership_id, contribution_id) DO NOTHING") {
		t.Fatalf("membership payment link must be idempotent")
	}
	if !strings.Contains(completePledgePaymentQuery, "RETURNING pledge_id") {
		t.Fatalf("pledge payment completion must return the pledge")
	}
}

func TestWriteErrorMapsConstraintViolations(t *testing.T) {
	unique := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "contribution_invoice_id_key"}
	err := writeError("Could not create contribution", unique)
	if !apierr.Is(err, apierr.Persistence) {
		t.Fatalf("writeError() kind=%s", apierr.KindOf(err))
	}
	if !strings.Contains(err.Error(), "contribution_invoice_id_key") {
		t.Fatalf("writeError()=%v", err)
	}

	fk := &pgconn.PgError{Code: pgForeignKeyViolation, TableName: "contribution"}
	if err := writeError("x", fk); !strings.HasPrefix(err.Error(), "Referenced record does not exist (contribution)") {
		t.Fatalf("writeError()=%v", err)
	}

	other := writeError("Could not delete contribution", errors.New("conn reset"))
	var e *apierr.E
	if !errors.As(other, &e) || e.Message != "Could not delete contribution" {
		t.Fatalf("writeError()=%v", other)
	}
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	if got := formatValue("DATE", ts); got != "2024-03-15" {
		t.Fatalf("DATE=%v", got)
	}
	if got := formatValue("TIMESTAMP", ts); got != "2024-03-15 09:30:00" {
		t.Fatalf("TIMESTAMP=%v", got)
	}
	if got := formatValue("TEXT", nil); got != "" {
		t.Fatalf("NULL=%v", got)
	}
	if got := formatValue("NUMERIC", []byte("10.00")); got != "10.00" {
		t.Fatalf("NUMERIC=%v", got)
	}
	if got := formatValue("INT8", int64(4)); got != int64(4) {
		t.Fatalf("INT8=%v", got)
	}
}

func TestMigrationFilesSorted(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.sql": {Data: []byte("SELECT 2")},
		"0001_a.sql": {Data: []byte("SELECT 1")},
		"README.md":  {Data: []byte("docs")},
	}
	names, err := migrationFiles(fsys)
	if err != nil {
		t.Fatalf("migrationFiles() err=%v", err)
	}
	if strings.Join(names, ",") != "0001_a.sql,0002_b.sql" {
		t.Fatalf("names=%v", names)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(3, 3); got != "$3, $4, $5" {
		t.Fatalf("placeholders()=%q", got)
	}
}
