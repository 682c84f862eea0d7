package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/repo"
)

// QueryStore runs builder-rendered selects and returns rows keyed by column alias.
type QueryStore struct {
	db DB
}

func NewQueryStore(db DB) *QueryStore {
	if db == nil {
		return nil
	}
	return &QueryStore{db: db}
}

var _ repo.QueryRunner = (*QueryStore)(nil)

func (s *QueryStore) Select(ctx context.Context, query string, args []any) ([]domain.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("query store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	var out []domain.Record
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec := make(domain.Record, len(cols))
		for i, col := range cols {
			rec[col.Name()] = formatValue(col.DatabaseTypeName(), values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// formatValue renders driver values the way API clients expect them: dates and timestamps
// as plain strings, NULL as the empty string.
func formatValue(dbType string, v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		if strings.EqualFold(dbType, "DATE") {
			return t.Format(domain.DateLayout)
		}
		return t.Format(domain.DateTimeLayout)
	case []byte:
		return string(t)
	default:
		return v
	}
}
