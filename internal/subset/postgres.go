package subset

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the part of a pgx pool PostgresSource uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSource reads subset members from subset_{name}_{hash} tables.
type PostgresSource struct {
	db Querier
}

// NewPostgresSource wraps an existing pool or connection.
func NewPostgresSource(db Querier) *PostgresSource {
	return &PostgresSource{db: db}
}

// ConnectPostgres opens a pgx pool and verifies the connection.
func ConnectPostgres(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return pool, nil
}

// Members returns the subset rows at the given dates.
func (p *PostgresSource) Members(ctx context.Context, asOfDates []time.Time, spec Spec) ([]Member, error) {
	table, err := TableName(spec)
	if err != nil {
		return nil, err
	}
	if len(asOfDates) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT entity_id, as_of_date, active FROM %s WHERE as_of_date = ANY($1)`,
		pgx.Identifier{table}.Sanitize(),
	)

	dates := make([]time.Time, len(asOfDates))
	for i, d := range asOfDates {
		dates[i] = d.UTC()
	}

	rows, err := p.db.Query(ctx, query, dates)
	if err != nil {
		return nil, fmt.Errorf("query subset %s: %w", table, err)
	}

	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Member, error) {
		var m Member
		var active *bool
		if err := row.Scan(&m.EntityID, &m.AsOfDate, &active); err != nil {
			return m, err
		}
		m.AsOfDate = m.AsOfDate.UTC()
		m.Active = active != nil && *active
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan subset %s: %w", table, err)
	}
	return members, nil
}
