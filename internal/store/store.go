// Package store persists evaluation results keyed by run scope.
//
// A scope write deletes every row of the exact scope and inserts the new
// rows in one transaction, so re-running an evaluation replaces its previous
// output and never touches other scopes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/rankeval/internal/eval"
	"github.com/fractal-lba/rankeval/internal/metrics"
	"github.com/fractal-lba/rankeval/pkg/otel"
)

// ErrRetriesExhausted wraps the last transient error once every attempt failed.
var ErrRetriesExhausted = errors.New("scope write retries exhausted")

const tracerName = "rankeval/store"

// Sink receives evaluation results for a scope.
type Sink interface {
	// Replace atomically swaps the scope's rows for results.
	Replace(ctx context.Context, table Table, scope Scope, matrixUUID string, results []eval.Result) error

	// ExistingKeys returns the distinct (metric, parameter) pairs stored for scope.
	ExistingKeys(ctx context.Context, table Table, scope Scope) (map[eval.Key]struct{}, error)
}

// NeedsEvaluations reports whether any definition is missing from the
// scope's stored rows.
func NeedsEvaluations(ctx context.Context, sink Sink, table Table, scope Scope, defs []eval.MetricDefinition) (bool, error) {
	existing, err := sink.ExistingKeys(ctx, table, scope)
	if err != nil {
		return false, err
	}
	for _, def := range defs {
		if _, ok := existing[def.Key()]; !ok {
			return true, nil
		}
	}
	return false, nil
}

// Config tunes SQLStore writes.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
	// WriteRate caps scope writes per second across goroutines; 0 disables it.
	WriteRate float64
}

// DefaultConfig returns the standard write settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// SQLStore implements Sink over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	config  Config
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// Open connects to the database and verifies it with a ping.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", dialect.Name, err)
	}
	return db, nil
}

// New wraps db. logger and m may be nil.
func New(db *sql.DB, dialect Dialect, config Config, logger *zap.SugaredLogger, m *metrics.Metrics) *SQLStore {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &SQLStore{db: db, dialect: dialect, config: config, logger: logger, metrics: m}
	if config.WriteRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.WriteRate), 1)
	}
	return s
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CreateTables creates both result tables if they do not exist.
func (s *SQLStore) CreateTables(ctx context.Context) error {
	for _, table := range []Table{TestEvaluations, TrainEvaluations} {
		if _, err := s.db.ExecContext(ctx, s.dialect.createTable(table)); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	return nil
}

// Replace deletes the scope's rows and inserts results in one transaction,
// retrying the whole transaction on transient failures.
func (s *SQLStore) Replace(ctx context.Context, table Table, scope Scope, matrixUUID string, results []eval.Result) error {
	if !table.Valid() {
		return fmt.Errorf("unknown result table %q", table)
	}

	start := time.Now()
	ctx, span := otel.StartSpan(ctx, tracerName, "store.Replace",
		otel.AttrTable.String(string(table)),
		otel.AttrRows.Int(len(results)),
	)
	defer span.End()

	err := s.withRetry(ctx, func(attempt int) error {
		otel.AddEvent(span, "attempt", otel.AttrAttempt.Int(attempt))
		return s.replaceOnce(ctx, table, scope, matrixUUID, results)
	})
	s.metrics.ObserveWrite(string(table), len(results), start, err)
	if err != nil {
		otel.RecordError(span, err, "scope replace failed")
		return err
	}

	s.logger.Infow("Stored evaluations",
		"table", table,
		"scope", scope.String(),
		"rows", len(results),
	)
	return nil
}

func (s *SQLStore) withRetry(ctx context.Context, fn func(attempt int) error) error {
	backoff := s.config.RetryBackoff
	var err error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		if s.limiter != nil {
			if werr := s.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}

		err = fn(attempt + 1)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == s.config.MaxRetries-1 {
			break
		}

		s.metrics.ObserveRetry()
		s.logger.Warnw("Scope write failed, retrying",
			"attempt", attempt+1,
			"max_retries", s.config.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.config.MaxRetries, err)
}

var resultColumns = []string{
	"model_id",
	"evaluation_start_time",
	"evaluation_end_time",
	"as_of_date_frequency",
	"subset_hash",
	"metric",
	"parameter",
	"num_labeled_examples",
	"num_labeled_above_threshold",
	"num_positive_labels",
	"worst_value",
	"best_value",
	"stochastic_value",
	"num_sort_trials",
	"standard_deviation",
	"matrix_uuid",
}

func (s *SQLStore) scopeWhere() string {
	return fmt.Sprintf(
		"model_id = %s AND evaluation_start_time = %s AND evaluation_end_time = %s AND as_of_date_frequency = %s AND subset_hash = %s",
		s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3),
		s.dialect.Placeholder(4), s.dialect.Placeholder(5),
	)
}

func (s *SQLStore) replaceOnce(ctx context.Context, table Table, scope Scope, matrixUUID string, results []eval.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, s.scopeWhere()), scope.args()...); err != nil {
		return fmt.Errorf("delete scope rows: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(resultColumns, ", "), s.dialect.placeholders(1, len(resultColumns)))
	for _, r := range results {
		args := append(scope.args(),
			r.Metric,
			r.Parameter,
			r.LabeledExamples,
			r.LabeledAboveThreshold,
			r.PositiveLabels,
			r.WorstValue,
			r.BestValue,
			r.StochasticValue,
			r.NumSortTrials,
			r.StandardDeviation,
			matrixUUID,
		)
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return fmt.Errorf("insert %s (%s): %w", r.Metric, r.Parameter, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scope: %w", err)
	}
	return nil
}

// ExistingKeys returns the distinct (metric, parameter) pairs stored for scope.
func (s *SQLStore) ExistingKeys(ctx context.Context, table Table, scope Scope) (map[eval.Key]struct{}, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("unknown result table %q", table)
	}

	query := fmt.Sprintf("SELECT DISTINCT metric, parameter FROM %s WHERE %s", table, s.scopeWhere())
	rows, err := s.db.QueryContext(ctx, query, scope.args()...)
	if err != nil {
		return nil, fmt.Errorf("query existing evaluations: %w", err)
	}
	defer rows.Close()

	keys := make(map[eval.Key]struct{})
	for rows.Next() {
		var k eval.Key
		if err := rows.Scan(&k.Metric, &k.Parameter); err != nil {
			return nil, fmt.Errorf("scan existing evaluation: %w", err)
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

// Load returns the stored results for scope ordered by metric and parameter.
func (s *SQLStore) Load(ctx context.Context, table Table, scope Scope) ([]eval.Result, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("unknown result table %q", table)
	}

	query := fmt.Sprintf(`SELECT metric, parameter, num_labeled_examples, num_labeled_above_threshold,
	num_positive_labels, worst_value, best_value, stochastic_value, num_sort_trials, standard_deviation
FROM %s WHERE %s ORDER BY metric, parameter`, table, s.scopeWhere())
	rows, err := s.db.QueryContext(ctx, query, scope.args()...)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var results []eval.Result
	for rows.Next() {
		var (
			r                               eval.Result
			worst, best, stochastic, stdDev sql.NullFloat64
		)
		if err := rows.Scan(&r.Metric, &r.Parameter, &r.LabeledExamples, &r.LabeledAboveThreshold,
			&r.PositiveLabels, &worst, &best, &stochastic, &r.NumSortTrials, &stdDev); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		r.WorstValue = nullable(worst)
		r.BestValue = nullable(best)
		r.StochasticValue = nullable(stochastic)
		r.StandardDeviation = nullable(stdDev)
		results = append(results, r)
	}
	return results, rows.Err()
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
