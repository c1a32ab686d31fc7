package store

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver
)

// Dialect captures the few SQL differences between the supported databases.
type Dialect struct {
	Name   string
	Driver string

	numbered  bool
	floatType string
	intType   string
	timeType  string
}

var (
	Postgres = Dialect{
		Name:      "postgres",
		Driver:    "pgx",
		numbered:  true,
		floatType: "DOUBLE PRECISION",
		intType:   "BIGINT",
		timeType:  "TIMESTAMP",
	}
	SQLite = Dialect{
		Name:      "sqlite",
		Driver:    "sqlite",
		floatType: "REAL",
		intType:   "INTEGER",
		timeType:  "TIMESTAMP",
	}
)

// DialectFor resolves a configured driver name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
}

// Placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// placeholders returns count markers starting at from, comma-separated.
func (d Dialect) placeholders(from, count int) string {
	marks := make([]string, count)
	for i := range marks {
		marks[i] = d.Placeholder(from + i)
	}
	return strings.Join(marks, ", ")
}

func (d Dialect) createTable(table Table) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	model_id %[2]s NOT NULL,
	subset_hash TEXT NOT NULL DEFAULT '',
	evaluation_start_time %[4]s NOT NULL,
	evaluation_end_time %[4]s NOT NULL,
	as_of_date_frequency TEXT NOT NULL,
	metric TEXT NOT NULL,
	parameter TEXT NOT NULL,
	num_labeled_examples %[2]s,
	num_labeled_above_threshold %[2]s,
	num_positive_labels %[2]s,
	worst_value %[3]s,
	best_value %[3]s,
	stochastic_value %[3]s,
	num_sort_trials %[2]s,
	standard_deviation %[3]s,
	matrix_uuid TEXT,
	PRIMARY KEY (model_id, subset_hash, evaluation_start_time, evaluation_end_time, as_of_date_frequency, metric, parameter)
)`, table, d.intType, d.floatType, d.timeType)
}
