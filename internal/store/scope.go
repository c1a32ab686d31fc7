package store

import (
	"fmt"
	"time"
)

// Table names one of the two evaluation result tables.
type Table string

const (
	TestEvaluations  Table = "test_evaluations"
	TrainEvaluations Table = "train_evaluations"
)

// TableFor picks the result table for a test or training matrix.
func TableFor(isTest bool) Table {
	if isTest {
		return TestEvaluations
	}
	return TrainEvaluations
}

// Valid reports whether t is a known table. Table names are interpolated
// into SQL, so every query checks this first.
func (t Table) Valid() bool {
	return t == TestEvaluations || t == TrainEvaluations
}

// Scope is the storage slot of one evaluation run. Rows of a scope are always
// replaced together and never touch another scope's rows.
type Scope struct {
	ModelID             int64
	EvaluationStartTime time.Time
	EvaluationEndTime   time.Time
	AsOfDateFrequency   string
	// SubsetHash is empty when no subset restriction applies.
	SubsetHash string
}

// String renders the scope for logs and lock keys.
func (s Scope) String() string {
	return fmt.Sprintf("model=%d start=%s end=%s freq=%s subset=%q",
		s.ModelID,
		s.EvaluationStartTime.UTC().Format(time.RFC3339),
		s.EvaluationEndTime.UTC().Format(time.RFC3339),
		s.AsOfDateFrequency,
		s.SubsetHash,
	)
}

func (s Scope) args() []any {
	return []any{
		s.ModelID,
		s.EvaluationStartTime.UTC(),
		s.EvaluationEndTime.UTC(),
		s.AsOfDateFrequency,
		s.SubsetHash,
	}
}

func (s Scope) normalized() Scope {
	s.EvaluationStartTime = s.EvaluationStartTime.UTC()
	s.EvaluationEndTime = s.EvaluationEndTime.UTC()
	return s
}
