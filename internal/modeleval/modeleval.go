// Package modeleval evaluates a model's predictions on a matrix and persists
// the results under the matrix's scope.
package modeleval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fractal-lba/rankeval/internal/eval"
	"github.com/fractal-lba/rankeval/internal/lock"
	"github.com/fractal-lba/rankeval/internal/matrix"
	"github.com/fractal-lba/rankeval/internal/store"
	"github.com/fractal-lba/rankeval/internal/subset"
	"github.com/fractal-lba/rankeval/pkg/otel"
)

const (
	tracerName     = "rankeval/modeleval"
	defaultLockTTL = 10 * time.Minute
)

var (
	// ErrNoSubsetSource is returned when a subset is requested but no
	// membership source is configured.
	ErrNoSubsetSource = errors.New("subset evaluation requires a subset source")

	// ErrEmptyMatrix is returned for matrices without as-of dates, which
	// have no scope to store under.
	ErrEmptyMatrix = errors.New("matrix has no as-of dates")
)

// Options are the optional collaborators of a ModelEvaluator.
type Options struct {
	Subsets subset.Source
	Locker  lock.Locker
	LockTTL time.Duration
	Logger  *zap.SugaredLogger
}

// ModelEvaluator ties the evaluator to a results sink. Testing and training
// matrices are scored against separate metric groups and stored in separate
// tables.
type ModelEvaluator struct {
	evaluator    *eval.Evaluator
	sink         store.Sink
	testingDefs  []eval.MetricDefinition
	trainingDefs []eval.MetricDefinition

	subsets subset.Source
	locker  lock.Locker
	lockTTL time.Duration
	logger  *zap.SugaredLogger
}

// New expands both group lists against the evaluator's catalog. Unknown
// metrics fail here, before any matrix is read.
func New(evaluator *eval.Evaluator, testingGroups, trainingGroups []eval.MetricGroup, sink store.Sink, opts Options) (*ModelEvaluator, error) {
	testingDefs, err := eval.ExpandGroups(testingGroups, evaluator.Catalog())
	if err != nil {
		return nil, fmt.Errorf("testing metric groups: %w", err)
	}
	trainingDefs, err := eval.ExpandGroups(trainingGroups, evaluator.Catalog())
	if err != nil {
		return nil, fmt.Errorf("training metric groups: %w", err)
	}

	m := &ModelEvaluator{
		evaluator:    evaluator,
		sink:         sink,
		testingDefs:  testingDefs,
		trainingDefs: trainingDefs,
		subsets:      opts.Subsets,
		locker:       opts.Locker,
		lockTTL:      opts.LockTTL,
		logger:       opts.Logger,
	}
	if m.lockTTL <= 0 {
		m.lockTTL = defaultLockTTL
	}
	if m.logger == nil {
		m.logger = zap.NewNop().Sugar()
	}
	return m, nil
}

// DefinitionsFor returns the definitions that apply to a test or training
// matrix.
func (m *ModelEvaluator) DefinitionsFor(isTest bool) []eval.MetricDefinition {
	if isTest {
		return m.testingDefs
	}
	return m.trainingDefs
}

// ScopeFor derives the storage scope of a model evaluated on ms.
func ScopeFor(ms matrix.Store, modelID int64, spec subset.Spec) (store.Scope, error) {
	dates := ms.AsOfDates()
	if len(dates) == 0 {
		return store.Scope{}, ErrEmptyMatrix
	}
	hash, err := subset.Hash(spec)
	if err != nil {
		return store.Scope{}, fmt.Errorf("hash subset: %w", err)
	}
	return store.Scope{
		ModelID:             modelID,
		EvaluationStartTime: dates[0],
		EvaluationEndTime:   dates[len(dates)-1],
		AsOfDateFrequency:   ms.Metadata().AsOfDateFrequency,
		SubsetHash:          hash,
	}, nil
}

// NeedsEvaluations reports whether any applicable definition is missing
// from the stored rows of the scope.
func (m *ModelEvaluator) NeedsEvaluations(ctx context.Context, ms matrix.Store, modelID int64, spec subset.Spec) (bool, error) {
	scope, err := ScopeFor(ms, modelID, spec)
	if err != nil {
		return false, err
	}
	return store.NeedsEvaluations(ctx, m.sink, store.TableFor(ms.IsTest()), scope, m.DefinitionsFor(ms.IsTest()))
}

// Evaluate scores predictions, aligned with the rows of ms, and replaces the
// scope's stored results. A non-nil spec restricts rows to subset members.
func (m *ModelEvaluator) Evaluate(ctx context.Context, predictions []float64, ms matrix.Store, modelID int64, spec subset.Spec) ([]eval.Result, error) {
	labels := ms.Labels()
	if len(predictions) != len(labels) {
		return nil, fmt.Errorf("got %d predictions for %d matrix rows", len(predictions), len(labels))
	}

	scope, err := ScopeFor(ms, modelID, spec)
	if err != nil {
		return nil, err
	}
	table := store.TableFor(ms.IsTest())

	attrs := otel.ScopeAttributes(scope.ModelID, scope.EvaluationStartTime, scope.EvaluationEndTime, scope.AsOfDateFrequency, scope.SubsetHash)
	attrs = append(attrs, otel.MatrixAttributes(ms.UUID(), ms.IsTest(), len(predictions))...)
	ctx, span := otel.StartSpan(ctx, tracerName, "modeleval.Evaluate", attrs...)
	defer span.End()

	if m.locker != nil {
		release, err := m.locker.Acquire(ctx, string(table)+" "+scope.String(), m.lockTTL)
		if err != nil {
			otel.RecordError(span, err, "scope lock failed")
			return nil, err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				m.logger.Warnw("Failed to release scope lock", "scope", scope.String(), "error", err)
			}
		}()
	}

	scores := predictions
	if spec != nil {
		if m.subsets == nil {
			return nil, ErrNoSubsetSource
		}
		members, err := m.subsets.Members(ctx, ms.AsOfDates(), spec)
		if err != nil {
			otel.RecordError(span, err, "subset lookup failed")
			return nil, fmt.Errorf("subset %s: %w", spec.Name(), err)
		}
		labels, scores, err = subset.Restrict(ms.Keys(), labels, predictions, members)
		if err != nil {
			return nil, err
		}
		m.logger.Debugw("Restricted matrix to subset",
			"subset", spec.Name(),
			"rows", len(predictions),
			"kept", len(scores),
		)
	}

	defs := m.DefinitionsFor(ms.IsTest())
	results, err := m.evaluator.Evaluate(ctx, scores, labels, defs)
	if err != nil {
		otel.RecordError(span, err, "evaluation failed")
		return nil, err
	}

	if err := m.sink.Replace(ctx, table, scope, ms.UUID(), results); err != nil {
		otel.RecordError(span, err, "persist failed")
		return nil, fmt.Errorf("persist %s: %w", scope.String(), err)
	}

	m.logger.Infow("Evaluated model",
		"model_id", modelID,
		"matrix_uuid", ms.UUID(),
		"table", table,
		"definitions", len(defs),
		"predictions", len(scores),
	)
	return results, nil
}
