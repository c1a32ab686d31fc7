package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, SQLite, filepath.Join(t.TempDir(), "rankeval.db"))
	require.NoError(t, err)

	s := New(db, SQLite, fastRetries(3), nil, nil)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.CreateTables(ctx))
	return s
}

func TestSQLite_ReplaceIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Replace(ctx, TestEvaluations, testScope(), "matrix-1", testResults()))
	first, err := s.Load(ctx, TestEvaluations, testScope())
	require.NoError(t, err)

	require.NoError(t, s.Replace(ctx, TestEvaluations, testScope(), "matrix-1", testResults()))
	second, err := s.Load(ctx, TestEvaluations, testScope())
	require.NoError(t, err)

	require.Len(t, second, 2)
	assert.Equal(t, first, second)

	auc := second[1]
	assert.Equal(t, "roc_auc", auc.Metric)
	assert.Nil(t, auc.WorstValue)
	assert.Nil(t, auc.StochasticValue)
	require.NotNil(t, auc.StandardDeviation)
	assert.Equal(t, 0.0, *auc.StandardDeviation)

	precision := second[0]
	require.NotNil(t, precision.WorstValue)
	assert.InDelta(t, 2.0/3, *precision.WorstValue, 1e-12)
	assert.Equal(t, 30, precision.NumSortTrials)
	assert.Equal(t, 3, precision.LabeledAboveThreshold)
}

func TestSQLite_ReplaceLeavesOtherScopes(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	a := testScope()
	b := testScope()
	b.SubsetHash = "0d8f"
	c := testScope()
	c.ModelID = 8

	require.NoError(t, s.Replace(ctx, TestEvaluations, a, "m", testResults()))
	require.NoError(t, s.Replace(ctx, TestEvaluations, b, "m", testResults()))
	require.NoError(t, s.Replace(ctx, TestEvaluations, c, "m", testResults()))

	// Recompute scope a with fewer rows.
	require.NoError(t, s.Replace(ctx, TestEvaluations, a, "m", testResults()[:1]))

	rowsA, err := s.Load(ctx, TestEvaluations, a)
	require.NoError(t, err)
	assert.Len(t, rowsA, 1)

	for _, other := range []Scope{b, c} {
		rows, err := s.Load(ctx, TestEvaluations, other)
		require.NoError(t, err)
		assert.Len(t, rows, 2, "scope %s changed", other)
	}

	train, err := s.Load(ctx, TrainEvaluations, a)
	require.NoError(t, err)
	assert.Empty(t, train)
}

func TestSQLite_ExistingKeys(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	keys, err := s.ExistingKeys(ctx, TrainEvaluations, testScope())
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Replace(ctx, TrainEvaluations, testScope(), "m", testResults()))
	keys, err = s.ExistingKeys(ctx, TrainEvaluations, testScope())
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
