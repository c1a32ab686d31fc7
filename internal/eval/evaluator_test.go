package eval

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/fractal-lba/rankeval/internal/metric"
)

func newTestEvaluator(t *testing.T, catalog *metric.Catalog) *Evaluator {
	t.Helper()
	if catalog == nil {
		catalog = metric.NewCatalog()
	}
	cfg := DefaultConfig()
	cfg.Seeds = NewSeedSource(42)
	return NewEvaluator(catalog, cfg, nil, nil)
}

func definition(t *testing.T, name string, threshold *Thresholds, params ...metric.Parameters) MetricDefinition {
	t.Helper()
	defs, err := ExpandGroups([]MetricGroup{{Metrics: []string{name}, Thresholds: threshold, Parameters: params}}, metric.NewCatalog())
	if err != nil {
		t.Fatalf("ExpandGroups failed: %v", err)
	}
	return defs[0]
}

func TestEvaluate_TiedScores(t *testing.T) {
	e := newTestEvaluator(t, nil)
	scores := []float64{0.9, 0.8, 0.8, 0.8, 0.1}
	labels := []float64{1, 1, 0, 1, 0}
	def := definition(t, "precision@", &Thresholds{TopN: []int{3}})

	results, err := e.Evaluate(context.Background(), scores, labels, []MetricDefinition{def})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	r := results[0]

	if r.Metric != "precision@" || r.Parameter != "3_abs" {
		t.Errorf("Unexpected key %+v", r.Key())
	}
	if r.WorstValue == nil || math.Abs(*r.WorstValue-2.0/3) > 1e-9 {
		t.Errorf("worst = %v, want 2/3", r.WorstValue)
	}
	if r.BestValue == nil || *r.BestValue != 1 {
		t.Errorf("best = %v, want 1", r.BestValue)
	}
	if r.NumSortTrials != DefaultSortTrials {
		t.Errorf("trials = %d, want %d", r.NumSortTrials, DefaultSortTrials)
	}
	if r.StochasticValue == nil || *r.StochasticValue < *r.WorstValue || *r.StochasticValue > *r.BestValue {
		t.Errorf("stochastic = %v not within [worst, best]", r.StochasticValue)
	}
	if r.StandardDeviation == nil || *r.StandardDeviation < 0 {
		t.Errorf("stddev = %v", r.StandardDeviation)
	}

	want := Counts{LabeledExamples: 5, LabeledAboveThreshold: 3, PositiveLabels: 3}
	if r.Counts != want {
		t.Errorf("counts = %+v, want %+v", r.Counts, want)
	}
}

func TestEvaluate_StableSkipsTrials(t *testing.T) {
	e := newTestEvaluator(t, nil)
	scores := []float64{0.9, 0.8, 0.8, 0.8, 0.1}
	labels := []float64{1, 1, 0, 1, 0}
	defs := []MetricDefinition{
		definition(t, "precision@", &Thresholds{TopN: []int{1}}),
		definition(t, "roc_auc", nil),
	}

	results, err := e.Evaluate(context.Background(), scores, labels, defs)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	for _, r := range results {
		if r.NumSortTrials != 0 {
			t.Errorf("%s: trials = %d, want 0", r.Metric, r.NumSortTrials)
		}
		if r.StandardDeviation == nil || *r.StandardDeviation != 0 {
			t.Errorf("%s: stddev = %v, want 0", r.Metric, r.StandardDeviation)
		}
		if r.StochasticValue == nil || *r.StochasticValue != *r.WorstValue {
			t.Errorf("%s: stochastic = %v, want worst %v", r.Metric, r.StochasticValue, *r.WorstValue)
		}
	}
}

func TestEvaluate_EmptyInput(t *testing.T) {
	e := newTestEvaluator(t, nil)
	defs := []MetricDefinition{
		definition(t, "precision@", &Thresholds{Percentiles: []float64{10}}),
		definition(t, "roc_auc", nil),
	}

	results, err := e.Evaluate(context.Background(), nil, nil, defs)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	for _, r := range results {
		if r.WorstValue != nil || r.BestValue != nil || r.StochasticValue != nil {
			t.Errorf("%s: expected nil values, got %+v", r.Metric, r)
		}
		if r.NumSortTrials != 0 || r.Counts != (Counts{}) {
			t.Errorf("%s: expected zero counts, got %+v", r.Metric, r)
		}
	}
}

func TestEvaluate_UndefinedMetricIsNull(t *testing.T) {
	e := newTestEvaluator(t, nil)
	results, err := e.Evaluate(context.Background(),
		[]float64{0.9, 0.5}, []float64{1, 1},
		[]MetricDefinition{definition(t, "roc_auc", nil), definition(t, "precision@", nil)})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if results[0].WorstValue != nil || results[0].BestValue != nil {
		t.Errorf("roc_auc with one class should be nil, got %+v", results[0])
	}
	if results[1].WorstValue == nil || *results[1].WorstValue != 1 {
		t.Errorf("precision@ should still be computed, got %+v", results[1])
	}
}

func TestEvaluate_MissingLabelsDropped(t *testing.T) {
	e := newTestEvaluator(t, nil)
	nan := math.NaN()
	scores := []float64{0.9, 0.8, 0.7, 0.6}
	labels := []float64{1, nan, 0, nan}

	results, err := e.Evaluate(context.Background(), scores, labels,
		[]MetricDefinition{definition(t, "precision@", &Thresholds{TopN: []int{2}})})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	r := results[0]
	want := Counts{LabeledExamples: 2, LabeledAboveThreshold: 1, PositiveLabels: 1}
	if r.Counts != want {
		t.Errorf("counts = %+v, want %+v", r.Counts, want)
	}
	if r.WorstValue == nil || *r.WorstValue != 1 {
		t.Errorf("worst = %v, want 1", r.WorstValue)
	}
}

func TestEvaluate_MetricSeesAllScores(t *testing.T) {
	catalog := metric.NewCatalog()
	var seenScores, seenLabels int
	if err := catalog.Register("sizes", metric.Descriptor{
		Func: func(scores []float64, predicted []int8, labels []float64, _ metric.Parameters) (float64, error) {
			seenScores, seenLabels = len(scores), len(labels)
			return 0, nil
		},
		Direction: metric.HigherIsBetter,
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defs, err := ExpandGroups([]MetricGroup{{Metrics: []string{"sizes", "roc_auc"}}}, catalog)
	if err != nil {
		t.Fatalf("ExpandGroups failed: %v", err)
	}

	nan := math.NaN()
	results, err := newTestEvaluator(t, catalog).Evaluate(context.Background(),
		[]float64{0.9, 0.8, 0.7, 0.6}, []float64{1, nan, 0, nan}, defs)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if seenScores != 4 || seenLabels != 2 {
		t.Errorf("metric saw %d scores and %d labels, want 4 and 2", seenScores, seenLabels)
	}
	for _, r := range results {
		if r.Metric == "roc_auc" && (r.WorstValue != nil || r.BestValue != nil) {
			t.Errorf("roc_auc with missing labels should be nil, got %+v", r)
		}
	}
}

func TestEvaluate_MetricErrorAborts(t *testing.T) {
	catalog := metric.NewCatalog()
	boom := errors.New("boom")
	if err := catalog.Register("broken", metric.Descriptor{
		Func:      func([]float64, []int8, []float64, metric.Parameters) (float64, error) { return 0, boom },
		Direction: metric.HigherIsBetter,
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defs, err := ExpandGroups([]MetricGroup{{Metrics: []string{"broken"}}}, catalog)
	if err != nil {
		t.Fatalf("ExpandGroups failed: %v", err)
	}

	_, err = newTestEvaluator(t, catalog).Evaluate(context.Background(), []float64{1}, []float64{1}, defs)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected metric error, got %v", err)
	}
}

func TestEvaluate_ReproducibleWithSeed(t *testing.T) {
	scores := []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.2, 0.2}
	labels := []float64{1, 0, 1, 0, 0, 1, 1, 0}
	defs := []MetricDefinition{definition(t, "recall@", &Thresholds{TopN: []int{3}})}

	a, err := newTestEvaluator(t, nil).Evaluate(context.Background(), scores, labels, defs)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	b, err := newTestEvaluator(t, nil).Evaluate(context.Background(), scores, labels, defs)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if *a[0].StochasticValue != *b[0].StochasticValue || *a[0].StandardDeviation != *b[0].StandardDeviation {
		t.Errorf("Same seed gave %v/%v and %v/%v",
			*a[0].StochasticValue, *a[0].StandardDeviation, *b[0].StochasticValue, *b[0].StandardDeviation)
	}
}

func registerPairMetric(t *testing.T) *metric.Catalog {
	t.Helper()
	catalog := metric.NewCatalog()
	// 0 when the top two labels are negative, 1 when both are positive,
	// undefined when they differ.
	err := catalog.Register("top pair", metric.Descriptor{
		Func: func(_ []float64, _ []int8, labels []float64, _ metric.Parameters) (float64, error) {
			if labels[0] != labels[1] {
				return 0, metric.ErrUndefined
			}
			return labels[0], nil
		},
		Direction: metric.HigherIsBetter,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return catalog
}

func TestEvaluate_NullTrialsDiscarded(t *testing.T) {
	catalog := registerPairMetric(t)
	defs, err := ExpandGroups([]MetricGroup{{Metrics: []string{"top pair"}}}, catalog)
	if err != nil {
		t.Fatalf("ExpandGroups failed: %v", err)
	}

	results, err := newTestEvaluator(t, catalog).Evaluate(context.Background(),
		[]float64{0.5, 0.5, 0.5, 0.5}, []float64{0, 1, 0, 1}, defs)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	r := results[0]
	if r.WorstValue == nil || *r.WorstValue != 0 || r.BestValue == nil || *r.BestValue != 1 {
		t.Fatalf("Expected worst 0 and best 1, got %+v", r)
	}
	if r.NumSortTrials <= 0 || r.NumSortTrials >= DefaultSortTrials {
		t.Errorf("Expected some trials discarded, got %d of %d", r.NumSortTrials, DefaultSortTrials)
	}
}

func TestEvaluate_NilSideIsStable(t *testing.T) {
	catalog := registerPairMetric(t)
	defs, err := ExpandGroups([]MetricGroup{{Metrics: []string{"top pair"}}}, catalog)
	if err != nil {
		t.Fatalf("ExpandGroups failed: %v", err)
	}

	// Pessimistic leads with 0,1 which is undefined.
	results, err := newTestEvaluator(t, catalog).Evaluate(context.Background(),
		[]float64{0.5, 0.5, 0.5}, []float64{0, 1, 1}, defs)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	r := results[0]
	if r.WorstValue != nil || r.BestValue == nil {
		t.Fatalf("Expected nil worst and non-nil best, got %+v", r)
	}
	if r.NumSortTrials != 0 || r.StochasticValue != nil {
		t.Errorf("Nil side must count as stable, got %+v", r)
	}
}

func TestEvaluate_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEvaluator(t, nil).Evaluate(ctx,
		[]float64{0.9, 0.8, 0.8, 0.8, 0.1}, []float64{1, 1, 0, 1, 0},
		[]MetricDefinition{definition(t, "precision@", &Thresholds{TopN: []int{3}})})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

// Worst never beats best in the metric's own direction.
func TestEvaluate_WorstBracketsBest(t *testing.T) {
	catalog := metric.NewCatalog()
	groups := []MetricGroup{{
		Metrics:    []string{"precision@", "recall@", "f1", "accuracy", "true positives@", "false positives@", "false negatives@", "fpr@"},
		Thresholds: &Thresholds{Percentiles: []float64{10, 25, 50}, TopN: []int{1, 5, 17}},
	}}
	defs, err := ExpandGroups(groups, catalog)
	if err != nil {
		t.Fatalf("ExpandGroups failed: %v", err)
	}

	r := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		n := 5 + r.Intn(60)
		scores := make([]float64, n)
		labels := make([]float64, n)
		// Stochastic trials also shuffle missing labels across the cutoff,
		// so the trial mean is only bracketed without them.
		withMissing := round%2 == 0
		for i := range scores {
			scores[i] = float64(r.Intn(5)) / 4
			switch r.Intn(5) {
			case 0:
				if withMissing {
					labels[i] = math.NaN()
				}
			case 1, 2:
				labels[i] = 1
			}
		}

		results, err := newTestEvaluator(t, catalog).Evaluate(context.Background(), scores, labels, defs)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		for _, res := range results {
			if res.WorstValue == nil || res.BestValue == nil {
				continue
			}
			desc, _ := catalog.Lookup(res.Metric)
			w, b := *res.WorstValue, *res.BestValue
			if desc.Direction == metric.HigherIsBetter && w > b+1e-12 {
				t.Errorf("round %d %s %s: worst %v > best %v", round, res.Metric, res.Parameter, w, b)
			}
			if desc.Direction == metric.LowerIsBetter && w < b-1e-12 {
				t.Errorf("round %d %s %s: worst %v < best %v", round, res.Metric, res.Parameter, w, b)
			}
			if !withMissing && res.NumSortTrials > 0 && res.StochasticValue != nil {
				lo, hi := math.Min(w, b), math.Max(w, b)
				if *res.StochasticValue < lo-1e-9 || *res.StochasticValue > hi+1e-9 {
					t.Errorf("round %d %s %s: stochastic %v outside [%v, %v]", round, res.Metric, res.Parameter, *res.StochasticValue, lo, hi)
				}
			}
		}
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := meanStd(nil)
	if mean != nil || std != nil {
		t.Error("Expected nil mean and std for no values")
	}

	mean, std = meanStd([]float64{0.5})
	if mean == nil || *mean != 0.5 || std != nil {
		t.Errorf("single value: mean=%v std=%v", mean, std)
	}

	mean, std = meanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if *mean != 5 {
		t.Errorf("mean = %v, want 5", *mean)
	}
	if math.Abs(*std-math.Sqrt(32.0/7)) > 1e-12 {
		t.Errorf("std = %v, want %v", *std, math.Sqrt(32.0/7))
	}
}

func TestConverged(t *testing.T) {
	v := func(f float64) *float64 { return &f }
	tests := []struct {
		name        string
		worst, best *float64
		want        bool
	}{
		{"nil worst", nil, v(1), true},
		{"nil best", v(1), nil, true},
		{"equal zero", v(0), v(0), true},
		{"within 1%", v(0.995), v(1), true},
		{"outside 1%", v(0.98), v(1), false},
		{"negative", v(-2), v(-1.99), true},
		// |-2 - -1.98| rounds to just above 0.02 in float64.
		{"negative boundary", v(-2), v(-1.98), false},
	}
	for _, tt := range tests {
		if got := converged(tt.worst, tt.best, DefaultRelativeTolerance); got != tt.want {
			t.Errorf("%s: converged = %v, want %v", tt.name, got, tt.want)
		}
	}

	if !converged(v(0.25), v(0.25), 0) {
		t.Error("zero tolerance: equal values should converge")
	}
	if converged(v(0.25), v(0.2500001), 0) {
		t.Error("zero tolerance: distinct values should not converge")
	}
}
