// Package eval computes tie-aware metric values for ranked predictions.
//
// Every definition is scored under a pessimistic and an optimistic ordering
// of tied scores. When the two disagree beyond a relative tolerance the
// definition is re-scored over a number of seeded random tie orderings and
// the trial mean is reported as its stochastic value.
package eval

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fractal-lba/rankeval/internal/metric"
	"github.com/fractal-lba/rankeval/internal/metrics"
	"github.com/fractal-lba/rankeval/pkg/otel"
)

const (
	// DefaultSortTrials is the number of stochastic trials for an unstable definition.
	DefaultSortTrials = 30

	// DefaultRelativeTolerance is the worst/best agreement needed to skip trials.
	DefaultRelativeTolerance = 0.01

	maxSeed    = 2_000_000_000
	tracerName = "rankeval/eval"
)

// SeedSource returns a fresh seed for one stochastic trial.
type SeedSource func() int64

// NewSeedSource returns a goroutine-safe source drawing seeds uniformly from
// [0, 2e9) with a generator seeded by seed.
func NewSeedSource(seed int64) SeedSource {
	var mu sync.Mutex
	r := rand.New(rand.NewSource(seed))
	return func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return int64(r.Float64() * maxSeed)
	}
}

// Config tunes the trial stage.
type Config struct {
	SortTrials        int
	RelativeTolerance float64
	// Parallelism bounds concurrent trials; <= 0 means GOMAXPROCS.
	Parallelism int
	// Seeds defaults to a time-seeded NewSeedSource.
	Seeds SeedSource
}

// DefaultConfig returns the standard trial settings.
func DefaultConfig() Config {
	return Config{
		SortTrials:        DefaultSortTrials,
		RelativeTolerance: DefaultRelativeTolerance,
		Parallelism:       runtime.GOMAXPROCS(0),
	}
}

// Evaluator scores metric definitions against one set of predictions.
// It holds no per-call state and may be shared across goroutines.
type Evaluator struct {
	catalog *metric.Catalog
	config  Config
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewEvaluator creates an evaluator bound to catalog. logger and m may be nil.
func NewEvaluator(catalog *metric.Catalog, config Config, logger *zap.SugaredLogger, m *metrics.Metrics) *Evaluator {
	if config.SortTrials <= 0 {
		config.SortTrials = DefaultSortTrials
	}
	if config.RelativeTolerance < 0 {
		config.RelativeTolerance = DefaultRelativeTolerance
	}
	if config.Parallelism <= 0 {
		config.Parallelism = runtime.GOMAXPROCS(0)
	}
	if config.Seeds == nil {
		config.Seeds = NewSeedSource(time.Now().UnixNano())
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Evaluator{catalog: catalog, config: config, logger: logger, metrics: m}
}

// Catalog returns the catalog definitions are resolved against.
func (e *Evaluator) Catalog() *metric.Catalog {
	return e.catalog
}

// Evaluate scores every definition over scores and labels, which must be
// aligned. Missing labels are NaN. Results come back in definition order.
func (e *Evaluator) Evaluate(ctx context.Context, scores, labels []float64, defs []MetricDefinition) ([]Result, error) {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, tracerName, "eval.Evaluate",
		otel.AttrPredictions.Int(len(scores)),
		otel.AttrDefinitions.Int(len(defs)),
	)
	defer span.End()

	results, err := e.evaluate(ctx, scores, labels, defs)
	if err != nil {
		otel.RecordError(span, err, "evaluation failed")
		return nil, err
	}
	e.metrics.ObserveEvaluation(start)
	return results, nil
}

func (e *Evaluator) evaluate(ctx context.Context, scores, labels []float64, defs []MetricDefinition) ([]Result, error) {
	worstScores, worstLabels, err := SortPredictions(scores, labels, Pessimistic, 0)
	if err != nil {
		return nil, err
	}
	bestScores, bestLabels, err := SortPredictions(scores, labels, Optimistic, 0)
	if err != nil {
		return nil, err
	}

	worst, err := e.computeAll(newOrdering(Pessimistic, worstScores, worstLabels), defs)
	if err != nil {
		return nil, err
	}
	best, err := e.computeAll(newOrdering(Optimistic, bestScores, bestLabels), defs)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(defs))
	for i, def := range defs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r := Result{
			Metric:     def.Metric,
			Parameter:  def.ParameterString,
			WorstValue: worst[i].value,
			BestValue:  best[i].value,
			Counts:     worst[i].counts,
		}

		if converged(r.WorstValue, r.BestValue, e.config.RelativeTolerance) {
			r.StochasticValue = r.WorstValue
			r.StandardDeviation = floatPtr(0)
			e.logger.Debugw("Tie orderings agree, skipping trials",
				"metric", def.Metric, "parameter", def.ParameterString)
		} else {
			values, err := e.runTrials(ctx, worstScores, worstLabels, def)
			if err != nil {
				return nil, err
			}
			r.StochasticValue, r.StandardDeviation = meanStd(values)
			r.NumSortTrials = len(values)
			e.metrics.ObserveTrials(len(values))
			e.logger.Debugw("Ran stochastic trials",
				"metric", def.Metric,
				"parameter", def.ParameterString,
				"trials", len(values),
				"worst", *r.WorstValue,
				"best", *r.BestValue,
			)
		}

		e.metrics.ObserveDefinition(def.Metric, r.WorstValue == nil)
		results[i] = r
	}
	return results, nil
}

// runTrials re-scores def over SortTrials random tie orderings of the
// pessimistic ordering and returns the non-nil values in trial order.
func (e *Evaluator) runTrials(ctx context.Context, scores, labels []float64, def MetricDefinition) ([]float64, error) {
	ctx, span := otel.StartSpan(ctx, tracerName, "eval.runTrials",
		otel.DefinitionAttributes(def.Metric, def.ParameterString)...)
	defer span.End()

	seeds := make([]int64, e.config.SortTrials)
	for i := range seeds {
		seeds[i] = e.config.Seeds()
	}

	trials := make([]*float64, len(seeds))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Parallelism)
	for i, seed := range seeds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, l, err := SortPredictions(scores, labels, Stochastic, seed)
			if err != nil {
				return err
			}
			out, err := e.compute(newOrdering(Stochastic, s, l), def)
			if err != nil {
				return fmt.Errorf("trial %d (seed %d): %w", i, seed, err)
			}
			trials[i] = out.value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		otel.RecordError(span, err, "stochastic trial failed")
		return nil, err
	}

	values := make([]float64, 0, len(trials))
	for _, v := range trials {
		if v != nil {
			values = append(values, *v)
		}
	}
	otel.AddEvent(span, "trials.done", attribute.Int("trials.used", len(values)))
	return values, nil
}
