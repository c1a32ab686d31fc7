package eval

import (
	"errors"
	"fmt"
	"math"

	"github.com/fractal-lba/rankeval/internal/metric"
)

// labeledView is one ordering binarized at one threshold with missing labels
// dropped from predictions and labels together.
type labeledView struct {
	predicted []int8
	labels    []float64
	counts    Counts
}

func newLabeledView(scores, labels []float64, threshold Threshold) labeledView {
	predicted := Binarize(len(scores), threshold)

	v := labeledView{
		predicted: make([]int8, 0, len(labels)),
		labels:    make([]float64, 0, len(labels)),
	}
	for i, label := range labels {
		if math.IsNaN(label) {
			continue
		}
		v.predicted = append(v.predicted, predicted[i])
		v.labels = append(v.labels, label)

		v.counts.LabeledExamples++
		if predicted[i] == 1 {
			v.counts.LabeledAboveThreshold++
		}
		if label != 0 {
			v.counts.PositiveLabels++
		}
	}
	return v
}

// ordering is one sorted view of the predictions with its binarizations
// cached per threshold.
type ordering struct {
	mode   TieBreak
	scores []float64
	labels []float64
	views  map[Threshold]labeledView
}

func newOrdering(mode TieBreak, scores, labels []float64) *ordering {
	return &ordering{mode: mode, scores: scores, labels: labels, views: make(map[Threshold]labeledView)}
}

func (o *ordering) view(threshold Threshold) labeledView {
	v, ok := o.views[threshold]
	if !ok {
		v = newLabeledView(o.scores, o.labels, threshold)
		o.views[threshold] = v
	}
	return v
}

// outcome is the value of one definition under one ordering.
type outcome struct {
	value  *float64
	counts Counts
	// reason is set when value is nil.
	reason string
}

// compute scores def under o. Empty input and ErrUndefined yield a nil value
// with a reason; any other metric failure is returned.
func (e *Evaluator) compute(o *ordering, def MetricDefinition) (outcome, error) {
	desc, ok := e.catalog.Lookup(def.Metric)
	if !ok {
		return outcome{}, fmt.Errorf("%w: %q", metric.ErrUnknownMetric, def.Metric)
	}

	v := o.view(def.Threshold())
	out := outcome{counts: v.counts}
	if len(o.scores) == 0 {
		out.reason = "no predictions"
		return out, nil
	}

	// Scores stay unfiltered; only classes and labels drop missing labels.
	value, err := desc.Func(o.scores, v.predicted, v.labels, def.Parameters)
	switch {
	case errors.Is(err, metric.ErrUndefined):
		out.reason = err.Error()
		return out, nil
	case err != nil:
		return outcome{}, fmt.Errorf("%s (%s): %w", def.Metric, def.ParameterString, err)
	case math.IsNaN(value) || math.IsInf(value, 0):
		out.reason = fmt.Sprintf("non-finite value %v", value)
		return out, nil
	}
	out.value = floatPtr(value)
	return out, nil
}

// computeAll scores every definition under o, logging each NULL value.
func (e *Evaluator) computeAll(o *ordering, defs []MetricDefinition) ([]outcome, error) {
	outcomes := make([]outcome, len(defs))
	for i, def := range defs {
		out, err := e.compute(o, def)
		if err != nil {
			return nil, err
		}
		if out.value == nil {
			e.logger.Warnw("Metric undefined, recording NULL",
				"metric", def.Metric,
				"parameter", def.ParameterString,
				"ordering", o.mode.String(),
				"reason", out.reason,
			)
		}
		outcomes[i] = out
	}
	return outcomes, nil
}
