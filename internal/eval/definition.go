package eval

import (
	"fmt"
	"strings"

	"github.com/fractal-lba/rankeval/internal/metric"
)

// ThresholdUnit says how a threshold value is interpreted.
type ThresholdUnit string

const (
	// Percentile cuts at a percentage of the ranked list.
	Percentile ThresholdUnit = "percentile"
	// TopN cuts at an absolute rank.
	TopN ThresholdUnit = "top_n"
)

// Threshold is a cutoff rule for binarizing a ranking.
type Threshold struct {
	Unit  ThresholdUnit
	Value float64
}

// allPredictions is used for groups that declare no thresholds.
var allPredictions = Threshold{Unit: Percentile, Value: 100}

// Thresholds lists the cutoffs requested by a metric group.
type Thresholds struct {
	Percentiles []float64 `yaml:"percentiles,omitempty" json:"percentiles,omitempty"`
	TopN        []int     `yaml:"top_n,omitempty" json:"top_n,omitempty"`
}

// MetricGroup is one entry of the metric configuration.
type MetricGroup struct {
	Metrics    []string            `yaml:"metrics" json:"metrics" validate:"required,min=1,dive,required"`
	Thresholds *Thresholds         `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	Parameters []metric.Parameters `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Validate checks threshold ranges: percentiles in (0, 100], top_n > 0.
func (g MetricGroup) Validate() error {
	if len(g.Metrics) == 0 {
		return fmt.Errorf("metric group has no metrics")
	}
	if g.Thresholds == nil {
		return nil
	}
	for _, p := range g.Thresholds.Percentiles {
		if p <= 0 || p > 100 {
			return fmt.Errorf("percentile threshold %v outside (0, 100]", p)
		}
	}
	for _, n := range g.Thresholds.TopN {
		if n <= 0 {
			return fmt.Errorf("top_n threshold %d must be positive", n)
		}
	}
	return nil
}

// Key identifies a metric definition, or a stored evaluation, within a scope.
type Key struct {
	Metric    string
	Parameter string
}

// MetricDefinition is a single metric bound to one threshold and one
// parameter combination. Definitions are derived per run and never mutated.
type MetricDefinition struct {
	Metric          string
	ThresholdUnit   ThresholdUnit
	ThresholdValue  float64
	Parameters      metric.Parameters
	ParameterString string
}

// Threshold returns the definition's cutoff rule.
func (d MetricDefinition) Threshold() Threshold {
	return Threshold{Unit: d.ThresholdUnit, Value: d.ThresholdValue}
}

// Key returns the (metric, parameter string) pair.
func (d MetricDefinition) Key() Key {
	return Key{Metric: d.Metric, Parameter: d.ParameterString}
}

// ExpandGroups flattens metric groups into concrete definitions.
//
// Every metric name must be present in the catalog; the first unknown name
// fails the whole expansion.
func ExpandGroups(groups []MetricGroup, catalog *metric.Catalog) ([]MetricDefinition, error) {
	var defs []MetricDefinition
	for _, g := range groups {
		expanded, err := expandGroup(g, catalog)
		if err != nil {
			return nil, err
		}
		defs = append(defs, expanded...)
	}
	return defs, nil
}

func expandGroup(g MetricGroup, catalog *metric.Catalog) ([]MetricDefinition, error) {
	params := g.Parameters
	if len(params) == 0 {
		params = []metric.Parameters{{}}
	}

	if g.Thresholds == nil {
		return expandThreshold(g.Metrics, params, allPredictions, false, catalog)
	}

	var defs []MetricDefinition
	for _, pct := range g.Thresholds.Percentiles {
		out, err := expandThreshold(g.Metrics, params, Threshold{Unit: Percentile, Value: pct}, true, catalog)
		if err != nil {
			return nil, err
		}
		defs = append(defs, out...)
	}
	for _, n := range g.Thresholds.TopN {
		out, err := expandThreshold(g.Metrics, params, Threshold{Unit: TopN, Value: float64(n)}, true, catalog)
		if err != nil {
			return nil, err
		}
		defs = append(defs, out...)
	}
	return defs, nil
}

func expandThreshold(
	metrics []string,
	params []metric.Parameters,
	threshold Threshold,
	userSpecified bool,
	catalog *metric.Catalog,
) ([]MetricDefinition, error) {
	defs := make([]MetricDefinition, 0, len(metrics)*len(params))
	for _, name := range metrics {
		desc, ok := catalog.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", metric.ErrUnknownMetric, name)
		}
		for _, combo := range params {
			if err := desc.CheckParameters(combo); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			defs = append(defs, MetricDefinition{
				Metric:          name,
				ThresholdUnit:   threshold.Unit,
				ThresholdValue:  threshold.Value,
				Parameters:      combo,
				ParameterString: ParameterString(threshold, combo, userSpecified),
			})
		}
	}
	return defs, nil
}

// ParameterString encodes parameters and, when the user asked for one, the
// threshold, e.g. "0.75_beta/5_pct" or "10_abs".
func ParameterString(threshold Threshold, params metric.Parameters, userSpecified bool) string {
	tokens := make([]string, 0, len(params)+1)
	for _, kv := range params {
		tokens = append(tokens, metric.FormatValue(kv.Value)+"_"+kv.Key)
	}
	if userSpecified {
		unit := "abs"
		if threshold.Unit == Percentile {
			unit = "pct"
		}
		tokens = append(tokens, metric.FormatValue(threshold.Value)+"_"+unit)
	}
	return strings.Join(tokens, "/")
}
