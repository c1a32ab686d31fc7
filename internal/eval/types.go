package eval

// Counts are taken after missing labels are dropped. A Result carries the
// counts of the pessimistic ordering.
type Counts struct {
	LabeledExamples       int `json:"num_labeled_examples"`
	LabeledAboveThreshold int `json:"num_labeled_above_threshold"`
	PositiveLabels        int `json:"num_positive_labels"`
}

// Result is the evaluation of one metric definition.
// Nil value fields are stored as NULL.
type Result struct {
	Metric    string `json:"metric"`
	Parameter string `json:"parameter"`

	WorstValue        *float64 `json:"worst_value"`
	BestValue         *float64 `json:"best_value"`
	StochasticValue   *float64 `json:"stochastic_value"`
	StandardDeviation *float64 `json:"stochastic_value_std_dev"`
	NumSortTrials     int      `json:"num_sort_trials"`

	Counts
}

// Key returns the (metric, parameter string) pair of the result.
func (r Result) Key() Key {
	return Key{Metric: r.Metric, Parameter: r.Parameter}
}

func floatPtr(v float64) *float64 { return &v }
