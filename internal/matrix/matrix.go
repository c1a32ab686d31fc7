// Package matrix exposes the labeled, scored rows an evaluation runs over.
package matrix

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Matrix types select which metric groups apply and which table results go to.
const (
	TypeTest  = "test"
	TypeTrain = "train"
)

// EntityDate identifies one scored row.
type EntityDate struct {
	EntityID int64
	AsOfDate time.Time
}

// Metadata describes a matrix. It is read from the YAML sidecar of a
// matrix file.
type Metadata struct {
	UUID              string `yaml:"matrix_uuid" json:"matrix_uuid" validate:"required,uuid"`
	MatrixType        string `yaml:"matrix_type" json:"matrix_type" validate:"required,oneof=test train"`
	AsOfDateFrequency string `yaml:"as_of_date_frequency" json:"as_of_date_frequency" validate:"required"`
	LabelName         string `yaml:"label_name,omitempty" json:"label_name,omitempty"`
}

// Store is the read side of a prediction matrix: labels aligned by row with
// the entity-date keys, plus the metadata that scopes an evaluation.
type Store interface {
	Keys() []EntityDate
	// Labels are aligned with Keys; NaN marks a missing label.
	Labels() []float64
	// AsOfDates returns the distinct dates in ascending order.
	AsOfDates() []time.Time
	Metadata() Metadata
	IsTest() bool
	UUID() string
}

// InMemory is a Store over already-loaded rows.
type InMemory struct {
	meta   Metadata
	keys   []EntityDate
	labels []float64
	scores []float64
	dates  []time.Time
}

// NewInMemory builds a store. scores may be nil when predictions come from
// elsewhere; otherwise it must align with keys.
func NewInMemory(meta Metadata, keys []EntityDate, labels, scores []float64) (*InMemory, error) {
	if len(keys) != len(labels) {
		return nil, fmt.Errorf("matrix has %d keys but %d labels", len(keys), len(labels))
	}
	if scores != nil && len(scores) != len(keys) {
		return nil, fmt.Errorf("matrix has %d keys but %d scores", len(keys), len(scores))
	}
	if _, err := uuid.Parse(meta.UUID); err != nil {
		return nil, fmt.Errorf("invalid matrix uuid %q: %w", meta.UUID, err)
	}
	if meta.MatrixType != TypeTest && meta.MatrixType != TypeTrain {
		return nil, fmt.Errorf("invalid matrix type %q", meta.MatrixType)
	}

	return &InMemory{
		meta:   meta,
		keys:   keys,
		labels: labels,
		scores: scores,
		dates:  distinctDates(keys),
	}, nil
}

func distinctDates(keys []EntityDate) []time.Time {
	seen := make(map[time.Time]struct{})
	var dates []time.Time
	for _, k := range keys {
		d := k.AsOfDate.UTC()
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func (m *InMemory) Keys() []EntityDate     { return m.keys }
func (m *InMemory) Labels() []float64      { return m.labels }
func (m *InMemory) AsOfDates() []time.Time { return m.dates }
func (m *InMemory) Metadata() Metadata     { return m.meta }
func (m *InMemory) IsTest() bool           { return m.meta.MatrixType == TypeTest }
func (m *InMemory) UUID() string           { return m.meta.UUID }

// Scores returns the prediction scores stored with the matrix, or nil.
func (m *InMemory) Scores() []float64 { return m.scores }

// LabeledCount returns the number of rows with a label.
func (m *InMemory) LabeledCount() int {
	n := 0
	for _, l := range m.labels {
		if !math.IsNaN(l) {
			n++
		}
	}
	return n
}
