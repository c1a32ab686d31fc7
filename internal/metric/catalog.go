// Package metric holds the scoring functions used to evaluate ranked
// predictions and the catalog that maps metric names to them.
package metric

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUndefined marks a metric that has no value for the given input,
	// e.g. ROC AUC when every label is the same. Callers record it as NULL.
	ErrUndefined = errors.New("metric undefined for input")

	// ErrUnknownMetric is returned when a configured metric is not in the catalog.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrInvalidDescriptor is returned when a custom metric is registered
	// without a function or without a valid direction of improvement.
	ErrInvalidDescriptor = errors.New("invalid metric descriptor")

	// ErrMissingParameter is returned when a metric needs a parameter the
	// definition did not supply.
	ErrMissingParameter = errors.New("missing metric parameter")
)

// Func scores one ordering.
//
// scores are the prediction scores of the whole ordering, missing labels
// included. predicted holds the binary classes (1 above threshold, 0 below)
// and labels the ground truth, both with missing labels dropped, so scores is
// longer than labels whenever a label is missing. params carries the extra
// per-definition parameters.
type Func func(scores []float64, predicted []int8, labels []float64, params Parameters) (float64, error)

// Direction tells downstream consumers whether a larger value is better.
type Direction int

const (
	// DirectionUnset is the zero value and never valid for registration.
	DirectionUnset Direction = iota
	HigherIsBetter
	LowerIsBetter
)

func (d Direction) String() string {
	switch d {
	case HigherIsBetter:
		return "higher_is_better"
	case LowerIsBetter:
		return "lower_is_better"
	default:
		return "unset"
	}
}

// Valid reports whether d is one of the two real directions.
func (d Direction) Valid() bool {
	return d == HigherIsBetter || d == LowerIsBetter
}

// Descriptor is a registered metric: its scoring function plus the
// direction-of-improvement flag.
type Descriptor struct {
	Func      Func
	Direction Direction
	// Requires names the parameters every combination must supply.
	Requires []string
}

// CheckParameters reports the first required parameter missing from params.
func (d Descriptor) CheckParameters(params Parameters) error {
	for _, key := range d.Requires {
		if _, ok := params.Get(key); !ok {
			return fmt.Errorf("%w: %s", ErrMissingParameter, key)
		}
	}
	return nil
}

// Catalog maps metric names to descriptors. Each evaluator owns its catalog,
// so evaluators with different custom metrics never see each other's entries.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
}

// NewCatalog creates a catalog holding only the built-in metrics.
func NewCatalog() *Catalog {
	c := &Catalog{entries: make(map[string]Descriptor, len(builtins))}
	for name, d := range builtins {
		c.entries[name] = d
	}
	return c
}

// NewCatalogWith creates a catalog with the built-ins plus the given custom
// metrics. The first invalid descriptor aborts construction.
func NewCatalogWith(custom map[string]Descriptor) (*Catalog, error) {
	c := NewCatalog()

	names := make([]string, 0, len(custom))
	for name := range custom {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := c.Register(name, custom[name]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds or replaces a metric. It fails immediately when the
// descriptor has no function or no valid direction.
func (c *Catalog) Register(name string, d Descriptor) error {
	if name == "" {
		return fmt.Errorf("%w: empty metric name", ErrInvalidDescriptor)
	}
	if d.Func == nil {
		return fmt.Errorf("%w: custom metric %q has no scoring function", ErrInvalidDescriptor, name)
	}
	if !d.Direction.Valid() {
		return fmt.Errorf("%w: custom metric %q must declare higher_is_better or lower_is_better", ErrInvalidDescriptor, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = d
	return nil
}

// Lookup returns the descriptor registered under name.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[name]
	return d, ok
}

// Names returns every registered metric name, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
