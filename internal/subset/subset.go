// Package subset restricts a matrix to the entity-dates belonging to a named
// subset, and derives the stable hash that identifies the subset in stored
// evaluation scopes.
package subset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fractal-lba/rankeval/internal/matrix"
	"github.com/fractal-lba/rankeval/pkg/canonical"
)

// ErrInvalidSpec is returned for subset definitions without a usable name.
var ErrInvalidSpec = errors.New("invalid subset spec")

// Spec is a subset definition as written in experiment configuration. It is
// opaque apart from its name; every key contributes to the hash.
type Spec map[string]any

// Name returns the subset name.
func (s Spec) Name() string {
	name, _ := s["name"].(string)
	return name
}

// Hash returns the md5 hex digest of the spec's sorted-key JSON form. It
// matches hashes previously written by other tools for the same spec.
func Hash(spec Spec) (string, error) {
	if spec == nil {
		return "", nil
	}
	return canonical.Hash(map[string]any(spec))
}

// TableName returns the table holding the subset's members.
func TableName(spec Spec) (string, error) {
	name := spec.Name()
	if name == "" {
		return "", fmt.Errorf("%w: missing name", ErrInvalidSpec)
	}
	hash, err := Hash(spec)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("subset_%s_%s", name, hash), nil
}

// LoadSpec reads a subset definition from a YAML file.
func LoadSpec(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subset spec: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse subset spec %s: %w", path, err)
	}
	if spec.Name() == "" {
		return nil, fmt.Errorf("%w: %s has no name", ErrInvalidSpec, path)
	}
	return spec, nil
}

// Member is one row of a subset table.
type Member struct {
	EntityID int64
	AsOfDate time.Time
	Active   bool
}

// Source returns the members of a subset at the given dates.
type Source interface {
	Members(ctx context.Context, asOfDates []time.Time, spec Spec) ([]Member, error)
}

// Restrict keeps the rows whose (entity, date) is a subset member, in matrix
// order. Membership is by presence in the subset table.
func Restrict(keys []matrix.EntityDate, labels, scores []float64, members []Member) ([]float64, []float64, error) {
	if len(keys) != len(labels) || len(keys) != len(scores) {
		return nil, nil, fmt.Errorf("restrict: %d keys, %d labels, %d scores", len(keys), len(labels), len(scores))
	}

	in := make(map[matrix.EntityDate]struct{}, len(members))
	for _, m := range members {
		in[matrix.EntityDate{EntityID: m.EntityID, AsOfDate: m.AsOfDate.UTC()}] = struct{}{}
	}

	outLabels := make([]float64, 0, len(members))
	outScores := make([]float64, 0, len(members))
	for i, k := range keys {
		k.AsOfDate = k.AsOfDate.UTC()
		if _, ok := in[k]; !ok {
			continue
		}
		outLabels = append(outLabels, labels[i])
		outScores = append(outScores, scores[i])
	}
	return outLabels, outScores, nil
}
