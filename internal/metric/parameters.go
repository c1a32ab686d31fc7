package metric

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Param is one named metric parameter, e.g. beta=0.75.
type Param struct {
	Key   string
	Value any
}

// Parameters is an ordered parameter combination. Order is significant: it
// fixes the token order of the definition's parameter string.
type Parameters []Param

// Get returns the value stored under key.
func (p Parameters) Get(key string) (any, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// Float returns the numeric value stored under key.
func (p Parameters) Float(key string) (float64, error) {
	v, ok := p.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingParameter, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("parameter %s: unsupported type %T", key, v)
	}
}

// UnmarshalYAML decodes a mapping while keeping document order.
func (p *Parameters) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: parameters must be a mapping", node.Line)
	}

	out := make(Parameters, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return fmt.Errorf("line %d: parameter key: %w", node.Content[i].Line, err)
		}
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("line %d: parameter %s: %w", node.Content[i+1].Line, key, err)
		}
		out = append(out, Param{Key: key, Value: value})
	}
	*p = out
	return nil
}

// FormatValue renders a parameter value for a parameter string.
// Floats use the shortest decimal form that round-trips.
func FormatValue(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}
