package eval

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// TieBreak selects how predictions with equal scores are ordered.
type TieBreak int

const (
	// Pessimistic puts negative labels ahead of positives within a tie.
	Pessimistic TieBreak = iota
	// Optimistic puts positive labels ahead of negatives within a tie.
	Optimistic
	// Stochastic shuffles each tie group using a seeded source.
	Stochastic
)

func (t TieBreak) String() string {
	switch t {
	case Pessimistic:
		return "worst"
	case Optimistic:
		return "best"
	case Stochastic:
		return "stochastic"
	default:
		return fmt.Sprintf("TieBreak(%d)", int(t))
	}
}

// SortPredictions returns copies of scores and labels ordered by descending
// score, ties resolved by mode. seed is only read in Stochastic mode.
// Missing labels (NaN) come first within a tie in the deterministic modes,
// and NaN scores rank below every number.
func SortPredictions(scores, labels []float64, mode TieBreak, seed int64) ([]float64, []float64, error) {
	if len(scores) != len(labels) {
		return nil, nil, fmt.Errorf("scores and labels length mismatch: %d != %d", len(scores), len(labels))
	}

	var tieKey []float64
	switch mode {
	case Pessimistic, Optimistic:
		tieKey = make([]float64, len(labels))
		for i, label := range labels {
			tieKey[i] = labelRank(label, mode)
		}
	case Stochastic:
		r := rand.New(rand.NewSource(seed))
		tieKey = make([]float64, len(labels))
		for i := range tieKey {
			tieKey[i] = r.Float64()
		}
	default:
		return nil, nil, fmt.Errorf("unknown tie-break mode %d", int(mode))
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := scores[order[a]], scores[order[b]]
		if scoreBefore(sa, sb) {
			return true
		}
		if scoreBefore(sb, sa) {
			return false
		}
		return tieKey[order[a]] < tieKey[order[b]]
	})

	outScores := make([]float64, len(order))
	outLabels := make([]float64, len(order))
	for i, idx := range order {
		outScores[i] = scores[idx]
		outLabels[i] = labels[idx]
	}
	return outScores, outLabels, nil
}

// scoreBefore reports whether a ranks strictly above b. NaN pairs compare
// as a tie so the label key decides among them.
func scoreBefore(a, b float64) bool {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return false
	case aNaN:
		return false
	case bNaN:
		return true
	default:
		return a > b
	}
}

func labelRank(label float64, mode TieBreak) float64 {
	switch {
	case math.IsNaN(label):
		return 0
	case (label != 0) == (mode == Optimistic):
		return 1
	default:
		return 2
	}
}
