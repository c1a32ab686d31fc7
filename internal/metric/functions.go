package metric

import (
	"fmt"
	"sort"
)

var builtins = map[string]Descriptor{
	"precision@":              {Func: Precision, Direction: HigherIsBetter},
	"recall@":                 {Func: Recall, Direction: HigherIsBetter},
	"fbeta@":                  {Func: FBeta, Direction: HigherIsBetter, Requires: []string{"beta"}},
	"f1":                      {Func: F1, Direction: HigherIsBetter},
	"accuracy":                {Func: Accuracy, Direction: HigherIsBetter},
	"roc_auc":                 {Func: ROCAUC, Direction: HigherIsBetter},
	"average precision score": {Func: AveragePrecision, Direction: HigherIsBetter},
	"true positives@":         {Func: TruePositives, Direction: HigherIsBetter},
	"true negatives@":         {Func: TrueNegatives, Direction: HigherIsBetter},
	"false positives@":        {Func: FalsePositives, Direction: LowerIsBetter},
	"false negatives@":        {Func: FalseNegatives, Direction: LowerIsBetter},
	"fpr@":                    {Func: FPR, Direction: LowerIsBetter},
}

// confusion holds the four cells of a binary confusion matrix.
type confusion struct {
	tp, tn, fp, fn float64
}

func confusionOf(predicted []int8, labels []float64) confusion {
	var c confusion
	for i, label := range labels {
		positive := label != 0
		switch {
		case predicted[i] == 1 && positive:
			c.tp++
		case predicted[i] == 1:
			c.fp++
		case positive:
			c.fn++
		default:
			c.tn++
		}
	}
	return c
}

func checkAligned(predicted []int8, labels []float64) error {
	if len(predicted) != len(labels) {
		return fmt.Errorf("predicted classes and labels length mismatch: %d != %d", len(predicted), len(labels))
	}
	return nil
}

// checkScored rejects score rankings that cannot be paired with labels, which
// happens when missing labels were dropped from labels only.
func checkScored(scores, labels []float64) error {
	if len(scores) != len(labels) {
		return fmt.Errorf("%d scores for %d labels: %w", len(scores), len(labels), ErrUndefined)
	}
	return nil
}

// Precision = TP / (TP + FP), 0 when nothing is predicted positive.
func Precision(_ []float64, predicted []int8, labels []float64, _ Parameters) (float64, error) {
	if err := checkAligned(predicted, labels); err != nil {
		return 0, err
	}
	c := confusionOf(predicted, labels)
	if c.tp+c.fp == 0 {
		return 0, nil
	}
	return c.tp / (c.tp + c.fp), nil
}

// Recall = TP / (TP + FN), 0 when there are no positive labels.
func Recall(_ []float64, predicted []int8, labels []float64, _ Parameters) (float64, error) {
	if err := checkAligned(predicted, labels); err != nil {
		return 0, err
	}
	c := confusionOf(predicted, labels)
	if c.tp+c.fn == 0 {
		return 0, nil
	}
	return c.tp / (c.tp + c.fn), nil
}

// FBeta is the weighted harmonic mean of precision and recall. It requires
// a "beta" parameter.
func FBeta(scores []float64, predicted []int8, labels []float64, params Parameters) (float64, error) {
	beta, err := params.Float("beta")
	if err != nil {
		return 0, fmt.Errorf("fbeta@: %w", err)
	}
	return fbeta(predicted, labels, beta)
}

// F1 is FBeta with beta = 1.
func F1(_ []float64, predicted []int8, labels []float64, _ Parameters) (float64, error) {
	return fbeta(predicted, labels, 1)
}

func fbeta(predicted []int8, labels []float64, beta float64) (float64, error) {
	if err := checkAligned(predicted, labels); err != nil {
		return 0, err
	}
	c := confusionOf(predicted, labels)

	precision, recall := 0.0, 0.0
	if c.tp+c.fp > 0 {
		precision = c.tp / (c.tp + c.fp)
	}
	if c.tp+c.fn > 0 {
		recall = c.tp / (c.tp + c.fn)
	}

	b2 := beta * beta
	denom := b2*precision + recall
	if denom == 0 {
		return 0, nil
	}
	return (1 + b2) * precision * recall / denom, nil
}

// Accuracy = (TP + TN) / N.
func Accuracy(_ []float64, predicted []int8, labels []float64, _ Parameters) (float64, error) {
	if err := checkAligned(predicted, labels); err != nil {
		return 0, err
	}
	if len(labels) == 0 {
		return 0, fmt.Errorf("accuracy: no labeled examples: %w", ErrUndefined)
	}
	c := confusionOf(predicted, labels)
	return (c.tp + c.tn) / float64(len(labels)), nil
}

// TruePositives counts labeled positives predicted positive.
func TruePositives(_ []float64, predicted []int8, labels []float64, _ Parameters) (float64, error) {
	if err := checkAligned(predicted, labels); err != nil {
		return 0, err
	}
	return confusionOf(predicted, labels).tp, nil
}

// TrueNegatives counts labeled negatives predicted negative.
func TrueNegatives(_ []float64, predicted []int8, labels []float64, _ Parameters) (float64, error) {
	if err := checkAligned(predicted, labels); err != nil {
		return 0, err
	}
	return confusionOf(predicted, labels).tn, nil
}

// FalsePositives counts labeled negatives predicted positive.
func FalsePositives(_ []float64, predicted []int8, labels []float64, _ Parameters) (float64, error) {
	if err := checkAligned(predicted, labels); err != nil {
		return 0, err
	}
	return confusionOf(predicted, labels).fp, nil
}

// FalseNegatives counts labeled positives predicted negative.
func FalseNegatives(_ []float64, predicted []int8, labels []float64, _ Parameters) (float64, error) {
	if err := checkAligned(predicted, labels); err != nil {
		return 0, err
	}
	return confusionOf(predicted, labels).fn, nil
}

// FPR = FP / (FP + TN). Undefined without labeled negatives.
func FPR(_ []float64, predicted []int8, labels []float64, _ Parameters) (float64, error) {
	if err := checkAligned(predicted, labels); err != nil {
		return 0, err
	}
	c := confusionOf(predicted, labels)
	if c.fp+c.tn == 0 {
		return 0, fmt.Errorf("fpr@: no negative labels: %w", ErrUndefined)
	}
	return c.fp / (c.fp + c.tn), nil
}

// ROCAUC is the area under the ROC curve computed from scores, not from the
// thresholded classes. Tied scores share their average rank. Undefined when
// any label is missing.
func ROCAUC(scores []float64, _ []int8, labels []float64, _ Parameters) (float64, error) {
	if err := checkScored(scores, labels); err != nil {
		return 0, err
	}

	var pos, neg float64
	for _, label := range labels {
		if label != 0 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0, fmt.Errorf("roc_auc: only one class present in labels: %w", ErrUndefined)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})

	// Mann-Whitney U over ascending ranks, ties averaged.
	rankSum := 0.0
	for i := 0; i < len(order); {
		j := i
		for j+1 < len(order) && scores[order[j+1]] == scores[order[i]] {
			j++
		}
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if labels[order[k]] != 0 {
				rankSum += avgRank
			}
		}
		i = j + 1
	}

	return (rankSum - pos*(pos+1)/2) / (pos * neg), nil
}

// AveragePrecision summarises the precision-recall curve as the
// recall-weighted mean of precision at each distinct score threshold.
// Undefined when any label is missing.
func AveragePrecision(scores []float64, _ []int8, labels []float64, _ Parameters) (float64, error) {
	if err := checkScored(scores, labels); err != nil {
		return 0, err
	}

	totalPositive := 0.0
	for _, label := range labels {
		if label != 0 {
			totalPositive++
		}
	}
	if totalPositive == 0 {
		return 0, fmt.Errorf("average precision score: no positive labels: %w", ErrUndefined)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	ap := 0.0
	tp, fp := 0.0, 0.0
	prevRecall := 0.0
	for i := 0; i < len(order); {
		j := i
		for {
			if labels[order[j]] != 0 {
				tp++
			} else {
				fp++
			}
			j++
			if j == len(order) || scores[order[j]] != scores[order[i]] {
				break
			}
		}
		recall := tp / totalPositive
		precision := tp / (tp + fp)
		ap += (recall - prevRecall) * precision
		prevRecall = recall
		i = j
	}
	return ap, nil
}
