package fill

import (
	"sort"

	"omr-scanner/internal/omr"
)

// Decision is the outcome of the selection rule for one question.
type Decision struct {
	Selected   []string
	Status     omr.DetectionStatus
	Confidence float64
}

// Decide applies the selection rule to per-option fill ratios.
//
// If every ratio is below fillThreshold the question is unanswered. If
// more than one ratio reaches ambiguousThreshold the question is
// ambiguous and all such options are selected. Otherwise the highest
// ratio wins. Confidence is the gap between the top two ratios, clamped
// to [0,1]; ties break toward the lexicographically smaller label so
// equal inputs always produce equal outputs.
func Decide(ratios map[string]float64, fillThreshold, ambiguousThreshold float64) Decision {
	if len(ratios) == 0 {
		return Decision{Selected: []string{}, Status: omr.DetectionUnanswered}
	}

	labels := make([]string, 0, len(ratios))
	for label := range ratios {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	top, second := -1.0, -1.0
	topLabel := ""
	for _, label := range labels {
		r := ratios[label]
		if r > top {
			second = top
			top, topLabel = r, label
		} else if r > second {
			second = r
		}
	}

	confidence := top
	if len(labels) >= 2 {
		confidence = top - second
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	if top < fillThreshold {
		return Decision{Selected: []string{}, Status: omr.DetectionUnanswered, Confidence: confidence}
	}

	var ambiguous []string
	for _, label := range labels {
		if ratios[label] >= ambiguousThreshold {
			ambiguous = append(ambiguous, label)
		}
	}
	if len(ambiguous) > 1 {
		return Decision{Selected: ambiguous, Status: omr.DetectionAmbiguous, Confidence: confidence}
	}

	return Decision{Selected: []string{topLabel}, Status: omr.DetectionAnswered, Confidence: confidence}
}
