package fill

import (
	"math"
	"reflect"
	"testing"

	"omr-scanner/internal/omr"
)

func TestDecide(t *testing.T) {
	const (
		fillThr = 0.30
		ambThr  = 0.65
	)
	tests := []struct {
		name           string
		ratios         map[string]float64
		wantSelected   []string
		wantStatus     omr.DetectionStatus
		wantConfidence float64
	}{
		{
			name:           "clear single answer",
			ratios:         map[string]float64{"A": 0.85, "B": 0.10, "C": 0.08, "D": 0.12},
			wantSelected:   []string{"A"},
			wantStatus:     omr.DetectionAnswered,
			wantConfidence: 0.73,
		},
		{
			name:           "all empty is unanswered",
			ratios:         map[string]float64{"A": 0.05, "B": 0.08, "C": 0.04, "D": 0.06},
			wantSelected:   []string{},
			wantStatus:     omr.DetectionUnanswered,
			wantConfidence: 0.02,
		},
		{
			name:           "two heavy marks are ambiguous",
			ratios:         map[string]float64{"A": 0.71, "B": 0.68, "C": 0.05, "D": 0.02},
			wantSelected:   []string{"A", "B"},
			wantStatus:     omr.DetectionAmbiguous,
			wantConfidence: 0.03,
		},
		{
			name:           "moderate mark below ambiguous wins alone",
			ratios:         map[string]float64{"A": 0.45, "B": 0.60, "C": 0.10, "D": 0.05},
			wantSelected:   []string{"B"},
			wantStatus:     omr.DetectionAnswered,
			wantConfidence: 0.15,
		},
		{
			name:           "exactly at fill threshold counts",
			ratios:         map[string]float64{"A": 0.30, "B": 0.01},
			wantSelected:   []string{"A"},
			wantStatus:     omr.DetectionAnswered,
			wantConfidence: 0.29,
		},
		{
			name:           "single option at ambiguous threshold is answered",
			ratios:         map[string]float64{"A": 0.65, "B": 0.20},
			wantSelected:   []string{"A"},
			wantStatus:     omr.DetectionAnswered,
			wantConfidence: 0.45,
		},
		{
			name:           "tie breaks to smaller label",
			ratios:         map[string]float64{"B": 0.50, "A": 0.50, "C": 0.10},
			wantSelected:   []string{"A"},
			wantStatus:     omr.DetectionAnswered,
			wantConfidence: 0,
		},
		{
			name:           "three way ambiguous selects all three",
			ratios:         map[string]float64{"A": 0.70, "B": 0.66, "C": 0.90, "D": 0.05},
			wantSelected:   []string{"A", "B", "C"},
			wantStatus:     omr.DetectionAmbiguous,
			wantConfidence: 0.20,
		},
		{
			name:           "empty ratios are unanswered",
			ratios:         map[string]float64{},
			wantSelected:   []string{},
			wantStatus:     omr.DetectionUnanswered,
			wantConfidence: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.ratios, fillThr, ambThr)
			if got.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", got.Status, tt.wantStatus)
			}
			if !reflect.DeepEqual(got.Selected, tt.wantSelected) {
				t.Errorf("selected = %v, want %v", got.Selected, tt.wantSelected)
			}
			if math.Abs(got.Confidence-tt.wantConfidence) > 1e-9 {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	ratios := map[string]float64{"A": 0.71, "B": 0.68, "C": 0.66, "D": 0.05}
	first := Decide(ratios, 0.30, 0.65)
	for i := 0; i < 50; i++ {
		again := Decide(ratios, 0.30, 0.65)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differed: %+v vs %+v", i, first, again)
		}
	}
}

func TestDecideThresholdOverrides(t *testing.T) {
	ratios := map[string]float64{"A": 0.50, "B": 0.45}

	// Tight ambiguous threshold turns a clear answer into a conflict.
	got := Decide(ratios, 0.30, 0.40)
	if got.Status != omr.DetectionAmbiguous {
		t.Errorf("status = %q, want ambiguous", got.Status)
	}

	// High fill threshold empties the question.
	got = Decide(ratios, 0.60, 0.90)
	if got.Status != omr.DetectionUnanswered {
		t.Errorf("status = %q, want unanswered", got.Status)
	}
}
