package fill

import (
	"omr-scanner/internal/omr"
	"omr-scanner/internal/roi"
	"omr-scanner/internal/template"
)

// ScoreQuestions measures every extracted region and applies the
// decision rule, producing one detection per question in template order.
// Questions whose extraction failed outright come back with detection
// status error and no ratios.
func ScoreQuestions(questions []roi.Question, cfg template.BubbleConfig, p Params) []omr.Detection {
	detections := make([]omr.Detection, 0, len(questions))
	for i := range questions {
		q := &questions[i]
		if q.Failed {
			detections = append(detections, omr.Detection{
				QuestionID: q.QuestionID,
				FillRatios: map[string]float64{},
				Selected:   []string{},
				Status:     omr.DetectionError,
			})
			continue
		}

		ratios := make(map[string]float64, len(q.Regions))
		for j := range q.Regions {
			ratios[q.Regions[j].Option] = Measure(&q.Regions[j], p)
		}
		d := Decide(ratios, cfg.FillThreshold, cfg.AmbiguousThreshold)
		detections = append(detections, omr.Detection{
			QuestionID: q.QuestionID,
			FillRatios: ratios,
			Selected:   d.Selected,
			Status:     d.Status,
			Confidence: d.Confidence,
		})
	}
	return detections
}

// CountAmbiguous returns the number of ambiguous detections.
func CountAmbiguous(detections []omr.Detection) int {
	n := 0
	for _, d := range detections {
		if d.Status == omr.DetectionAmbiguous {
			n++
		}
	}
	return n
}
