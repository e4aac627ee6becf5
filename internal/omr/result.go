// Package omr defines the shared scan request/result model and the
// warning and error vocabulary used across the pipeline.
package omr

// ScanRequest describes one sheet to process.
type ScanRequest struct {
	ScanID        string `json:"scan_id"`
	ImageRef      string `json:"image_ref"`
	TemplateID    string `json:"template_id"`
	StrictQuality bool   `json:"strict_quality,omitempty"`
}

// Status is the terminal status of a scan.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusNeedsReview Status = "needs_review"
	StatusFailed      Status = "failed"
)

// DetectionStatus classifies the outcome for a single question.
type DetectionStatus string

const (
	DetectionAnswered   DetectionStatus = "answered"
	DetectionUnanswered DetectionStatus = "unanswered"
	DetectionAmbiguous  DetectionStatus = "ambiguous"
	DetectionError      DetectionStatus = "error"
)

// Detection is the per-question outcome.
type Detection struct {
	QuestionID int                `json:"question_id"`
	FillRatios map[string]float64 `json:"fill_ratios"`
	Selected   []string           `json:"selected"`
	Status     DetectionStatus    `json:"detection_status"`
	Confidence float64            `json:"confidence"`
}

// QualityMetrics carries the measurements taken during preprocessing
// and perspective correction.
type QualityMetrics struct {
	BlurScore            float64 `json:"blur_score"`
	BrightnessMean       float64 `json:"brightness_mean"`
	BrightnessStd        float64 `json:"brightness_std"`
	SkewAngle            float64 `json:"skew_angle"`
	PerspectiveCorrected bool    `json:"perspective_correction_applied"`
	PerspectiveQuality   float64 `json:"perspective_quality,omitempty"`
}

// DetectionResult is the full outcome of one scan.
type DetectionResult struct {
	ScanID           string         `json:"scan_id"`
	TemplateID       string         `json:"template_id"`
	Status           Status         `json:"status"`
	Detections       []Detection    `json:"detections"`
	Quality          QualityMetrics `json:"quality_metrics"`
	Warnings         []Notice       `json:"warnings"`
	Errors           []Notice       `json:"errors"`
	ProcessingTimeMS float64        `json:"processing_time_ms"`
}
