package omr

import "fmt"

// Notice is a coded message appended to the scan ledger.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ledger accumulates warnings and errors for one scan. It is append-only:
// stages add notices, the orchestrator reads them out at the end. Notices
// keep their emission order.
type Ledger struct {
	warnings []Notice
	errors   []Notice
}

// Warn appends an advisory notice.
func (l *Ledger) Warn(code, format string, args ...any) {
	l.warnings = append(l.warnings, Notice{Code: code, Message: fmt.Sprintf(format, args...)})
}

// Error appends a fatal notice.
func (l *Ledger) Error(code, format string, args ...any) {
	l.errors = append(l.errors, Notice{Code: code, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any fatal notice was recorded.
func (l *Ledger) HasErrors() bool {
	return len(l.errors) > 0
}

// HasWarnings reports whether any advisory notice was recorded.
func (l *Ledger) HasWarnings() bool {
	return len(l.warnings) > 0
}

// Warnings returns the recorded warnings in emission order.
func (l *Ledger) Warnings() []Notice {
	return l.warnings
}

// Errors returns the recorded errors in emission order.
func (l *Ledger) Errors() []Notice {
	return l.errors
}

// ResolveStatus derives the terminal scan status. Any error fails the
// scan. With no errors, the scan needs review when a warning was raised,
// when any detection is ambiguous or errored, or when an answered
// detection sits below the confidence floor.
func ResolveStatus(detections []Detection, ledger *Ledger, confidenceFloor float64) Status {
	if ledger.HasErrors() {
		return StatusFailed
	}
	if ledger.HasWarnings() {
		return StatusNeedsReview
	}
	for _, d := range detections {
		switch d.Status {
		case DetectionAmbiguous, DetectionError:
			return StatusNeedsReview
		case DetectionAnswered:
			if d.Confidence < confidenceFloor {
				return StatusNeedsReview
			}
		}
	}
	return StatusSuccess
}
