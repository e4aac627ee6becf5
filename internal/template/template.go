// Package template defines bubble-sheet templates and a cached file store.
//
// A template describes one printed form in its canonical pixel space: where
// the registration marks sit, where every answer bubble sits, and the
// thresholds that govern fill scoring.
package template

import (
	"fmt"

	"omr-scanner/pkg/geometry"
)

// MarkType is the printed shape of a registration mark.
type MarkType string

const (
	MarkCircle MarkType = "circle"
	MarkSquare MarkType = "square"
)

// RegistrationMark is one fiducial printed on the form.
type RegistrationMark struct {
	ID       string            `json:"id"`
	Position geometry.PointInt `json:"position"`
	Type     MarkType          `json:"type"`
	Size     int               `json:"size"`
}

// BubbleConfig holds the geometry and scoring thresholds shared by all
// bubbles on the form.
type BubbleConfig struct {
	Radius             int     `json:"radius"`
	FillThreshold      float64 `json:"fill_threshold"`
	AmbiguousThreshold float64 `json:"ambiguous_threshold"`
}

// Question maps option labels to bubble centers in canonical coordinates.
type Question struct {
	QuestionID int                          `json:"question_id"`
	Options    map[string]geometry.PointInt `json:"options"`
}

// Template is one immutable form definition.
type Template struct {
	TemplateID        string             `json:"template_id"`
	Name              string             `json:"name,omitempty"`
	CanonicalSize     geometry.Size      `json:"canonical_size"`
	RegistrationMarks []RegistrationMark `json:"registration_marks"`
	Bubble            BubbleConfig       `json:"bubble_config"`
	Questions         []Question         `json:"questions"`
}

const (
	DefaultFillThreshold      = 0.30
	DefaultAmbiguousThreshold = 0.65
)

// applyDefaults fills unset thresholds with the standard values.
func (t *Template) applyDefaults() {
	if t.Bubble.FillThreshold == 0 {
		t.Bubble.FillThreshold = DefaultFillThreshold
	}
	if t.Bubble.AmbiguousThreshold == 0 {
		t.Bubble.AmbiguousThreshold = DefaultAmbiguousThreshold
	}
}

// Validate checks the structural invariants of a template.
func (t *Template) Validate() error {
	if t.TemplateID == "" {
		return fmt.Errorf("template_id is empty")
	}
	if t.CanonicalSize.Width <= 0 || t.CanonicalSize.Height <= 0 {
		return fmt.Errorf("canonical_size %dx%d is not positive",
			t.CanonicalSize.Width, t.CanonicalSize.Height)
	}
	if len(t.RegistrationMarks) < 3 {
		return fmt.Errorf("need at least 3 registration marks, have %d", len(t.RegistrationMarks))
	}
	for _, m := range t.RegistrationMarks {
		if m.Type != MarkCircle && m.Type != MarkSquare {
			return fmt.Errorf("mark %q has unknown type %q", m.ID, m.Type)
		}
		if m.Size <= 0 {
			return fmt.Errorf("mark %q has non-positive size %d", m.ID, m.Size)
		}
		if !t.inBounds(m.Position) {
			return fmt.Errorf("mark %q position (%d,%d) outside canonical bounds",
				m.ID, m.Position.X, m.Position.Y)
		}
	}
	if t.Bubble.Radius <= 0 {
		return fmt.Errorf("bubble radius %d is not positive", t.Bubble.Radius)
	}
	if t.Bubble.FillThreshold <= 0 || t.Bubble.FillThreshold >= 1 {
		return fmt.Errorf("fill_threshold %.2f outside (0,1)", t.Bubble.FillThreshold)
	}
	if t.Bubble.AmbiguousThreshold <= t.Bubble.FillThreshold || t.Bubble.AmbiguousThreshold > 1 {
		return fmt.Errorf("ambiguous_threshold %.2f must be in (fill_threshold,1]",
			t.Bubble.AmbiguousThreshold)
	}
	if len(t.Questions) == 0 {
		return fmt.Errorf("template has no questions")
	}
	seen := make(map[int]bool, len(t.Questions))
	for _, q := range t.Questions {
		if seen[q.QuestionID] {
			return fmt.Errorf("duplicate question_id %d", q.QuestionID)
		}
		seen[q.QuestionID] = true
		if len(q.Options) < 2 {
			return fmt.Errorf("question %d has %d options, need at least 2",
				q.QuestionID, len(q.Options))
		}
		for label, pos := range q.Options {
			if !t.inBounds(pos) {
				return fmt.Errorf("question %d option %q at (%d,%d) outside canonical bounds",
					q.QuestionID, label, pos.X, pos.Y)
			}
		}
	}
	return nil
}

func (t *Template) inBounds(p geometry.PointInt) bool {
	return p.X >= 0 && p.X < t.CanonicalSize.Width &&
		p.Y >= 0 && p.Y < t.CanonicalSize.Height
}
