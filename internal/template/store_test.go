package template

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"omr-scanner/pkg/geometry"
)

func validTemplate() *Template {
	return &Template{
		TemplateID:    "quiz-a",
		Name:          "Quiz A",
		CanonicalSize: geometry.Size{Width: 800, Height: 1000},
		RegistrationMarks: []RegistrationMark{
			{ID: "tl", Position: geometry.PointInt{X: 50, Y: 50}, Type: MarkCircle, Size: 12},
			{ID: "tr", Position: geometry.PointInt{X: 750, Y: 50}, Type: MarkCircle, Size: 12},
			{ID: "bl", Position: geometry.PointInt{X: 50, Y: 950}, Type: MarkSquare, Size: 12},
		},
		Bubble: BubbleConfig{Radius: 12, FillThreshold: 0.30, AmbiguousThreshold: 0.65},
		Questions: []Question{
			{QuestionID: 1, Options: map[string]geometry.PointInt{
				"A": {X: 100, Y: 200}, "B": {X: 160, Y: 200},
			}},
			{QuestionID: 2, Options: map[string]geometry.PointInt{
				"A": {X: 100, Y: 260}, "B": {X: 160, Y: 260},
			}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Template)
		wantErr bool
	}{
		{"valid", func(tpl *Template) {}, false},
		{"empty id", func(tpl *Template) { tpl.TemplateID = "" }, true},
		{"zero size", func(tpl *Template) { tpl.CanonicalSize.Width = 0 }, true},
		{"two marks", func(tpl *Template) { tpl.RegistrationMarks = tpl.RegistrationMarks[:2] }, true},
		{"unknown mark type", func(tpl *Template) { tpl.RegistrationMarks[0].Type = "triangle" }, true},
		{"mark out of bounds", func(tpl *Template) { tpl.RegistrationMarks[0].Position.X = 800 }, true},
		{"zero bubble radius", func(tpl *Template) { tpl.Bubble.Radius = 0 }, true},
		{"fill threshold too high", func(tpl *Template) { tpl.Bubble.FillThreshold = 1.0 }, true},
		{"ambiguous below fill", func(tpl *Template) { tpl.Bubble.AmbiguousThreshold = 0.2 }, true},
		{"no questions", func(tpl *Template) { tpl.Questions = nil }, true},
		{"duplicate question id", func(tpl *Template) { tpl.Questions[1].QuestionID = 1 }, true},
		{"single option", func(tpl *Template) {
			tpl.Questions[0].Options = map[string]geometry.PointInt{"A": {X: 100, Y: 200}}
		}, true},
		{"option out of bounds", func(tpl *Template) {
			tpl.Questions[0].Options["A"] = geometry.PointInt{X: 100, Y: 1000}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(tpl)
			err := tpl.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func writeTemplate(t *testing.T, dir, id, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

const quizJSON = `{
	"template_id": "quiz-a",
	"canonical_size": {"width": 800, "height": 1000},
	"registration_marks": [
		{"id": "tl", "position": {"x": 50, "y": 50}, "type": "circle", "size": 12},
		{"id": "tr", "position": {"x": 750, "y": 50}, "type": "circle", "size": 12},
		{"id": "bl", "position": {"x": 50, "y": 950}, "type": "square", "size": 12}
	],
	"bubble_config": {"radius": 12},
	"questions": [
		{"question_id": 1, "options": {"A": {"x": 100, "y": 200}, "B": {"x": 160, "y": 200}}}
	]
}`

func TestStoreLoad(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "quiz-a", quizJSON)
	store := NewStore(dir)

	tpl, err := store.Load("quiz-a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tpl.TemplateID != "quiz-a" || len(tpl.Questions) != 1 {
		t.Errorf("unexpected template: %+v", tpl)
	}
	// Omitted thresholds pick up the defaults.
	if tpl.Bubble.FillThreshold != DefaultFillThreshold {
		t.Errorf("fill threshold = %v, want %v", tpl.Bubble.FillThreshold, DefaultFillThreshold)
	}
	if tpl.Bubble.AmbiguousThreshold != DefaultAmbiguousThreshold {
		t.Errorf("ambiguous threshold = %v, want %v", tpl.Bubble.AmbiguousThreshold, DefaultAmbiguousThreshold)
	}
}

func TestStoreCachesAndResets(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "quiz-a", quizJSON)
	store := NewStore(dir)

	first, err := store.Load("quiz-a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Corrupt the file; the cached copy must keep serving.
	writeTemplate(t, dir, "quiz-a", "{not json")
	second, err := store.Load("quiz-a")
	if err != nil {
		t.Fatalf("cached Load: %v", err)
	}
	if first != second {
		t.Error("cache did not return the shared instance")
	}

	store.Reset()
	if _, err := store.Load("quiz-a"); !errors.Is(err, ErrInvalid) {
		t.Errorf("after Reset, Load error = %v, want ErrInvalid", err)
	}
}

func TestStoreErrors(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "broken", `{"template_id": "broken"}`)
	writeTemplate(t, dir, "renamed", quizJSON)
	store := NewStore(dir)

	if _, err := store.Load("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing template error = %v, want ErrNotFound", err)
	}
	if _, err := store.Load("broken"); !errors.Is(err, ErrInvalid) {
		t.Errorf("invalid template error = %v, want ErrInvalid", err)
	}
	// File name and declared template_id must agree.
	if _, err := store.Load("renamed"); !errors.Is(err, ErrInvalid) {
		t.Errorf("mismatched id error = %v, want ErrInvalid", err)
	}
}

func TestStoreList(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "b-form", quizJSON)
	writeTemplate(t, dir, "a-form", quizJSON)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStore(dir)

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a-form" || ids[1] != "b-form" {
		t.Errorf("List = %v, want [a-form b-form]", ids)
	}
}
