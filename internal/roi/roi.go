// Package roi crops the bubble regions for every question out of the
// aligned sheet.
package roi

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"omr-scanner/internal/template"
	"omr-scanner/pkg/geometry"
)

// ErrNoRegions indicates extraction failed for every question.
var ErrNoRegions = errors.New("no bubble regions could be extracted")

// Params controls region extraction.
type Params struct {
	// Padding extends the crop beyond the bubble radius on every side.
	Padding int

	// FlatStdDev flags a region as low confidence when its gray levels
	// vary less than this; a real bubble always shows its printed
	// outline.
	FlatStdDev float64
}

// DefaultParams returns the standard extraction settings.
func DefaultParams() Params {
	return Params{
		Padding:    10,
		FlatStdDev: 2.0,
	}
}

// Region is one cropped bubble.
type Region struct {
	Option string
	// Image is the square grayscale crop. Nil Mats never occur; a
	// failed crop is reported through Missing instead.
	Image gocv.Mat
	// Mask selects the bubble disc inside the crop.
	Mask gocv.Mat
	// Center is the bubble center within the crop.
	Center geometry.Point2D
	// Radius is the bubble radius in pixels.
	Radius int
	// LowConfidence marks a crop whose pixels are implausible (tonally
	// flat or heavily clipped by the sheet edge).
	LowConfidence bool
	// Missing marks an option whose crop collapsed to zero area.
	Missing bool
}

// Question groups the extracted regions of one question, options sorted
// by label.
type Question struct {
	QuestionID int
	Regions    []Region
	// Failed is set when no option of this question produced a usable
	// region.
	Failed bool
}

// Close releases the Mats held by the question's regions.
func (q *Question) Close() {
	for i := range q.Regions {
		if !q.Regions[i].Missing {
			q.Regions[i].Image.Close()
			q.Regions[i].Mask.Close()
		}
	}
}

// Extract crops every bubble of every template question from the aligned
// sheet, applying the alignment transform to each template position.
// Questions come back in template order. ErrNoRegions is returned only
// when every single question failed.
func Extract(img gocv.Mat, tpl *template.Template, align geometry.AffineTransform, p Params) ([]Question, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty sheet image", ErrNoRegions)
	}

	questions := make([]Question, 0, len(tpl.Questions))
	usable := 0
	for _, tq := range tpl.Questions {
		q := Question{QuestionID: tq.QuestionID}
		for _, label := range sortedLabels(tq.Options) {
			center := align.Apply(tq.Options[label].ToFloat())
			q.Regions = append(q.Regions, extractOne(img, label, center, tpl.Bubble.Radius, p))
		}
		q.Failed = true
		for _, r := range q.Regions {
			if !r.Missing {
				q.Failed = false
				usable++
				break
			}
		}
		questions = append(questions, q)
	}

	if usable == 0 {
		for i := range questions {
			questions[i].Close()
		}
		return nil, fmt.Errorf("%w: all %d questions failed", ErrNoRegions, len(questions))
	}
	return questions, nil
}

func extractOne(img gocv.Mat, label string, center geometry.Point2D, radius int, p Params) Region {
	half := radius + p.Padding
	x0 := int(math.Round(center.X)) - half
	y0 := int(math.Round(center.Y)) - half
	x1 := x0 + 2*half
	y1 := y0 + 2*half

	cx0, cy0 := clampInt(x0, 0, img.Cols()), clampInt(y0, 0, img.Rows())
	cx1, cy1 := clampInt(x1, 0, img.Cols()), clampInt(y1, 0, img.Rows())
	if cx1-cx0 < radius || cy1-cy0 < radius {
		return Region{Option: label, Missing: true, LowConfidence: true}
	}

	view := img.Region(image.Rect(cx0, cy0, cx1, cy1))
	crop := view.Clone()
	view.Close()

	// Bubble center within the crop; differs from the crop center when
	// the crop was clamped at a sheet edge.
	local := geometry.Point2D{X: center.X - float64(cx0), Y: center.Y - float64(cy0)}
	mask := gocv.Zeros(crop.Rows(), crop.Cols(), gocv.MatTypeCV8UC1)
	gocv.Circle(&mask, image.Pt(int(math.Round(local.X)), int(math.Round(local.Y))), radius,
		color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	r := Region{
		Option: label,
		Image:  crop,
		Mask:   mask,
		Center: local,
		Radius: radius,
	}
	clipped := cx0 != x0 || cy0 != y0 || cx1 != x1 || cy1 != y1
	if clipped || flatRegion(crop, p.FlatStdDev) {
		r.LowConfidence = true
	}
	return r
}

// flatRegion reports whether the crop's gray levels are too uniform to
// contain a printed bubble.
func flatRegion(crop gocv.Mat, floor float64) bool {
	data := crop.ToBytes()
	if len(data) == 0 {
		return true
	}
	var sum float64
	for _, b := range data {
		sum += float64(b)
	}
	mean := sum / float64(len(data))
	var variance float64
	for _, b := range data {
		d := float64(b) - mean
		variance += d * d
	}
	return math.Sqrt(variance/float64(len(data))) < floor
}

func sortedLabels(options map[string]geometry.PointInt) []string {
	labels := make([]string, 0, len(options))
	for label := range options {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
