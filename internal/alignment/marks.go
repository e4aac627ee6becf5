// Package alignment locates printed registration marks on the rectified
// sheet and fits the affine correction that maps template coordinates
// onto the sheet as actually printed and captured.
package alignment

import (
	"image"

	"gocv.io/x/gocv"

	"omr-scanner/internal/omr"
	"omr-scanner/internal/template"
	"omr-scanner/pkg/geometry"
)

// Params controls the per-mark search.
type Params struct {
	// SearchRadius bounds how far, in pixels, a mark may sit from its
	// nominal template position and still be matched.
	SearchRadius int

	// MinMatches is the number of matched marks required to fit a
	// transform. Below it alignment is skipped.
	MinMatches int
}

// DefaultParams returns the standard mark search settings.
func DefaultParams() Params {
	return Params{
		SearchRadius: 50,
		MinMatches:   3,
	}
}

// Match pairs a template mark with its detected position on the sheet.
type Match struct {
	MarkID   string
	Expected geometry.Point2D
	Detected geometry.Point2D
}

// Align finds the template's registration marks on the rectified sheet
// and returns the affine transform carrying template coordinates to
// detected sheet coordinates. Too few matches or a degenerate fit fall
// back to the identity transform, with the failure recorded as a warning.
func Align(img gocv.Mat, tpl *template.Template, p Params, ledger *omr.Ledger) geometry.AffineTransform {
	matches := FindMarks(img, tpl.RegistrationMarks, p)
	if len(matches) < p.MinMatches {
		ledger.Warn(omr.WarnAlignmentSkipped,
			"matched %d of %d registration marks, need %d; using uncorrected template positions",
			len(matches), len(tpl.RegistrationMarks), p.MinMatches)
		return geometry.Identity()
	}

	src := make([]geometry.Point2D, len(matches))
	dst := make([]geometry.Point2D, len(matches))
	for i, m := range matches {
		src[i] = m.Expected
		dst[i] = m.Detected
	}
	t, err := FitAffine(src, dst)
	if err != nil {
		ledger.Warn(omr.WarnAlignmentFailed,
			"affine fit over %d marks failed (%v); using uncorrected template positions",
			len(matches), err)
		return geometry.Identity()
	}
	return t
}

// FindMarks searches a bounded window around each mark's nominal
// position. Marks outside the acceptance radius stay unmatched.
func FindMarks(img gocv.Mat, marks []template.RegistrationMark, p Params) []Match {
	var matches []Match
	for _, mark := range marks {
		expected := mark.Position.ToFloat()
		win, origin, ok := searchWindow(img, expected, mark.Size+p.SearchRadius)
		if !ok {
			continue
		}

		var detected geometry.Point2D
		var found bool
		switch mark.Type {
		case template.MarkCircle:
			detected, found = findCircle(win, mark.Size)
		case template.MarkSquare:
			detected, found = findSquare(win, mark.Size)
		}
		win.Close()
		if !found {
			continue
		}

		detected = detected.Add(origin)
		if detected.Distance(expected) > float64(p.SearchRadius) {
			continue
		}
		matches = append(matches, Match{MarkID: mark.ID, Expected: expected, Detected: detected})
	}
	return matches
}

// searchWindow crops a square window of the given half-size around the
// center, clamped to the image. The returned Mat is a view the caller
// must close; origin is the window's top-left in image coordinates.
func searchWindow(img gocv.Mat, center geometry.Point2D, half int) (gocv.Mat, geometry.Point2D, bool) {
	x0 := int(center.X) - half
	y0 := int(center.Y) - half
	x1 := int(center.X) + half
	y1 := int(center.Y) + half
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > img.Cols() {
		x1 = img.Cols()
	}
	if y1 > img.Rows() {
		y1 = img.Rows()
	}
	if x1-x0 < 8 || y1-y0 < 8 {
		return gocv.Mat{}, geometry.Point2D{}, false
	}
	win := img.Region(image.Rect(x0, y0, x1, y1))
	return win, geometry.Point2D{X: float64(x0), Y: float64(y0)}, true
}

// findCircle runs a Hough circle search sized to the nominal mark radius
// and returns the hit closest to the window center.
func findCircle(win gocv.Mat, size int) (geometry.Point2D, bool) {
	minR := size - 5
	if minR < 3 {
		minR = 3
	}
	maxR := size + 5

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(win, &blurred, image.Pt(9, 9), 2, 2, gocv.BorderDefault)

	circles := gocv.NewMat()
	defer circles.Close()
	gocv.HoughCirclesWithParams(blurred, &circles, gocv.HoughGradient,
		1, float64(2*minR), 50, 20, minR, maxR)
	if circles.Empty() {
		return geometry.Point2D{}, false
	}

	center := geometry.Point2D{X: float64(win.Cols()) / 2, Y: float64(win.Rows()) / 2}
	best := geometry.Point2D{}
	bestDist := -1.0
	for i := 0; i < circles.Cols(); i++ {
		pt := geometry.Point2D{
			X: float64(circles.GetFloatAt(0, i*3)),
			Y: float64(circles.GetFloatAt(0, i*3+1)),
		}
		d := pt.Distance(center)
		if bestDist < 0 || d < bestDist {
			best, bestDist = pt, d
		}
	}
	return best, true
}

// findSquare binarizes the window and looks for a dark blob whose area
// is within [0.3, 3.0] of the nominal mark area, taking the candidate
// closest to the window center.
func findSquare(win gocv.Mat, size int) (geometry.Point2D, bool) {
	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(win, &bin, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)

	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	nominal := float64(size * size)
	center := geometry.Point2D{X: float64(win.Cols()) / 2, Y: float64(win.Rows()) / 2}
	best := geometry.Point2D{}
	bestDist := -1.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area < 0.3*nominal || area > 3.0*nominal {
			continue
		}
		rect := gocv.BoundingRect(contours.At(i))
		pt := geometry.Point2D{
			X: float64(rect.Min.X+rect.Max.X) / 2,
			Y: float64(rect.Min.Y+rect.Max.Y) / 2,
		}
		d := pt.Distance(center)
		if bestDist < 0 || d < bestDist {
			best, bestDist = pt, d
		}
	}
	if bestDist < 0 {
		return geometry.Point2D{}, false
	}
	return best, true
}
