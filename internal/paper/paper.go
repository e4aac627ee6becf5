// Package paper locates the sheet boundary inside a raw capture.
package paper

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"

	"omr-scanner/pkg/geometry"
)

// ErrNoPaper indicates no plausible sheet boundary was found.
var ErrNoPaper = errors.New("no paper boundary detected")

// Params controls boundary detection.
type Params struct {
	// Accepted sheet area as a fraction of the frame. Below the minimum
	// the contour is clutter; above the maximum the frame edge itself
	// was detected.
	MinAreaRatio float64
	MaxAreaRatio float64

	// Captures larger than this are downscaled before edge analysis;
	// corners are scaled back afterwards.
	MaxWorkingDim int
}

// DefaultParams returns boundary detection defaults for handheld and
// flatbed captures.
func DefaultParams() Params {
	return Params{
		MinAreaRatio:  0.25,
		MaxAreaRatio:  0.95,
		MaxWorkingDim: 1500,
	}
}

// Boundary is a detected sheet outline in full-resolution coordinates.
type Boundary struct {
	Corners geometry.Quad
	// FromFallback is set when no clean quadrilateral was found and the
	// bounding rectangle of the largest contour was used instead.
	FromFallback bool
	// AreaRatio is the boundary area as a fraction of the frame.
	AreaRatio float64
}

// Detect finds the sheet outline in a grayscale capture. It prefers the
// largest plausible 4-vertex contour; failing that, it falls back to the
// bounding rectangle of the largest contour. Corners come back unordered.
func Detect(gray gocv.Mat, p Params) (*Boundary, error) {
	if gray.Empty() {
		return nil, fmt.Errorf("%w: empty input", ErrNoPaper)
	}

	work := gray
	scale := 1.0
	if dim := maxDim(gray); dim > p.MaxWorkingDim && p.MaxWorkingDim > 0 {
		scale = float64(p.MaxWorkingDim) / float64(dim)
		resized := gocv.NewMat()
		gocv.Resize(gray, &resized, image.Point{}, scale, scale, gocv.InterpolationArea)
		defer resized.Close()
		work = resized
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(work, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 50, 150)

	// Close small gaps in the sheet outline before contour extraction.
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer kernel.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(edges, &dilated, kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil, fmt.Errorf("%w: no contours in frame", ErrNoPaper)
	}

	frameArea := float64(work.Cols() * work.Rows())
	type candidate struct {
		index int
		area  float64
	}
	var valid []candidate
	// largestArea starts below any real area so even degenerate zero-area
	// contours claim the fallback slot; contours.Size() > 0 guarantees
	// largestIdx lands on a valid index.
	largestIdx, largestArea := -1, -1.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > largestArea {
			largestIdx, largestArea = i, area
		}
		ratio := area / frameArea
		if ratio >= p.MinAreaRatio && ratio <= p.MaxAreaRatio {
			valid = append(valid, candidate{index: i, area: area})
		}
	}
	sort.Slice(valid, func(a, b int) bool { return valid[a].area > valid[b].area })

	// Largest plausible contour that simplifies to a convex
	// quadrilateral wins.
	for _, c := range valid {
		contour := contours.At(c.index)
		peri := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, 0.02*peri, true)
		n := approx.Size()
		if n == 4 {
			var quad geometry.Quad
			for j := 0; j < 4; j++ {
				pt := approx.At(j)
				quad[j] = geometry.Point2D{X: float64(pt.X) / scale, Y: float64(pt.Y) / scale}
			}
			approx.Close()
			if !geometry.IsConvex(quad.Points()) {
				continue
			}
			clampQuad(&quad, gray.Cols(), gray.Rows())
			return &Boundary{Corners: quad, AreaRatio: c.area / frameArea}, nil
		}
		approx.Close()
	}

	// No quadrilateral anywhere: take the bounding rectangle of the
	// largest contour, plausible or not.
	rect := gocv.BoundingRect(contours.At(largestIdx))
	quad := geometry.Quad{
		{X: float64(rect.Min.X) / scale, Y: float64(rect.Min.Y) / scale},
		{X: float64(rect.Max.X) / scale, Y: float64(rect.Min.Y) / scale},
		{X: float64(rect.Max.X) / scale, Y: float64(rect.Max.Y) / scale},
		{X: float64(rect.Min.X) / scale, Y: float64(rect.Max.Y) / scale},
	}
	clampQuad(&quad, gray.Cols(), gray.Rows())
	return &Boundary{
		Corners:      quad,
		FromFallback: true,
		AreaRatio:    largestArea / frameArea,
	}, nil
}

func maxDim(m gocv.Mat) int {
	if m.Cols() > m.Rows() {
		return m.Cols()
	}
	return m.Rows()
}

func clampQuad(q *geometry.Quad, w, h int) {
	for i := range q {
		if q[i].X < 0 {
			q[i].X = 0
		}
		if q[i].X > float64(w-1) {
			q[i].X = float64(w - 1)
		}
		if q[i].Y < 0 {
			q[i].Y = 0
		}
		if q[i].Y > float64(h-1) {
			q[i].Y = float64(h - 1)
		}
	}
}
