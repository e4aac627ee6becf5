// Package perspective rectifies a detected sheet into the template's
// canonical pixel space.
package perspective

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"omr-scanner/pkg/geometry"
)

// ErrDegenerate indicates the corner set cannot produce a valid warp.
var ErrDegenerate = errors.New("degenerate corner geometry")

// minQuadArea rejects collapsed quadrilaterals before the homography
// solve, which would otherwise fail inside OpenCV.
const minQuadArea = 16.0

// Order arranges four unordered corners as top-left, top-right,
// bottom-right, bottom-left. Top-left minimizes x+y, bottom-right
// maximizes it; top-right minimizes y-x, bottom-left maximizes it.
func Order(points []geometry.Point2D) (geometry.Quad, error) {
	if len(points) != 4 {
		return geometry.Quad{}, fmt.Errorf("%w: have %d corners, need 4", ErrDegenerate, len(points))
	}

	var quad geometry.Quad
	minSum, maxSum := math.Inf(1), math.Inf(-1)
	minDiff, maxDiff := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		sum := p.X + p.Y
		diff := p.Y - p.X
		if sum < minSum {
			minSum = sum
			quad[0] = p
		}
		if sum > maxSum {
			maxSum = sum
			quad[2] = p
		}
		if diff < minDiff {
			minDiff = diff
			quad[1] = p
		}
		if diff > maxDiff {
			maxDiff = diff
			quad[3] = p
		}
	}

	// Coincident corners collapse the assignment.
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if quad[i].Distance(quad[j]) < 1 {
				return geometry.Quad{}, fmt.Errorf("%w: corners %d and %d coincide", ErrDegenerate, i, j)
			}
		}
	}
	return quad, nil
}

// Correct warps the region bounded by the ordered quad onto a canvas of
// the canonical size. The caller owns the returned Mat.
func Correct(img gocv.Mat, quad geometry.Quad, size geometry.Size) (gocv.Mat, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return gocv.NewMat(), fmt.Errorf("%w: canonical size %dx%d", ErrDegenerate, size.Width, size.Height)
	}
	if quad.Area() < minQuadArea {
		return gocv.NewMat(), fmt.Errorf("%w: quad area %.1f too small", ErrDegenerate, quad.Area())
	}

	src := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(quad[0].X), Y: float32(quad[0].Y)},
		{X: float32(quad[1].X), Y: float32(quad[1].Y)},
		{X: float32(quad[2].X), Y: float32(quad[2].Y)},
		{X: float32(quad[3].X), Y: float32(quad[3].Y)},
	})
	defer src.Close()
	w := float32(size.Width - 1)
	h := float32(size.Height - 1)
	dst := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: 0, Y: 0},
		{X: w, Y: 0},
		{X: w, Y: h},
		{X: 0, Y: h},
	})
	defer dst.Close()

	m := gocv.GetPerspectiveTransform2f(src, dst)
	defer m.Close()

	// Out-of-source pixels fill white, matching blank paper: a sheet
	// partially cut off by the capture must not warp in black bands
	// that read as pencil marks.
	warped := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(img, &warped, m, image.Pt(size.Width, size.Height),
		gocv.InterpolationLinear, gocv.BorderConstant,
		color.RGBA{R: 255, G: 255, B: 255, A: 255})
	if warped.Empty() {
		warped.Close()
		return gocv.NewMat(), fmt.Errorf("%w: warp produced empty image", ErrDegenerate)
	}
	return warped, nil
}

// Quality scores how paper-shaped the ordered quad is, in [0,1].
// Rectangularity (opposite sides of equal length) weighs 0.7, agreement
// with the canonical aspect ratio weighs 0.3.
func Quality(quad geometry.Quad, size geometry.Size) float64 {
	top := quad[0].Distance(quad[1])
	bottom := quad[3].Distance(quad[2])
	left := quad[0].Distance(quad[3])
	right := quad[1].Distance(quad[2])

	widthScore := pairScore(top, bottom)
	heightScore := pairScore(left, right)
	rectangularity := (widthScore + heightScore) / 2

	aspectScore := 0.0
	avgW := (top + bottom) / 2
	avgH := (left + right) / 2
	expected := size.AspectRatio()
	if avgH > 0 && expected > 0 {
		measured := avgW / avgH
		aspectScore = 1 - math.Min(1, math.Abs(measured-expected)/expected)
	}

	return clamp01(0.7*rectangularity + 0.3*aspectScore)
}

func pairScore(a, b float64) float64 {
	longer := math.Max(a, b)
	if longer == 0 {
		return 0
	}
	return 1 - math.Abs(a-b)/longer
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
