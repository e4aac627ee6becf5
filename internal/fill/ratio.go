// Package fill measures how darkened each bubble is and turns the
// per-option ratios into an answer decision.
package fill

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"omr-scanner/internal/roi"
)

// Params controls fill measurement.
type Params struct {
	// ScoringRadiusScale shrinks the measured disc slightly inside the
	// printed outline so the outline itself does not count as fill.
	ScoringRadiusScale float64
	MinScoringRadius   int

	// Masked-mean brightness bounds selecting the thresholding branch.
	BrightMean float64
	DarkMean   float64

	// Fixed cutoff for the dark-capture branch.
	DarkPixel uint8

	// Constant subtracted by the adaptive threshold.
	AdaptiveC float64
}

// DefaultParams returns the standard measurement settings.
func DefaultParams() Params {
	return Params{
		ScoringRadiusScale: 0.95,
		MinScoringRadius:   3,
		BrightMean:         200,
		DarkMean:           100,
		DarkPixel:          127,
		AdaptiveC:          5,
	}
}

// Measure returns the fraction of the bubble disc that reads as marked,
// in [0,1]. Missing or flagged regions measure as 0 so they cannot win
// selection.
func Measure(region *roi.Region, p Params) float64 {
	if region.Missing || region.LowConfidence || region.Image.Empty() {
		return 0
	}

	// Branch selection reads the full bubble disc the extractor masked
	// off; counting uses a slightly smaller disc so the printed outline
	// does not register as fill.
	mean := maskedMean(region.Image, region.Mask)

	radius := int(float64(region.Radius) * p.ScoringRadiusScale)
	if radius < p.MinScoringRadius {
		radius = p.MinScoringRadius
	}

	mask := gocv.Zeros(region.Image.Rows(), region.Image.Cols(), gocv.MatTypeCV8UC1)
	defer mask.Close()
	center := image.Pt(int(region.Center.X), int(region.Center.Y))
	gocv.Circle(&mask, center, radius, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	total := gocv.CountNonZero(mask)
	if total == 0 {
		return 0
	}
	var marked int
	switch {
	case mean > p.BrightMean:
		// Well-lit capture: global Otsu separates pencil from paper.
		marked = countBinarized(region.Image, mask, func(blurred gocv.Mat, bin *gocv.Mat) {
			gocv.Threshold(blurred, bin, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)
		})
	case mean < p.DarkMean:
		// Underexposed capture: Otsu collapses, count dark pixels directly.
		marked = countDark(region.Image, mask, p.DarkPixel)
	default:
		// Uneven lighting: threshold against the local neighborhood.
		block := region.Image.Cols() / 4
		if block%2 == 0 {
			block++
		}
		if block < 7 {
			block = 7
		}
		marked = countBinarized(region.Image, mask, func(blurred gocv.Mat, bin *gocv.Mat) {
			gocv.AdaptiveThreshold(blurred, bin, 255, gocv.AdaptiveThresholdGaussian,
				gocv.ThresholdBinaryInv, block, float32(p.AdaptiveC))
		})
	}

	ratio := float64(marked) / float64(total)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// countBinarized blurs the crop, binarizes it with the supplied
// thresholder, erodes away the printed outline and counts marked pixels
// inside the disc.
func countBinarized(crop, mask gocv.Mat, threshold func(gocv.Mat, *gocv.Mat)) int {
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(crop, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	bin := gocv.NewMat()
	defer bin.Close()
	threshold(blurred, &bin)

	masked := gocv.NewMat()
	defer masked.Close()
	gocv.BitwiseAndWithMask(bin, bin, &masked, mask)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3))
	defer kernel.Close()
	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.Erode(masked, &eroded, kernel)

	return gocv.CountNonZero(eroded)
}

// countDark counts pixels darker than the cutoff inside the disc.
func countDark(crop, mask gocv.Mat, cutoff uint8) int {
	data := crop.ToBytes()
	sel := mask.ToBytes()
	n := 0
	for i := range data {
		if sel[i] != 0 && data[i] < cutoff {
			n++
		}
	}
	return n
}

// maskedMean returns the mean gray level inside the disc.
func maskedMean(crop, mask gocv.Mat) float64 {
	data := crop.ToBytes()
	sel := mask.ToBytes()
	var sum float64
	var n int
	for i := range data {
		if sel[i] != 0 {
			sum += float64(data[i])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
