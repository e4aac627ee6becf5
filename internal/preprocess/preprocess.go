// Package preprocess decodes a scan, measures capture quality and
// produces the normalized grayscale image the rest of the pipeline
// works on.
package preprocess

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"omr-scanner/internal/imageio"
	"omr-scanner/internal/omr"
)

// ErrQuality indicates a strict-mode quality floor was violated.
var ErrQuality = errors.New("image quality below strict floor")

// Params holds quality floors and enhancement settings.
type Params struct {
	// Strict-mode floors. Outside strict mode a low blur score only
	// raises a warning and brightness is reported but not enforced.
	MinBlurScore  float64
	MinBrightness float64
	MaxBrightness float64

	// Skew beyond this many degrees raises a warning.
	SkewWarnDegrees float64

	// Contrast enhancement.
	CLAHEClipLimit float64
	CLAHETileSize  int
}

// DefaultParams returns the standard quality floors and enhancement
// settings for 200-300 DPI sheet captures.
func DefaultParams() Params {
	return Params{
		MinBlurScore:    100,
		MinBrightness:   50,
		MaxBrightness:   230,
		SkewWarnDegrees: 10,
		CLAHEClipLimit:  2.0,
		CLAHETileSize:   8,
	}
}

// Output is the result of preprocessing one scan.
type Output struct {
	// Image is the enhanced grayscale sheet. The caller owns it.
	Image   gocv.Mat
	Metrics omr.QualityMetrics
}

// Run decodes the image, measures blur, brightness and skew on the raw
// grayscale, then applies CLAHE and a light Gaussian blur. In strict mode
// a violated floor aborts with ErrQuality; otherwise violations are
// reported through the ledger.
func Run(data []byte, p Params, strict bool, ledger *omr.Ledger) (*Output, error) {
	bgr, err := imageio.Decode(data)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	metrics := omr.QualityMetrics{
		BlurScore: blurScore(gray),
		SkewAngle: skewDegrees(gray),
	}
	metrics.BrightnessMean, metrics.BrightnessStd = brightnessStats(gray)

	if strict {
		if metrics.BlurScore < p.MinBlurScore {
			return nil, fmt.Errorf("%w: blur score %.1f < %.1f",
				ErrQuality, metrics.BlurScore, p.MinBlurScore)
		}
		if metrics.BrightnessMean < p.MinBrightness || metrics.BrightnessMean > p.MaxBrightness {
			return nil, fmt.Errorf("%w: brightness mean %.1f outside [%.0f, %.0f]",
				ErrQuality, metrics.BrightnessMean, p.MinBrightness, p.MaxBrightness)
		}
	} else if metrics.BlurScore < p.MinBlurScore {
		ledger.Warn(omr.WarnLowBlurScore, "blur score %.1f below %.1f, sheet may be out of focus",
			metrics.BlurScore, p.MinBlurScore)
	}
	if math.Abs(metrics.SkewAngle) > p.SkewWarnDegrees {
		ledger.Warn(omr.WarnSignificantSkew, "skew angle %.1f° exceeds %.1f°",
			metrics.SkewAngle, p.SkewWarnDegrees)
	}

	enhanced := enhance(gray, p)
	return &Output{Image: enhanced, Metrics: metrics}, nil
}

// enhance applies CLAHE followed by a 5x5 Gaussian blur. Local contrast
// equalization evens out shadows across the sheet; the blur suppresses
// sensor noise before edge analysis.
func enhance(gray gocv.Mat, p Params) gocv.Mat {
	clahe := gocv.NewCLAHEWithParams(p.CLAHEClipLimit, image.Pt(p.CLAHETileSize, p.CLAHETileSize))
	defer clahe.Close()

	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(gray, &equalized)

	smoothed := gocv.NewMat()
	gocv.GaussianBlur(equalized, &smoothed, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
	return smoothed
}

// blurScore returns the variance of the Laplacian. Sharp captures score
// in the hundreds; defocused ones collapse toward zero.
func blurScore(gray gocv.Mat) float64 {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV16S, 3, 1, 0, gocv.BorderDefault)

	data := lap.ToBytes()
	n := len(data) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(data[i*2:])))
		vals[i] = v
		sum += v
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	return variance / float64(n)
}

// brightnessStats returns the mean and standard deviation of gray levels.
func brightnessStats(gray gocv.Mat) (mean, std float64) {
	data := gray.ToBytes()
	if len(data) == 0 {
		return 0, 0
	}
	var sum float64
	for _, b := range data {
		sum += float64(b)
	}
	mean = sum / float64(len(data))

	var variance float64
	for _, b := range data {
		d := float64(b) - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(data)))
}

// skewDegrees estimates document rotation as the median angle of
// near-horizontal Hough lines over the Otsu-binarized sheet. Returns 0
// when no usable lines are found.
func skewDegrees(gray gocv.Mat) float64 {
	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(gray, &bin, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(bin, &edges, 50, 150)

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLines(edges, &lines, 1, math.Pi/180, 100)

	var angles []float64
	for i := 0; i < lines.Rows(); i++ {
		theta := float64(lines.GetVecfAt(i, 0)[1])
		angle := theta*180/math.Pi - 90
		// Near-horizontal structure only; text rows and bubble grids
		// dominate this band.
		if math.Abs(angle) < 45 {
			angles = append(angles, angle)
		}
	}
	if len(angles) == 0 {
		return 0
	}
	sort.Float64s(angles)
	mid := len(angles) / 2
	if len(angles)%2 == 0 {
		return (angles[mid-1] + angles[mid]) / 2
	}
	return angles[mid]
}
