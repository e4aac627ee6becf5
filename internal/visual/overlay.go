// Package visual renders review overlays for processed sheets.
package visual

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"
	xdraw "golang.org/x/image/draw"

	"omr-scanner/internal/imageio"
	"omr-scanner/internal/omr"
	"omr-scanner/internal/template"
	"omr-scanner/pkg/geometry"
)

var (
	paperColor = color.RGBA{R: 0, G: 160, B: 255, A: 255}
	markColor  = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	errColor   = color.RGBA{R: 255, G: 160, B: 0, A: 255}

	emptyHeat  = colorful.Color{R: 0.20, G: 0.75, B: 0.25}
	filledHeat = colorful.Color{R: 0.85, G: 0.15, B: 0.15}
)

// Annotate draws every bubble onto a color copy of the aligned sheet,
// tinted by fill ratio, with selected options drawn thicker and the
// corrected mark positions crossed. The caller owns the returned Mat.
func Annotate(sheet gocv.Mat, tpl *template.Template, align geometry.AffineTransform, detections []omr.Detection) gocv.Mat {
	canvas := toColor(sheet)

	byID := make(map[int]*omr.Detection, len(detections))
	for i := range detections {
		byID[detections[i].QuestionID] = &detections[i]
	}

	for _, q := range tpl.Questions {
		det := byID[q.QuestionID]
		for label, pos := range q.Options {
			pt := align.Apply(pos.ToFloat())
			center := image.Pt(int(pt.X), int(pt.Y))

			c := errColor
			thickness := 2
			if det != nil && det.Status != omr.DetectionError {
				c = heatColor(det.FillRatios[label])
				if selected(det, label) {
					thickness = 4
				}
			}
			gocv.Circle(&canvas, center, tpl.Bubble.Radius+2, c, thickness)
			gocv.PutText(&canvas, label, image.Pt(center.X+tpl.Bubble.Radius+4, center.Y+4),
				gocv.FontHersheySimplex, 0.4, c, 1)
		}
	}

	for _, m := range tpl.RegistrationMarks {
		pt := align.Apply(m.Position.ToFloat())
		drawCross(&canvas, image.Pt(int(pt.X), int(pt.Y)), m.Size, markColor)
	}
	return canvas
}

// AnnotatePaper draws the detected sheet boundary on the raw capture.
// The caller owns the returned Mat.
func AnnotatePaper(raw gocv.Mat, quad geometry.Quad) gocv.Mat {
	canvas := toColor(raw)
	for i := 0; i < 4; i++ {
		a := quad[i]
		b := quad[(i+1)%4]
		gocv.Line(&canvas, image.Pt(int(a.X), int(a.Y)), image.Pt(int(b.X), int(b.Y)), paperColor, 3)
	}
	return canvas
}

// SavePNG writes the Mat as a PNG, downscaling so the longer edge does
// not exceed maxDim. maxDim <= 0 disables scaling.
func SavePNG(path string, m gocv.Mat, maxDim int) error {
	img, err := imageio.ToImage(m)
	if err != nil {
		return fmt.Errorf("converting overlay: %w", err)
	}
	img = Downscale(img, maxDim)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing overlay: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding overlay: %w", err)
	}
	return nil
}

// Downscale resizes the image so its longer edge is at most maxDim,
// preserving aspect ratio. Images already small enough pass through.
func Downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longer := w
	if h > longer {
		longer = h
	}
	if maxDim <= 0 || longer <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(longer)
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func toColor(m gocv.Mat) gocv.Mat {
	if m.Channels() == 1 {
		canvas := gocv.NewMat()
		gocv.CvtColor(m, &canvas, gocv.ColorGrayToBGR)
		return canvas
	}
	return m.Clone()
}

// heatColor maps a fill ratio onto the empty-to-filled gradient.
func heatColor(ratio float64) color.RGBA {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c := emptyHeat.BlendLab(filledHeat, ratio).Clamped()
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func selected(det *omr.Detection, label string) bool {
	for _, s := range det.Selected {
		if s == label {
			return true
		}
	}
	return false
}

func drawCross(canvas *gocv.Mat, center image.Point, size int, c color.RGBA) {
	gocv.Line(canvas, image.Pt(center.X-size, center.Y), image.Pt(center.X+size, center.Y), c, 2)
	gocv.Line(canvas, image.Pt(center.X, center.Y-size), image.Pt(center.X, center.Y+size), c, 2)
}
