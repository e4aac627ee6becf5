// Package pipeline sequences the detection stages for one scan and
// enforces the fail-soft error policy: fatal stage failures abort the
// scan with a coded error, advisory findings accumulate as warnings and
// the scan keeps going.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"omr-scanner/internal/alignment"
	"omr-scanner/internal/fill"
	"omr-scanner/internal/imageio"
	"omr-scanner/internal/omr"
	"omr-scanner/internal/paper"
	"omr-scanner/internal/perspective"
	"omr-scanner/internal/preprocess"
	"omr-scanner/internal/roi"
	"omr-scanner/internal/template"
	"omr-scanner/internal/visual"
	"omr-scanner/pkg/geometry"
)

// TemplateLoader supplies immutable templates by id. *template.Store
// satisfies it; tests substitute fakes.
type TemplateLoader interface {
	Load(id string) (*template.Template, error)
}

// Options bundles every stage's parameters plus the orchestration policy.
type Options struct {
	Preprocess preprocess.Params
	Paper      paper.Params
	Alignment  alignment.Params
	ROI        roi.Params
	Fill       fill.Params

	// MinPerspectiveQuality is the warp quality below which the scan is
	// flagged for review.
	MinPerspectiveQuality float64

	// AmbiguousWarnCount is how many ambiguous questions it takes to
	// raise MULTIPLE_AMBIGUOUS.
	AmbiguousWarnCount int

	// ReviewConfidenceFloor sends otherwise clean scans to review when
	// an answered question's confidence falls below it.
	ReviewConfidenceFloor float64

	// Debug enables stage-by-stage logging. DebugDir, when set,
	// receives an annotated overlay PNG per scan.
	Debug    bool
	DebugDir string

	// OverlayMaxDim caps the longer edge of saved overlays.
	OverlayMaxDim int
}

// DefaultOptions returns the standard pipeline configuration.
func DefaultOptions() Options {
	return Options{
		Preprocess:            preprocess.DefaultParams(),
		Paper:                 paper.DefaultParams(),
		Alignment:             alignment.DefaultParams(),
		ROI:                   roi.DefaultParams(),
		Fill:                  fill.DefaultParams(),
		MinPerspectiveQuality: 0.5,
		AmbiguousWarnCount:    2,
		ReviewConfidenceFloor: 0.15,
		OverlayMaxDim:         1600,
	}
}

// Pipeline processes scan requests against injected template and image
// backends. It is safe for concurrent use: all per-scan state lives in
// Process.
type Pipeline struct {
	templates TemplateLoader
	images    imageio.Source
	opts      Options
}

// New creates a pipeline.
func New(templates TemplateLoader, images imageio.Source, opts Options) *Pipeline {
	return &Pipeline{templates: templates, images: images, opts: opts}
}

// Process runs one scan end to end. It never returns an error: every
// failure mode is folded into the result's status and error list.
func (p *Pipeline) Process(req omr.ScanRequest) (result *omr.DetectionResult) {
	start := time.Now()
	ledger := &omr.Ledger{}
	result = &omr.DetectionResult{
		ScanID:     req.ScanID,
		TemplateID: req.TemplateID,
		Detections: []omr.Detection{},
	}
	defer func() {
		if r := recover(); r != nil {
			ledger.Error(omr.CodeUnexpectedError, "scan aborted: %v", r)
			p.finalize(result, ledger, start)
		}
	}()

	tpl, err := p.templates.Load(req.TemplateID)
	if err != nil {
		code := omr.CodeTemplateInvalid
		if errors.Is(err, template.ErrNotFound) {
			code = omr.CodeTemplateNotFound
		}
		ledger.Error(code, "%v", err)
		p.finalize(result, ledger, start)
		return result
	}
	p.debugf(req, "template %s: %d questions, %d marks",
		tpl.TemplateID, len(tpl.Questions), len(tpl.RegistrationMarks))

	data, err := p.images.Fetch(req.ImageRef)
	if err != nil {
		ledger.Error(omr.CodeImageNotFound, "%v", err)
		p.finalize(result, ledger, start)
		return result
	}

	pre, err := preprocess.Run(data, p.opts.Preprocess, req.StrictQuality, ledger)
	if err != nil {
		code := omr.CodePreprocessingFailed
		if errors.Is(err, imageio.ErrDecode) {
			code = omr.CodeImageDecodeError
		}
		ledger.Error(code, "%v", err)
		p.finalize(result, ledger, start)
		return result
	}
	defer pre.Image.Close()
	result.Quality = pre.Metrics
	p.debugf(req, "quality: blur=%.1f brightness=%.1f±%.1f skew=%.1f°",
		pre.Metrics.BlurScore, pre.Metrics.BrightnessMean,
		pre.Metrics.BrightnessStd, pre.Metrics.SkewAngle)

	boundary, err := paper.Detect(pre.Image, p.opts.Paper)
	if err != nil {
		ledger.Error(omr.CodePaperNotDetected, "%v", err)
		p.finalize(result, ledger, start)
		return result
	}
	p.debugf(req, "paper: area=%.0f%% fallback=%v", boundary.AreaRatio*100, boundary.FromFallback)

	quad, err := perspective.Order(boundary.Corners.Points())
	if err != nil {
		ledger.Error(omr.CodePerspectiveFailed, "%v", err)
		p.finalize(result, ledger, start)
		return result
	}
	warped, err := perspective.Correct(pre.Image, quad, tpl.CanonicalSize)
	if err != nil {
		ledger.Error(omr.CodePerspectiveFailed, "%v", err)
		p.finalize(result, ledger, start)
		return result
	}
	defer warped.Close()
	result.Quality.PerspectiveCorrected = true
	result.Quality.PerspectiveQuality = perspective.Quality(quad, tpl.CanonicalSize)
	if result.Quality.PerspectiveQuality < p.opts.MinPerspectiveQuality {
		ledger.Warn(omr.WarnPerspectiveQuality, "warp quality %.2f below %.2f",
			result.Quality.PerspectiveQuality, p.opts.MinPerspectiveQuality)
	}
	p.debugf(req, "perspective: quality=%.2f", result.Quality.PerspectiveQuality)

	transform := alignment.Align(warped, tpl, p.opts.Alignment, ledger)
	p.debugf(req, "alignment: identity=%v scale=%.3f", transform.IsIdentity(), transform.ScaleFactor())

	questions, err := roi.Extract(warped, tpl, transform, p.opts.ROI)
	if err != nil {
		ledger.Error(omr.CodeRoiExtractionFailed, "%v", err)
		p.finalize(result, ledger, start)
		return result
	}
	defer func() {
		for i := range questions {
			questions[i].Close()
		}
	}()

	result.Detections = fill.ScoreQuestions(questions, tpl.Bubble, p.opts.Fill)
	if n := fill.CountAmbiguous(result.Detections); n >= p.opts.AmbiguousWarnCount {
		ledger.Warn(omr.WarnMultipleAmbiguous, "%d questions are ambiguous", n)
	}

	if p.opts.DebugDir != "" {
		p.writeOverlay(req, warped, tpl, transform, result.Detections)
		p.writePaperOverlay(req, pre.Image, quad)
	}

	p.finalize(result, ledger, start)
	return result
}

// writeOverlay renders the review overlay next to the scan id. Overlay
// failures are logged, never fatal.
func (p *Pipeline) writeOverlay(req omr.ScanRequest, sheet gocv.Mat, tpl *template.Template,
	transform geometry.AffineTransform, detections []omr.Detection) {
	canvas := visual.Annotate(sheet, tpl, transform, detections)
	defer canvas.Close()
	path := filepath.Join(p.opts.DebugDir, req.ScanID+"_overlay.png")
	if err := visual.SavePNG(path, canvas, p.opts.OverlayMaxDim); err != nil {
		log.Printf("[scan %s] overlay not written: %v", req.ScanID, err)
	}
}

// writePaperOverlay renders the detected sheet boundary on the pre-warp
// frame, for diagnosing paper detection itself.
func (p *Pipeline) writePaperOverlay(req omr.ScanRequest, frame gocv.Mat, quad geometry.Quad) {
	canvas := visual.AnnotatePaper(frame, quad)
	defer canvas.Close()
	path := filepath.Join(p.opts.DebugDir, req.ScanID+"_paper.png")
	if err := visual.SavePNG(path, canvas, p.opts.OverlayMaxDim); err != nil {
		log.Printf("[scan %s] paper overlay not written: %v", req.ScanID, err)
	}
}

func (p *Pipeline) finalize(result *omr.DetectionResult, ledger *omr.Ledger, start time.Time) {
	result.Warnings = ledger.Warnings()
	if result.Warnings == nil {
		result.Warnings = []omr.Notice{}
	}
	result.Errors = ledger.Errors()
	if result.Errors == nil {
		result.Errors = []omr.Notice{}
	}
	result.Status = omr.ResolveStatus(result.Detections, ledger, p.opts.ReviewConfidenceFloor)
	result.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000
}

func (p *Pipeline) debugf(req omr.ScanRequest, format string, args ...any) {
	if p.opts.Debug {
		log.Printf("[scan %s] %s", req.ScanID, fmt.Sprintf(format, args...))
	}
}
