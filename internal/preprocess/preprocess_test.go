package preprocess

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"math"
	"testing"

	"omr-scanner/internal/imageio"
	"omr-scanner/internal/omr"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uniformImage(w, h int, level uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img
}

// checkerboard is maximally sharp: every edge contributes to the
// Laplacian, so the blur score is far above any sane floor.
func checkerboard(w, h, cell int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 1 {
				img.Pix[y*img.Stride+x] = 255
			}
		}
	}
	return img
}

func TestRunMeasuresUniformImage(t *testing.T) {
	var ledger omr.Ledger
	out, err := Run(encodePNG(t, uniformImage(200, 200, 128)), DefaultParams(), false, &ledger)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer out.Image.Close()

	if out.Image.Cols() != 200 || out.Image.Rows() != 200 || out.Image.Channels() != 1 {
		t.Errorf("output = %dx%d ch=%d, want 200x200 ch=1",
			out.Image.Cols(), out.Image.Rows(), out.Image.Channels())
	}
	if math.Abs(out.Metrics.BrightnessMean-128) > 1 {
		t.Errorf("brightness mean = %v, want ~128", out.Metrics.BrightnessMean)
	}
	if out.Metrics.BrightnessStd > 1 {
		t.Errorf("brightness std = %v, want ~0", out.Metrics.BrightnessStd)
	}
	if out.Metrics.BlurScore > 1 {
		t.Errorf("blur score = %v, want ~0 for a featureless image", out.Metrics.BlurScore)
	}
	if out.Metrics.SkewAngle != 0 {
		t.Errorf("skew = %v, want 0 with no lines", out.Metrics.SkewAngle)
	}

	// Featureless image reads as defocused.
	found := false
	for _, w := range ledger.Warnings() {
		if w.Code == omr.WarnLowBlurScore {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s warning, got %v", omr.WarnLowBlurScore, ledger.Warnings())
	}
}

func TestRunSharpImageScoresHigh(t *testing.T) {
	var ledger omr.Ledger
	out, err := Run(encodePNG(t, checkerboard(200, 200, 8)), DefaultParams(), false, &ledger)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer out.Image.Close()

	if out.Metrics.BlurScore < DefaultParams().MinBlurScore {
		t.Errorf("blur score = %v, want >= %v", out.Metrics.BlurScore, DefaultParams().MinBlurScore)
	}
	for _, w := range ledger.Warnings() {
		if w.Code == omr.WarnLowBlurScore {
			t.Errorf("sharp image raised %s", omr.WarnLowBlurScore)
		}
	}
}

func TestRunStrictMode(t *testing.T) {
	tests := []struct {
		name string
		img  *image.Gray
	}{
		{"defocused", uniformImage(200, 200, 128)},
		{"too dark", uniformImage(200, 200, 20)},
		{"blown out", uniformImage(200, 200, 250)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ledger omr.Ledger
			_, err := Run(encodePNG(t, tt.img), DefaultParams(), true, &ledger)
			if !errors.Is(err, ErrQuality) {
				t.Errorf("strict Run error = %v, want ErrQuality", err)
			}
		})
	}

	// The same sharp capture passes strict mode.
	var ledger omr.Ledger
	out, err := Run(encodePNG(t, checkerboard(200, 200, 8)), DefaultParams(), true, &ledger)
	if err != nil {
		t.Fatalf("strict Run on sharp image: %v", err)
	}
	out.Image.Close()
}

func TestRunRejectsUndecodableBytes(t *testing.T) {
	var ledger omr.Ledger
	if _, err := Run([]byte("junk"), DefaultParams(), false, &ledger); !errors.Is(err, imageio.ErrDecode) {
		t.Errorf("Run error = %v, want ErrDecode", err)
	}
}
