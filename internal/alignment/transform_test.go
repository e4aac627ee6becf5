package alignment

import (
	"math"
	"testing"

	"omr-scanner/pkg/geometry"
)

func applyAll(t geometry.AffineTransform, pts []geometry.Point2D) []geometry.Point2D {
	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		out[i] = t.Apply(p)
	}
	return out
}

func TestFitAffineRecoversTransform(t *testing.T) {
	src := []geometry.Point2D{
		{X: 50, Y: 50}, {X: 750, Y: 50}, {X: 50, Y: 950}, {X: 750, Y: 950},
	}
	tests := []struct {
		name string
		want geometry.AffineTransform
	}{
		{"translation", geometry.Translation(4.5, -2.25)},
		{"slight rotation", geometry.Rotation(0.01).Compose(geometry.Translation(3, 1))},
		{"near unit scale", geometry.Scaling(1.02, 0.99).Compose(geometry.Translation(-1, 2))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := applyAll(tt.want, src)
			got, err := FitAffine(src, dst)
			if err != nil {
				t.Fatalf("FitAffine: %v", err)
			}
			for i, p := range src {
				want := tt.want.Apply(p)
				have := got.Apply(p)
				if want.Distance(have) > 1e-6 {
					t.Errorf("point %d maps to %+v, want %+v", i, have, want)
				}
			}
			if e := FitError(src, dst, got); e > 1e-6 {
				t.Errorf("residual = %v, want ~0", e)
			}
		})
	}
}

func TestFitAffineMinimumPoints(t *testing.T) {
	src := []geometry.Point2D{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 0, Y: 100}}
	want := geometry.Translation(7, 3)
	dst := applyAll(want, src)

	got, err := FitAffine(src, dst)
	if err != nil {
		t.Fatalf("FitAffine with 3 points: %v", err)
	}
	if got.Apply(src[1]).Distance(dst[1]) > 1e-6 {
		t.Error("3-point fit did not reproduce the correspondence")
	}
}

func TestFitAffineRejectsBadInput(t *testing.T) {
	square := []geometry.Point2D{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}
	tests := []struct {
		name string
		src  []geometry.Point2D
		dst  []geometry.Point2D
	}{
		{"count mismatch", square, square[:2]},
		{"too few points", square[:2], square[:2]},
		{
			"collinear points",
			[]geometry.Point2D{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 0}},
			[]geometry.Point2D{{X: 1, Y: 1}, {X: 11, Y: 1}, {X: 21, Y: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FitAffine(tt.src, tt.dst); err == nil {
				t.Error("FitAffine accepted degenerate input")
			}
		})
	}
}

func TestFitAffineIsDeterministic(t *testing.T) {
	src := []geometry.Point2D{
		{X: 50, Y: 50}, {X: 750, Y: 50}, {X: 50, Y: 950}, {X: 400, Y: 500},
	}
	// Perturbed correspondences, as mark detection would produce.
	dst := []geometry.Point2D{
		{X: 52.2, Y: 49.1}, {X: 751.7, Y: 51.3}, {X: 49.4, Y: 952.8}, {X: 401.1, Y: 499.2},
	}
	first, err := FitAffine(src, dst)
	if err != nil {
		t.Fatalf("FitAffine: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := FitAffine(src, dst)
		if err != nil {
			t.Fatalf("FitAffine run %d: %v", i, err)
		}
		if first != again {
			t.Fatalf("run %d produced a different fit", i)
		}
	}
}

func TestFitError(t *testing.T) {
	src := []geometry.Point2D{{X: 0, Y: 0}, {X: 10, Y: 0}}
	dst := []geometry.Point2D{{X: 0, Y: 3}, {X: 10, Y: 3}}
	if e := FitError(src, dst, geometry.Identity()); math.Abs(e-3) > 1e-9 {
		t.Errorf("FitError = %v, want 3", e)
	}
	if e := FitError(src, nil, geometry.Identity()); !math.IsInf(e, 1) {
		t.Errorf("FitError on mismatched input = %v, want +Inf", e)
	}
}
