package frame

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Rotation is a closed set of 90-degree frame rotations.
type Rotation int

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

func (r Rotation) String() string {
	switch r {
	case Rotate90:
		return "90"
	case Rotate180:
		return "180"
	case Rotate270:
		return "270"
	default:
		return "0"
	}
}

// Degrees returns the rotation angle in degrees.
func (r Rotation) Degrees() int {
	switch r {
	case Rotate90:
		return 90
	case Rotate180:
		return 180
	case Rotate270:
		return 270
	default:
		return 0
	}
}

// TransformConfig describes how a raw camera frame is normalized before
// measurement. Crop percentages are per-edge and clamped to [0,49].
type TransformConfig struct {
	CropLeftPct   float64 `json:"crop_left_pct"`
	CropRightPct  float64 `json:"crop_right_pct"`
	CropTopPct    float64 `json:"crop_top_pct"`
	CropBottomPct float64 `json:"crop_bottom_pct"`

	Rotation Rotation `json:"rotation"`

	// Lens distortion coefficients. All zero means no undistortion.
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	P1 float64 `json:"p1"`
	P2 float64 `json:"p2"`
	K3 float64 `json:"k3"`

	// Camera intrinsics. Zero values are estimated from frame dimensions
	// (fx = fy = width, cx = width/2, cy = height/2).
	Fx float64 `json:"fx,omitempty"`
	Fy float64 `json:"fy,omitempty"`
	Cx float64 `json:"cx,omitempty"`
	Cy float64 `json:"cy,omitempty"`

	// Horizontal resampling factor. Values within 0.01 of 1.0 are a no-op.
	AspectRatio float64 `json:"aspect_ratio"`
}

// Normalized returns a copy with crop percentages clamped to [0,49] and a
// zero aspect ratio promoted to 1.0.
func (c TransformConfig) Normalized() TransformConfig {
	c.CropLeftPct = clampPct(c.CropLeftPct)
	c.CropRightPct = clampPct(c.CropRightPct)
	c.CropTopPct = clampPct(c.CropTopPct)
	c.CropBottomPct = clampPct(c.CropBottomPct)
	if c.AspectRatio == 0 {
		c.AspectRatio = 1.0
	}
	return c
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 49 {
		return 49
	}
	return v
}

func (c TransformConfig) hasDistortion() bool {
	return c.K1 != 0 || c.K2 != 0 || c.P1 != 0 || c.P2 != 0 || c.K3 != 0
}

// Transform normalizes a raw frame for measurement. The stage order is fixed
// and significant:
//
//  1. lens undistortion on the full, uncropped frame (the assumed optical
//     center is only valid before cropping)
//  2. aspect-ratio correction by horizontal resampling
//  3. percentage-based crop
//  4. rotation by a multiple of 90 degrees
//
// It returns the normalized frame and the undistorted-but-uncropped "raw"
// frame, which calibration needs in order to see markers outside the
// measurement region. A stage that would produce degenerate output passes
// its input through unchanged; Transform never fails.
func Transform(src *Frame, cfg TransformConfig) (normalized, raw *Frame) {
	cfg = cfg.Normalized()

	undistorted, owned1 := undistort(src.Mat(), cfg)
	corrected, owned2 := correctAspect(undistorted, cfg)
	if owned2 && owned1 {
		undistorted.Close()
	}

	// The pre-crop view is retained for calibration.
	rawMat := corrected.Clone()

	cropped, owned3 := crop(corrected, cfg)
	if owned3 && (owned1 || owned2) {
		corrected.Close()
	}

	rotated, owned4 := rotate(cropped, cfg.Rotation)
	if owned4 && (owned1 || owned2 || owned3) {
		cropped.Close()
	}
	if !(owned1 || owned2 || owned3 || owned4) {
		// Every stage was a no-op; do not alias the caller's buffer.
		rotated = src.Mat().Clone()
	}

	normalized = &Frame{mat: rotated, Timestamp: src.Timestamp, Config: cfg}
	raw = &Frame{mat: rawMat, Timestamp: src.Timestamp, Config: cfg}
	return normalized, raw
}

// undistort applies the lens model to the full frame. Returns the input Mat
// itself (owned=false) when no distortion coefficients are set.
func undistort(src gocv.Mat, cfg TransformConfig) (gocv.Mat, bool) {
	if !cfg.hasDistortion() || src.Empty() {
		return src, false
	}

	w := float64(src.Cols())
	h := float64(src.Rows())
	fx, fy, cx, cy := cfg.Fx, cfg.Fy, cfg.Cx, cfg.Cy
	if fx == 0 {
		fx = w
	}
	if fy == 0 {
		fy = w
	}
	if cx == 0 {
		cx = w / 2
	}
	if cy == 0 {
		cy = h / 2
	}

	camera := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer camera.Close()
	camera.SetDoubleAt(0, 0, fx)
	camera.SetDoubleAt(1, 1, fy)
	camera.SetDoubleAt(0, 2, cx)
	camera.SetDoubleAt(1, 2, cy)
	camera.SetDoubleAt(2, 2, 1)

	coeffs := gocv.NewMatWithSize(1, 5, gocv.MatTypeCV64F)
	defer coeffs.Close()
	coeffs.SetDoubleAt(0, 0, cfg.K1)
	coeffs.SetDoubleAt(0, 1, cfg.K2)
	coeffs.SetDoubleAt(0, 2, cfg.P1)
	coeffs.SetDoubleAt(0, 3, cfg.P2)
	coeffs.SetDoubleAt(0, 4, cfg.K3)

	dst := gocv.NewMat()
	gocv.Undistort(src, &dst, camera, coeffs, camera)
	return dst, true
}

// correctAspect resamples the frame horizontally by the configured ratio.
func correctAspect(src gocv.Mat, cfg TransformConfig) (gocv.Mat, bool) {
	ratio := cfg.AspectRatio
	if math.Abs(ratio-1.0) <= 0.01 || ratio <= 0 || src.Empty() {
		return src, false
	}

	newW := int(math.Round(float64(src.Cols()) * ratio))
	if newW < 1 {
		return src, false
	}

	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Pt(newW, src.Rows()), 0, 0, gocv.InterpolationLinear)
	return dst, true
}

// crop removes the configured percentage from each edge. Crops that would
// leave no pixels pass the frame through unchanged.
func crop(src gocv.Mat, cfg TransformConfig) (gocv.Mat, bool) {
	if src.Empty() {
		return src, false
	}
	if cfg.CropLeftPct+cfg.CropRightPct >= 100 || cfg.CropTopPct+cfg.CropBottomPct >= 100 {
		return src, false
	}

	w := src.Cols()
	h := src.Rows()
	x1 := int(float64(w) * cfg.CropLeftPct / 100)
	x2 := w - int(float64(w)*cfg.CropRightPct/100)
	y1 := int(float64(h) * cfg.CropTopPct / 100)
	y2 := h - int(float64(h)*cfg.CropBottomPct/100)
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return src, false
	}
	if x1 == 0 && y1 == 0 && x2 == w && y2 == h {
		return src, false
	}

	region := src.Region(image.Rect(x1, y1, x2, y2))
	defer region.Close()
	return region.Clone(), true
}

// rotate applies the configured multiple of 90 degrees. Rotation runs last
// so it turns the already-cropped measurement region.
func rotate(src gocv.Mat, r Rotation) (gocv.Mat, bool) {
	if src.Empty() || r == Rotate0 {
		return src, false
	}

	dst := gocv.NewMat()
	switch r {
	case Rotate90:
		gocv.Rotate(src, &dst, gocv.Rotate90Clockwise)
	case Rotate180:
		gocv.Rotate(src, &dst, gocv.Rotate180Clockwise)
	case Rotate270:
		gocv.Rotate(src, &dst, gocv.Rotate90CounterClockwise)
	}
	return dst, true
}
