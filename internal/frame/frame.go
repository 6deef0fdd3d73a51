// Package frame provides the camera frame type and the normalization
// pipeline (undistortion, aspect correction, crop, rotation) that every
// downstream consumer reads from.
package frame

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"gocv.io/x/gocv"

	_ "golang.org/x/image/tiff"
)

// Frame is a single BGR camera frame plus its acquisition timestamp and the
// transform configuration that produced it. Frames are treated as immutable:
// every pipeline stage produces a new Frame rather than mutating in place.
type Frame struct {
	mat       gocv.Mat
	Timestamp time.Time
	Config    TransformConfig
}

// FromMat wraps an existing Mat in a Frame. The Frame takes ownership of
// the Mat; callers must not Close it themselves.
func FromMat(mat gocv.Mat, ts time.Time) *Frame {
	return &Frame{mat: mat, Timestamp: ts}
}

// Load reads a frame from an image file (PNG, JPEG or TIFF).
func Load(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	mat, err := imageToMat(img)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	ts := time.Now()
	if err == nil {
		ts = info.ModTime()
	}
	return FromMat(mat, ts), nil
}

// Mat returns the underlying pixel buffer. Callers must treat it as
// read-only; use Clone before modifying.
func (f *Frame) Mat() gocv.Mat {
	return f.mat
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	return &Frame{mat: f.mat.Clone(), Timestamp: f.Timestamp, Config: f.Config}
}

// Close releases the pixel buffer.
func (f *Frame) Close() {
	if f == nil || f.mat.Empty() {
		return
	}
	f.mat.Close()
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.mat.Cols()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.mat.Rows()
}

// Empty reports whether the frame holds no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.mat.Empty()
}

// imageToMat converts a Go image.Image to a BGR OpenCV Mat.
func imageToMat(srcImg image.Image) (gocv.Mat, error) {
	bounds := srcImg.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return gocv.Mat{}, fmt.Errorf("empty image %dx%d", w, h)
	}

	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := srcImg.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// Convert from 16-bit to 8-bit and BGR order for OpenCV
			mat.SetUCharAt(y, x*3+0, uint8(b>>8))
			mat.SetUCharAt(y, x*3+1, uint8(g>>8))
			mat.SetUCharAt(y, x*3+2, uint8(r>>8))
		}
	}
	return mat, nil
}
