package detect

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qc-detector/pkg/geometry"

	"gocv.io/x/gocv"
)

func TestLetterboxMapping(t *testing.T) {
	// A 1280x720 frame scales by 0.5 into 640x360 with 140px of vertical
	// padding on each side.
	lb := letterbox{scale: 0.5, padX: 0, padY: 140, frameW: 1280, frameH: 720}

	x, y := lb.toFrame(0, 140)
	assert.InDelta(t, 0.0, x, 1e-9)
	assert.InDelta(t, 0.0, y, 1e-9)

	x, y = lb.toFrame(640, 500)
	assert.InDelta(t, 1280.0, x, 1e-9)
	assert.InDelta(t, 720.0, y, 1e-9)

	x, y = lb.toFrame(320, 320)
	assert.InDelta(t, 640.0, x, 1e-9)
	assert.InDelta(t, 360.0, y, 1e-9)
}

func TestBoxToFrame(t *testing.T) {
	lb := letterbox{scale: 0.5, padX: 0, padY: 140, frameW: 1280, frameH: 720}

	t.Run("maps network box to frame coordinates", func(t *testing.T) {
		b := rawBox{cx: 320, cy: 320, w: 100, h: 60}
		r := boxToFrame(b, lb)

		assert.InDelta(t, 540.0, r.X, 1e-6)
		assert.InDelta(t, 300.0, r.Y, 1e-6)
		assert.InDelta(t, 200.0, r.Width, 1e-6)
		assert.InDelta(t, 120.0, r.Height, 1e-6)
	})

	t.Run("clamps to frame bounds", func(t *testing.T) {
		b := rawBox{cx: 10, cy: 150, w: 100, h: 60}
		r := boxToFrame(b, lb)

		assert.GreaterOrEqual(t, r.X, 0.0)
		assert.GreaterOrEqual(t, r.Y, 0.0)
		assert.LessOrEqual(t, r.X+r.Width, 1280.0)
	})
}

func TestRectIoU(t *testing.T) {
	a := geometry.NewRect(0, 0, 100, 100)

	assert.InDelta(t, 1.0, rectIoU(a, a), 1e-9)
	assert.Equal(t, 0.0, rectIoU(a, geometry.NewRect(200, 200, 50, 50)))
	// 50% horizontal offset: inter 5000, union 15000.
	assert.InDelta(t, 1.0/3.0, rectIoU(a, geometry.NewRect(50, 0, 100, 100)), 1e-9)
}

func maskDet(w, h int, r image.Rectangle, conf float64) MaskDetection {
	m := gocv.Zeros(h, w, gocv.MatTypeCV8UC1)
	gocv.Rectangle(&m, r, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	return MaskDetection{
		Mask:       m,
		Box:        geometry.NewRect(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy())),
		Confidence: conf,
	}
}

func TestTakeByPoint(t *testing.T) {
	dets := []MaskDetection{
		maskDet(200, 200, image.Rect(0, 0, 60, 60), 0.9),
		maskDet(200, 200, image.Rect(40, 40, 180, 180), 0.8),
	}

	masks := takeByPoint(dets, geometry.Point2D{X: 100, Y: 100})
	defer func() {
		for _, m := range masks {
			m.Close()
		}
	}()

	// Only the second mask covers the point.
	require.Len(t, masks, 1)
	assert.Equal(t, uint8(255), masks[0].GetUCharAt(100, 100))
}

func TestTakeByBox(t *testing.T) {
	target := geometry.NewRect(40, 40, 140, 140)
	dets := []MaskDetection{
		maskDet(200, 200, image.Rect(0, 0, 30, 30), 0.9),
		maskDet(200, 200, image.Rect(40, 40, 180, 180), 0.8),
	}

	masks := takeByBox(dets, target)
	defer func() {
		for _, m := range masks {
			m.Close()
		}
	}()

	// The overlapping mask survives; the disjoint one is dropped.
	require.Len(t, masks, 1)
	assert.Equal(t, uint8(255), masks[0].GetUCharAt(100, 100))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "seg-model", KindSegModel.String())
	assert.Equal(t, "detector", KindDetector.String())
	assert.Equal(t, "segmenter", KindSegmenter.String())
}

func TestRegistryUnavailableSlots(t *testing.T) {
	r := NewRegistry(Config{})
	defer r.Close()

	_, err := r.SegModel()
	var unavailable *ModelUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, KindSegModel, unavailable.Kind)

	_, err = r.Detector()
	require.ErrorAs(t, err, &unavailable)

	_, err = r.Segmenter()
	require.ErrorAs(t, err, &unavailable)
}

func TestRegistryMissingWeightsFile(t *testing.T) {
	r := NewRegistry(Config{DetectorPath: "/nonexistent/detector.onnx"})
	defer r.Close()

	_, err := r.Detector()
	var unavailable *ModelUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "/nonexistent/detector.onnx", unavailable.Path)

	// The load is attempted once and the result cached.
	_, err2 := r.Detector()
	assert.Equal(t, err, err2)
}
