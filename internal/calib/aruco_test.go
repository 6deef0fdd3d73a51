package calib

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocv.io/x/gocv"
)

// drawMarker renders a DICT_4X4_50 marker with its top-left corner at (x, y)
// on a BGR frame. The frame must be white so the marker keeps a quiet zone.
func drawMarker(t *testing.T, frame *gocv.Mat, id, x, y, sidePx int) {
	t.Helper()

	marker := gocv.NewMat()
	defer marker.Close()
	gocv.ArucoGenerateImageMarker(gocv.ArucoDict4x4_50, id, sidePx, marker, 1)

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(marker, &bgr, gocv.ColorGrayToBGR)

	region := frame.Region(image.Rect(x, y, x+sidePx, y+sidePx))
	defer region.Close()
	bgr.CopyTo(&region)
}

// squareCorners returns marker corners in detector order (top-left,
// top-right, bottom-right, bottom-left) for an axis-aligned square.
func squareCorners(x, y, side float32) []gocv.Point2f {
	return []gocv.Point2f{
		{X: x, Y: y},
		{X: x + side, Y: y},
		{X: x + side, Y: y + side},
		{X: x, Y: y + side},
	}
}

func TestAnalyzeMarker(t *testing.T) {
	t.Run("square marker", func(t *testing.T) {
		m, ok := analyzeMarker(7, squareCorners(100, 100, 100), 50)
		require.True(t, ok)

		assert.Equal(t, 7, m.ID)
		assert.InDelta(t, 100.0, m.SidePx, 1e-9)
		assert.InDelta(t, 0.5, m.MMPerPx, 1e-9)
		assert.False(t, m.Tilted)
		assert.InDelta(t, 150.0, m.Center.X, 1e-9)
		assert.InDelta(t, 150.0, m.Center.Y, 1e-9)
	})

	t.Run("trapezoid flags tilt", func(t *testing.T) {
		// Top side 120 px, bottom side 100 px: ratio 1.2 > 1.15.
		corners := []gocv.Point2f{
			{X: 90, Y: 100},
			{X: 210, Y: 100},
			{X: 200, Y: 200},
			{X: 100, Y: 200},
		}
		m, ok := analyzeMarker(3, corners, 50)
		require.True(t, ok)
		assert.True(t, m.Tilted)
	})

	t.Run("marker below the minimum side is rejected", func(t *testing.T) {
		_, ok := analyzeMarker(1, squareCorners(10, 10, 5), 50)
		assert.False(t, ok)
	})
}

func TestScaleEstimate(t *testing.T) {
	t.Run("single marker scores perfect stability", func(t *testing.T) {
		mm, stability := scaleEstimate([]float64{0.5})
		assert.InDelta(t, 0.5, mm, 1e-9)
		assert.Equal(t, 100.0, stability)
	})

	t.Run("identical markers agree perfectly", func(t *testing.T) {
		mm, stability := scaleEstimate([]float64{0.5, 0.5, 0.5})
		assert.InDelta(t, 0.5, mm, 1e-9)
		assert.InDelta(t, 100.0, stability, 1e-9)
	})

	t.Run("a 20 percent discrepancy degrades stability", func(t *testing.T) {
		mm, stability := scaleEstimate([]float64{0.5, 0.6})
		assert.InDelta(t, 0.55, mm, 1e-9)
		assert.Less(t, stability, 100.0)
		assert.GreaterOrEqual(t, stability, 0.0)
	})
}

func TestOppositeRatio(t *testing.T) {
	assert.InDelta(t, 1.2, oppositeRatio(120, 100), 1e-9)
	assert.InDelta(t, 1.2, oppositeRatio(100, 120), 1e-9)
	assert.True(t, math.IsInf(oppositeRatio(100, 0), 1))
}

func TestCalibrateInputValidation(t *testing.T) {
	c := New()
	defer c.Close()

	empty := gocv.NewMat()
	defer empty.Close()
	_, err := c.Calibrate(empty, 50)
	assert.Error(t, err)

	frame := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()
	_, err = c.Calibrate(frame, 0)
	assert.Error(t, err)
}

func TestCalibrateTwoMarkers(t *testing.T) {
	c := New()
	defer c.Close()

	// Two identical 400 px markers of 50 mm physical size on a white
	// background: mm/px must come out at 50/400 and the identical side
	// lengths leave no spread to penalize.
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 600, 1000, gocv.MatTypeCV8UC3)
	defer frame.Close()
	drawMarker(t, &frame, 1, 50, 100, 400)
	drawMarker(t, &frame, 7, 550, 100, 400)

	res, err := c.Calibrate(frame, 50)
	require.NoError(t, err)

	assert.Equal(t, 2, res.MarkerCount)
	assert.InEpsilon(t, 0.125, res.MMPerPx, 0.005)
	assert.InDelta(t, 100.0, res.Stability, 1e-9)
	assert.False(t, res.Tilted)

	ids := []int{res.Markers[0].ID, res.Markers[1].ID}
	assert.ElementsMatch(t, []int{1, 7}, ids)

	// One diagnostic pair with roughly the 500 px center spacing.
	require.Len(t, res.Pairs, 1)
	assert.InDelta(t, 500.0, res.Pairs[0].DistancePx, 5.0)
}

func TestCalibrateNoMarker(t *testing.T) {
	c := New()
	defer c.Close()

	// A flat gray frame has no markers; the error carries focus and
	// exposure diagnostics.
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()

	_, err := c.Calibrate(frame, 50)
	var noMarker *NoMarkerFoundError
	require.ErrorAs(t, err, &noMarker)
	assert.InDelta(t, 128.0, noMarker.Brightness, 2.0)
	assert.InDelta(t, 0.0, noMarker.BlurScore, 1.0)
}
