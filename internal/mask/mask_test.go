package mask

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocv.io/x/gocv"
)

// objectFrame builds a green background with a filled red rectangle, a scene
// the chroma strategy separates cleanly.
func objectFrame(t *testing.T, w, h int, obj image.Rectangle) gocv.Mat {
	t.Helper()
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 200, 0, 0), h, w, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&frame, obj, color.RGBA{R: 200, A: 255}, -1)
	t.Cleanup(func() { frame.Close() })
	return frame
}

func rectMask(t *testing.T, w, h int, obj image.Rectangle) gocv.Mat {
	t.Helper()
	m := gocv.Zeros(h, w, gocv.MatTypeCV8UC1)
	gocv.Rectangle(&m, obj, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSelectIsDeterministic(t *testing.T) {
	frame := objectFrame(t, 400, 300, image.Rect(100, 75, 300, 225))

	first := Select(frame)
	defer first.Close()
	second := Select(frame)
	defer second.Close()

	assert.Equal(t, first.Strategy, second.Strategy)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, gocv.CountNonZero(first.Mat), gocv.CountNonZero(second.Mat))
}

func TestSelectShortCircuitsOnStrongChroma(t *testing.T) {
	frame := objectFrame(t, 400, 300, image.Rect(100, 75, 300, 225))

	s := NewSelector()
	m := s.Select(frame)
	defer m.Close()

	require.Greater(t, m.Score, 0.65)
	assert.Equal(t, StrategyChroma, m.Strategy)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Chroma)
	assert.Equal(t, 0, stats.Saturation, "saturation strategy must not run after a chroma short-circuit")
	assert.Equal(t, 0, stats.Lightness)
}

func TestSelectFindsTheObject(t *testing.T) {
	obj := image.Rect(100, 75, 300, 225)
	frame := objectFrame(t, 400, 300, obj)

	m := Select(frame)
	defer m.Close()

	want := (obj.Dx()) * (obj.Dy())
	got := gocv.CountNonZero(m.Mat)
	assert.InDelta(t, want, got, float64(want)*0.05)
}

func TestScore(t *testing.T) {
	t.Run("empty mask scores zero", func(t *testing.T) {
		m := gocv.Zeros(100, 100, gocv.MatTypeCV8UC1)
		defer m.Close()
		assert.Equal(t, 0.0, Score(m))
	})

	t.Run("mask under the area floor scores zero", func(t *testing.T) {
		m := rectMask(t, 200, 200, image.Rect(10, 10, 40, 40))
		assert.Equal(t, 0.0, Score(m))
	})

	t.Run("solid rectangle scores in (0,1]", func(t *testing.T) {
		m := rectMask(t, 400, 300, image.Rect(50, 50, 350, 250))
		s := Score(m)
		assert.Greater(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	})

	t.Run("circle outscores a star of equal coverage class", func(t *testing.T) {
		circle := gocv.Zeros(300, 300, gocv.MatTypeCV8UC1)
		defer circle.Close()
		gocv.Circle(&circle, image.Pt(150, 150), 80, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

		jagged := rectMask(t, 300, 300, image.Rect(50, 140, 250, 160))
		gocv.Rectangle(&jagged, image.Rect(140, 50, 160, 250), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

		assert.Greater(t, Score(circle), Score(jagged))
	})
}

func TestLargestContour(t *testing.T) {
	m := rectMask(t, 400, 300, image.Rect(50, 50, 250, 150))
	gocv.Rectangle(&m, image.Rect(300, 200, 340, 240), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	contour := LargestContour(m)
	require.NotEmpty(t, contour)

	// The contour must outline the big rectangle, not the small one.
	pv := gocv.NewPointVectorFromPoints(contour)
	defer pv.Close()
	area := gocv.ContourArea(pv)
	assert.InDelta(t, 200*100, area, 200*100*0.05)
}

func TestIoU(t *testing.T) {
	t.Run("identical masks give 1", func(t *testing.T) {
		a := rectMask(t, 200, 200, image.Rect(20, 20, 120, 120))
		b := rectMask(t, 200, 200, image.Rect(20, 20, 120, 120))
		assert.InDelta(t, 1.0, IoU(a, b), 1e-9)
	})

	t.Run("disjoint masks give 0", func(t *testing.T) {
		a := rectMask(t, 200, 200, image.Rect(0, 0, 50, 50))
		b := rectMask(t, 200, 200, image.Rect(100, 100, 150, 150))
		assert.Equal(t, 0.0, IoU(a, b))
	})

	t.Run("half overlap", func(t *testing.T) {
		a := rectMask(t, 200, 200, image.Rect(0, 0, 100, 100))
		b := rectMask(t, 200, 200, image.Rect(50, 0, 150, 100))
		// inter 50x100, union 150x100
		assert.InDelta(t, 1.0/3.0, IoU(a, b), 0.01)
	})

	t.Run("size mismatch gives 0", func(t *testing.T) {
		a := rectMask(t, 100, 100, image.Rect(0, 0, 50, 50))
		b := rectMask(t, 200, 200, image.Rect(0, 0, 50, 50))
		assert.Equal(t, 0.0, IoU(a, b))
	})
}

func TestFillHolesMakesMaskSolid(t *testing.T) {
	// A thick ring: hollow interior must come out solid.
	m := gocv.Zeros(300, 300, gocv.MatTypeCV8UC1)
	defer m.Close()
	gocv.Circle(&m, image.Pt(150, 150), 100, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 20)

	before := gocv.CountNonZero(m)
	fillHoles(&m)
	after := gocv.CountNonZero(m)

	assert.Greater(t, after, before)
	// Interior pixel is now foreground.
	assert.Equal(t, uint8(255), m.GetUCharAt(150, 150))
}

func TestDarkObjectRescue(t *testing.T) {
	// Dark gray object on a bright background, the case the tournament
	// strategies wash out.
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(230, 230, 230, 0), 300, 400, gocv.MatTypeCV8UC3)
	defer frame.Close()
	gocv.Rectangle(&frame, image.Rect(100, 75, 300, 225), color.RGBA{R: 25, G: 25, B: 25, A: 255}, -1)

	m := DarkObject(frame)
	defer m.Close()

	assert.Equal(t, StrategyDark, m.Strategy)
	assert.Greater(t, gocv.CountNonZero(m.Mat), 0)
}
