package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocv.io/x/gocv"
)

func testFrame(t *testing.T, w, h int) *Frame {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 60, 90, 0), h, w, gocv.MatTypeCV8UC3)
	f := FromMat(mat, time.Now())
	t.Cleanup(f.Close)
	return f
}

func TestTransformCrop(t *testing.T) {
	src := testFrame(t, 200, 100)

	cfg := TransformConfig{
		CropLeftPct:   10,
		CropRightPct:  10,
		CropTopPct:    25,
		CropBottomPct: 25,
	}
	normalized, raw := Transform(src, cfg)
	defer normalized.Close()
	defer raw.Close()

	assert.Equal(t, 160, normalized.Width())
	assert.Equal(t, 50, normalized.Height())

	// The raw frame keeps the pre-crop view for calibration.
	assert.Equal(t, 200, raw.Width())
	assert.Equal(t, 100, raw.Height())
}

func TestTransformOutputNeverGrows(t *testing.T) {
	src := testFrame(t, 120, 90)

	configs := []TransformConfig{
		{},
		{CropLeftPct: 5},
		{CropLeftPct: 49, CropRightPct: 49, CropTopPct: 49, CropBottomPct: 49},
		{CropTopPct: 33, Rotation: Rotate180},
	}
	for _, cfg := range configs {
		normalized, raw := Transform(src, cfg)
		assert.LessOrEqual(t, normalized.Width(), src.Width())
		assert.LessOrEqual(t, normalized.Height(), src.Height())
		assert.Positive(t, normalized.Width())
		assert.Positive(t, normalized.Height())
		normalized.Close()
		raw.Close()
	}
}

func TestTransformCropPercentagesClamped(t *testing.T) {
	src := testFrame(t, 100, 100)

	// 80% per edge clamps to 49%, leaving a 2% window.
	cfg := TransformConfig{CropLeftPct: 80, CropRightPct: 80}
	normalized, raw := Transform(src, cfg)
	defer normalized.Close()
	defer raw.Close()

	assert.Equal(t, 2, normalized.Width())
	assert.Equal(t, 100, normalized.Height())
}

func TestTransformFourRotationsRestoreDimensions(t *testing.T) {
	src := testFrame(t, 160, 90)

	cfg := TransformConfig{Rotation: Rotate90}
	current := src.Clone()
	for i := 0; i < 4; i++ {
		normalized, raw := Transform(current, cfg)
		raw.Close()
		current.Close()
		current = normalized
	}
	defer current.Close()

	assert.Equal(t, src.Width(), current.Width())
	assert.Equal(t, src.Height(), current.Height())
}

func TestTransformRotationSwapsDimensions(t *testing.T) {
	src := testFrame(t, 160, 90)

	normalized, raw := Transform(src, TransformConfig{Rotation: Rotate90})
	defer normalized.Close()
	defer raw.Close()

	assert.Equal(t, 90, normalized.Width())
	assert.Equal(t, 160, normalized.Height())
}

func TestTransformAspectCorrection(t *testing.T) {
	t.Run("near-unity ratio is a no-op", func(t *testing.T) {
		src := testFrame(t, 100, 50)
		normalized, raw := Transform(src, TransformConfig{AspectRatio: 1.005})
		defer normalized.Close()
		defer raw.Close()

		assert.Equal(t, 100, normalized.Width())
	})

	t.Run("ratio resamples horizontally only", func(t *testing.T) {
		src := testFrame(t, 100, 50)
		normalized, raw := Transform(src, TransformConfig{AspectRatio: 0.5})
		defer normalized.Close()
		defer raw.Close()

		assert.Equal(t, 50, normalized.Width())
		assert.Equal(t, 50, normalized.Height())
	})
}

func TestTransformDoesNotAliasSource(t *testing.T) {
	src := testFrame(t, 64, 64)

	normalized, raw := Transform(src, TransformConfig{})
	defer normalized.Close()
	defer raw.Close()

	require.False(t, normalized.Empty())
	assert.NotEqual(t, src.Mat().Ptr(), normalized.Mat().Ptr())
	assert.NotEqual(t, src.Mat().Ptr(), raw.Mat().Ptr())
}

func TestTransformConfigNormalized(t *testing.T) {
	cfg := TransformConfig{CropLeftPct: -5, CropRightPct: 200}.Normalized()

	assert.Equal(t, 0.0, cfg.CropLeftPct)
	assert.Equal(t, 49.0, cfg.CropRightPct)
	assert.Equal(t, 1.0, cfg.AspectRatio)
}
