package annotate

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qc-detector/internal/measure"
	"qc-detector/internal/pipeline"

	"gocv.io/x/gocv"
)

func TestDrawOverlay(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 400, 600, gocv.MatTypeCV8UC3)
	defer frame.Close()

	lengthMM := 200.0
	widthMM := 50.0
	res := &pipeline.Result{
		Measurement: measure.Result{
			PxLength:     800,
			PxWidth:      200,
			RealLengthMM: &lengthMM,
			RealWidthMM:  &widthMM,
			Verdict:      measure.VerdictPass,
			Method:       measure.MethodClassical,
			MethodName:   "classical",
		},
		Contour: []image.Point{
			{X: 100, Y: 100}, {X: 500, Y: 100},
			{X: 500, Y: 300}, {X: 100, Y: 300},
		},
	}

	out := Draw(frame, res)
	defer out.Close()

	require.Equal(t, frame.Rows(), out.Rows())
	require.Equal(t, frame.Cols(), out.Cols())

	// Something was drawn.
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(frame, out, &diff)
	sum := diff.Sum()
	assert.Greater(t, sum.Val1+sum.Val2+sum.Val3, 0.0)

	// The source frame itself is untouched.
	assert.Equal(t, uint8(40), frame.GetUCharAt(100, 100*3))
}

func TestDrawWithoutResultIsAPlainCopy(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()

	out := Draw(frame, nil)
	defer out.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(frame, out, &diff)
	sum := diff.Sum()
	assert.Equal(t, 0.0, sum.Val1+sum.Val2+sum.Val3)
}

func TestCaptionFor(t *testing.T) {
	lengthMM := 231.4
	widthMM := 88.2
	withMM := measure.Result{
		RealLengthMM: &lengthMM,
		RealWidthMM:  &widthMM,
		Verdict:      measure.VerdictPass,
		MethodName:   "two-stage",
	}
	assert.Contains(t, captionFor(withMM), "231.4")
	assert.Contains(t, captionFor(withMM), "PASS")

	pxOnly := measure.Result{PxLength: 812, PxWidth: 195, MethodName: "classical"}
	assert.Contains(t, captionFor(pxOnly), "812")
	assert.Contains(t, captionFor(pxOnly), "px")
}
