// Package annotate draws measurement overlays for display and audit. The
// overlay is cosmetic; nothing downstream consumes it.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"qc-detector/internal/measure"
	"qc-detector/internal/pipeline"
	"qc-detector/pkg/colorutil"
	"qc-detector/pkg/geometry"

	"gocv.io/x/gocv"
)

// Per-method overlay colors, so the operator can see at a glance which
// detection path produced the contour.
var methodColors = map[measure.Method]color.RGBA{
	measure.MethodClassical:         colorutil.Cyan,
	measure.MethodClassicalFallback: colorutil.Cyan,
	measure.MethodSingleStage:       colorutil.Orange,
	measure.MethodTwoStage:          colorutil.Magenta,
	measure.MethodDarkRescue:        colorutil.Yellow,
}

var verdictColors = map[measure.Verdict]color.RGBA{
	measure.VerdictPass:    colorutil.Green,
	measure.VerdictFail:    colorutil.Red,
	measure.VerdictUnknown: colorutil.Gray,
}

// Draw returns a copy of the frame with the measured contour, its bounding
// box and a measurement caption drawn on. The caller owns the returned Mat.
func Draw(frame gocv.Mat, res *pipeline.Result) gocv.Mat {
	out := frame.Clone()
	if res == nil || len(res.Contour) == 0 {
		return out
	}

	c := methodColors[res.Measurement.Method]

	contours := gocv.NewPointsVectorFromPoints([][]image.Point{res.Contour})
	gocv.DrawContours(&out, contours, 0, c, 2)
	contours.Close()

	pts := make([]geometry.Point2D, len(res.Contour))
	for i, p := range res.Contour {
		pts[i] = geometry.Point2D{X: float64(p.X), Y: float64(p.Y)}
	}
	box := geometry.BoundingBox(pts).ToInt()
	gocv.Rectangle(&out, image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height), c, 1)

	caption := captionFor(res.Measurement)
	org := image.Pt(box.X, box.Y-10)
	if org.Y < 20 {
		org.Y = box.Y + box.Height + 25
	}
	gocv.PutText(&out, caption, org, gocv.FontHersheySimplex, 0.7,
		verdictColors[res.Measurement.Verdict], 2)

	return out
}

// captionFor formats the measurement in millimeters when calibrated,
// otherwise in pixels.
func captionFor(m measure.Result) string {
	if m.RealLengthMM != nil && m.RealWidthMM != nil {
		return fmt.Sprintf("%.1f x %.1f mm [%s] %s",
			*m.RealLengthMM, *m.RealWidthMM, m.MethodName, m.Verdict)
	}
	return fmt.Sprintf("%.0f x %.0f px [%s]", m.PxLength, m.PxWidth, m.MethodName)
}
