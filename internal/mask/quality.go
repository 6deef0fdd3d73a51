package mask

import (
	"image"
	"math"

	"qc-detector/pkg/geometry"

	"gocv.io/x/gocv"
)

// minScoreArea is the contour area floor below which a mask scores 0.
const minScoreArea = 1000.0

// Score rates a binary mask in [0,1] as a weighted blend of solidity
// (contour area / convex hull area) and compactness (isoperimetric ratio),
// both computed on the largest external contour:
//
//	score = 0.6*solidity + 0.4*compactness
//
// Returns 0 when the mask has no contour or its area is under 1000 px².
func Score(m gocv.Mat) float64 {
	contour := LargestContour(m)
	return ScoreContour(contour)
}

// ScoreContour rates a contour with the same formula as Score.
func ScoreContour(contour []image.Point) float64 {
	if len(contour) < 3 {
		return 0
	}

	pv := gocv.NewPointVectorFromPoints(contour)
	defer pv.Close()

	area := gocv.ContourArea(pv)
	if area < minScoreArea {
		return 0
	}
	perimeter := gocv.ArcLength(pv, true)
	if perimeter <= 0 {
		return 0
	}

	pts := make([]geometry.Point2D, len(contour))
	for i, p := range contour {
		pts[i] = geometry.Point2D{X: float64(p.X), Y: float64(p.Y)}
	}
	hull := geometry.ConvexHull(pts)
	hullArea := geometry.PolygonArea(hull)
	if hullArea <= 0 {
		return 0
	}

	solidity := area / hullArea
	if solidity > 1 {
		solidity = 1
	}
	compactness := 4 * math.Pi * area / (perimeter * perimeter)
	if compactness > 1 {
		compactness = 1
	}

	score := 0.6*solidity + 0.4*compactness
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// LargestContour returns the largest external contour of a binary mask, or
// nil if the mask has no foreground.
func LargestContour(m gocv.Mat) []image.Point {
	if m.Empty() {
		return nil
	}

	contours := gocv.FindContours(m, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var best []image.Point
	bestArea := -1.0
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area > bestArea {
			bestArea = area
			best = c.ToPoints()
		}
	}
	return best
}

// ForegroundArea returns the number of nonzero pixels in the mask.
func ForegroundArea(m gocv.Mat) int {
	if m.Empty() {
		return 0
	}
	return gocv.CountNonZero(m)
}

// IoU computes Intersection-over-Union between two binary masks of the same
// size. Returns 0 when the union is empty or sizes differ.
func IoU(a, b gocv.Mat) float64 {
	if a.Empty() || b.Empty() || a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return 0
	}

	inter := gocv.NewMat()
	defer inter.Close()
	gocv.BitwiseAnd(a, b, &inter)

	union := gocv.NewMat()
	defer union.Close()
	gocv.BitwiseOr(a, b, &union)

	u := gocv.CountNonZero(union)
	if u == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(inter)) / float64(u)
}
