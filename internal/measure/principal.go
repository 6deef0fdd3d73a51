package measure

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Tail regression parameters: the lowest and highest tailFrac of sorted
// projections (at least minTailPoints each) are regressed against their
// rank index and extrapolated to the boundary indices -0.5 and n-0.5.
const (
	tailFrac      = 0.05
	minTailPoints = 10
)

// principalAxisLength estimates object length by projecting every contour
// point onto the principal axis of the point cloud (largest-eigenvalue
// eigenvector of the covariance matrix), then regressing the sorted
// projection tails to sub-pixel endpoints. A single stray boundary pixel
// shifts a tail regression far less than it shifts min/max, which is what
// makes this preferable to the raw bounding rectangle in photo mode.
func principalAxisLength(contour []image.Point) (float64, bool) {
	n := len(contour)
	if n < 2*minTailPoints {
		return 0, false
	}

	var meanX, meanY float64
	for _, p := range contour {
		meanX += float64(p.X)
		meanY += float64(p.Y)
	}
	meanX /= float64(n)
	meanY /= float64(n)

	data := make([]float64, 0, 2*n)
	for _, p := range contour {
		data = append(data, float64(p.X)-meanX, float64(p.Y)-meanY)
	}
	pts := mat.NewDense(n, 2, data)

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, pts, nil)

	var eig mat.EigenSym
	if !eig.Factorize(&cov, true) {
		return 0, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// EigenSym orders eigenvalues ascending; the principal axis is the
	// last column.
	ax := vecs.At(0, 1)
	ay := vecs.At(1, 1)
	norm := math.Hypot(ax, ay)
	if norm == 0 {
		return 0, false
	}
	ax /= norm
	ay /= norm

	proj := make([]float64, n)
	for i, p := range contour {
		proj[i] = (float64(p.X)-meanX)*ax + (float64(p.Y)-meanY)*ay
	}
	sort.Float64s(proj)

	k := int(float64(n) * tailFrac)
	if k < minTailPoints {
		k = minTailPoints
	}
	if 2*k > n {
		return 0, false
	}

	left := extrapolateTail(proj[:k], 0, -0.5)
	right := extrapolateTail(proj[n-k:], float64(n-k), float64(n)-0.5)

	length := right - left
	if length <= 0 || math.IsNaN(length) {
		return 0, false
	}
	return length, true
}

// extrapolateTail fits projection values against their global rank index
// and evaluates the fit at the boundary index.
func extrapolateTail(tail []float64, firstRank, boundary float64) float64 {
	xs := make([]float64, len(tail))
	for i := range tail {
		xs[i] = firstRank + float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, tail, nil, false)
	return alpha + beta*boundary
}
