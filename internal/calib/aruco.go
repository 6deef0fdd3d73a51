// Package calib establishes the pixel-to-millimeter scale from ArUco
// fiducial markers and reports stability and tilt diagnostics alongside it.
package calib

import (
	"fmt"
	"math"

	"qc-detector/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// tiltRatio is the opposite-side length ratio above which a marker is
// considered tilted out of the camera plane.
const tiltRatio = 1.15

// minMarkerSidePx rejects markers too small to carry a usable scale.
const minMarkerSidePx = 10.0

// Marker is one detected fiducial.
type Marker struct {
	ID      int              `json:"id"`
	SidePx  float64          `json:"side_px"` // mean of the four side lengths
	Center  geometry.Point2D `json:"center"`
	Tilted  bool             `json:"tilted"`
	MMPerPx float64          `json:"mm_per_px"`
}

// PairDistance is the center-to-center pixel distance between two markers.
// Reported for diagnostics and future layout-based calibration; it does not
// participate in the mm/px estimate because the marker layout is not
// guaranteed known.
type PairDistance struct {
	IDA        int     `json:"id_a"`
	IDB        int     `json:"id_b"`
	DistancePx float64 `json:"distance_px"`
}

// Result is the outcome of one calibration request.
type Result struct {
	MMPerPx     float64        `json:"mm_per_px"`
	MarkerCount int            `json:"marker_count"`
	Markers     []Marker       `json:"markers"`
	Stability   float64        `json:"stability"` // [0,100], 100 = perfect agreement
	Tilted      bool           `json:"tilted"`    // true if any marker is tilted
	Pairs       []PairDistance `json:"pairs,omitempty"`
}

// NoMarkerFoundError reports a calibration frame with zero detectable
// markers, carrying focus and exposure diagnostics to help the operator.
type NoMarkerFoundError struct {
	BlurScore  float64 // variance of the Laplacian; low = blurry
	Brightness float64 // mean gray level
}

func (e *NoMarkerFoundError) Error() string {
	return fmt.Sprintf("no ArUco marker detected (blur score %.1f, brightness %.1f)",
		e.BlurScore, e.Brightness)
}

// Calibrator detects DICT_4X4_50 markers. Stateless apart from the
// underlying OpenCV detector; safe to reuse across frames from one
// goroutine.
type Calibrator struct {
	detector gocv.ArucoDetector
}

// New creates a Calibrator.
func New() *Calibrator {
	dict := gocv.GetPredefinedDictionary(gocv.ArucoDict4x4_50)
	params := gocv.NewArucoDetectorParameters()
	return &Calibrator{detector: gocv.NewArucoDetectorWithParams(dict, params)}
}

// Close releases the detector.
func (c *Calibrator) Close() {
	c.detector.Close()
}

// Calibrate detects all markers in a BGR frame and derives mm/px from the
// known physical marker size. The final ratio is the mean of the per-marker
// ratios; stability degrades with their spread:
//
//	stability = 100 - min(100, (stddev/mean)*1000)
//
// A single marker has no variance and scores 100 by definition.
func (c *Calibrator) Calibrate(frame gocv.Mat, markerSizeMM float64) (*Result, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}
	if markerSizeMM <= 0 {
		return nil, fmt.Errorf("marker size must be positive, got %.2f", markerSizeMM)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	corners, ids, _ := c.detector.DetectMarkers(gray)
	if len(ids) == 0 {
		blur, brightness := frameDiagnostics(gray)
		return nil, &NoMarkerFoundError{BlurScore: blur, Brightness: brightness}
	}

	res := &Result{}
	var ratios []float64
	for i, id := range ids {
		if len(corners[i]) != 4 {
			continue
		}
		m, ok := analyzeMarker(id, corners[i], markerSizeMM)
		if !ok {
			continue
		}
		res.Markers = append(res.Markers, m)
		ratios = append(ratios, m.MMPerPx)
		if m.Tilted {
			res.Tilted = true
		}
	}

	if len(ratios) == 0 {
		blur, brightness := frameDiagnostics(gray)
		return nil, &NoMarkerFoundError{BlurScore: blur, Brightness: brightness}
	}

	res.MarkerCount = len(res.Markers)
	res.MMPerPx, res.Stability = scaleEstimate(ratios)

	// Pairwise center distances: diagnostic only, see PairDistance.
	for i := 0; i < len(res.Markers); i++ {
		for j := i + 1; j < len(res.Markers); j++ {
			res.Pairs = append(res.Pairs, PairDistance{
				IDA:        res.Markers[i].ID,
				IDB:        res.Markers[j].ID,
				DistancePx: res.Markers[i].Center.Distance(res.Markers[j].Center),
			})
		}
	}

	return res, nil
}

// scaleEstimate averages the per-marker ratios and scores their agreement:
//
//	stability = 100 - min(100, (stddev/mean)*1000)
//
// A single ratio has no variance and scores 100 by definition.
func scaleEstimate(ratios []float64) (mmPerPx, stability float64) {
	mean, std := stat.MeanStdDev(ratios, nil)
	if len(ratios) < 2 || mean == 0 {
		return mean, 100
	}
	penalty := std / mean * 1000
	if penalty > 100 {
		penalty = 100
	}
	return mean, 100 - penalty
}

// analyzeMarker derives side length, center, tilt and scale for one marker.
// Corner order from the detector: top-left, top-right, bottom-right,
// bottom-left.
func analyzeMarker(id int, corners []gocv.Point2f, markerSizeMM float64) (Marker, bool) {
	pts := make([]geometry.Point2D, 4)
	for i, c := range corners {
		pts[i] = geometry.Point2D{X: float64(c.X), Y: float64(c.Y)}
	}

	sides := [4]float64{
		pts[0].Distance(pts[1]), // top
		pts[1].Distance(pts[2]), // right
		pts[2].Distance(pts[3]), // bottom
		pts[3].Distance(pts[0]), // left
	}

	avg := (sides[0] + sides[1] + sides[2] + sides[3]) / 4
	if avg < minMarkerSidePx {
		return Marker{}, false
	}

	return Marker{
		ID:      id,
		SidePx:  avg,
		Center:  geometry.Centroid(pts),
		Tilted:  oppositeRatio(sides[0], sides[2]) > tiltRatio || oppositeRatio(sides[1], sides[3]) > tiltRatio,
		MMPerPx: markerSizeMM / avg,
	}, true
}

// oppositeRatio returns the larger-over-smaller ratio of two opposite sides.
func oppositeRatio(a, b float64) float64 {
	if a == 0 || b == 0 {
		return math.Inf(1)
	}
	if a > b {
		return a / b
	}
	return b / a
}

// frameDiagnostics computes the Laplacian-variance focus score and mean
// brightness of a grayscale frame.
func frameDiagnostics(gray gocv.Mat) (blur, brightness float64) {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	meanMat := gocv.NewMat()
	defer meanMat.Close()
	stdMat := gocv.NewMat()
	defer stdMat.Close()
	gocv.MeanStdDev(lap, &meanMat, &stdMat)
	std := stdMat.GetDoubleAt(0, 0)

	return std * std, gray.Mean().Val1
}
