// Package arbitrate reconciles neural segmentation output with the classical
// mask tournament. The single-stage path cross-validates one network's mask
// against a classical re-segmentation of its detection region; the two-stage
// path chains a detector into a prompted segmenter. Both degrade to the
// classical selector when models are unavailable.
package arbitrate

import (
	"fmt"
	"image"
	"log"
	"math"

	"qc-detector/internal/detect"
	"qc-detector/internal/mask"
	"qc-detector/internal/measure"
	"qc-detector/pkg/geometry"

	"gocv.io/x/gocv"
)

// Single-stage candidate filtering: masks covering most of the frame are
// background, masks covering almost none are noise.
const (
	singleMaxAreaRatio = 0.70
	singleMinAreaRatio = 0.01
	roiMargin          = 0.10
	agreementIoU       = 0.60
)

// Two-stage thresholds.
const (
	boxMaxAreaRatio  = 0.80
	boxMinAreaRatio  = 0.01
	boxMargin        = 0.03
	segMaxAreaRatio  = 0.85
	boxQualityGate   = 0.60
	pointQualityGate = 0.45
	rescueFloor      = 0.45
)

// NoDetectionError reports a frame where the two-stage pipeline produced no
// mask of acceptable quality even after the dark-object rescue. Expected and
// frequent in a live pipeline; callers skip the frame.
type NoDetectionError struct {
	Score float64
}

func (e *NoDetectionError) Error() string {
	return fmt.Sprintf("no usable detection (best mask score %.2f)", e.Score)
}

// Outcome is the arbitration result: the authoritative full-frame binary
// mask, its quality score, and the path that produced it. The caller owns
// the mask.
type Outcome struct {
	Mask   gocv.Mat
	Score  float64
	Method measure.Method
}

// Close releases the mask buffer.
func (o *Outcome) Close() {
	if !o.Mask.Empty() {
		o.Mask.Close()
	}
}

// modelSource is the registry surface the arbiter needs. Satisfied by
// *detect.Registry.
type modelSource interface {
	SegModel() (detect.MaskDetector, error)
	Detector() (detect.Detector, error)
	Segmenter() (detect.Segmenter, error)
}

// Arbiter runs the neural-assisted segmentation cascades. Not safe for
// concurrent use; each worker owns one.
type Arbiter struct {
	models   modelSource
	selector *mask.Selector
}

// New creates an Arbiter over a model registry.
func New(models *detect.Registry) *Arbiter {
	return &Arbiter{models: models, selector: mask.NewSelector()}
}

// Classical runs the extraction tournament alone, tagging the outcome with
// the given method (MethodClassical normally, MethodClassicalFallback when a
// network path degraded).
func (a *Arbiter) Classical(frame gocv.Mat, method measure.Method) *Outcome {
	m := a.selector.Select(frame)
	return &Outcome{Mask: m.Mat, Score: m.Score, Method: method}
}

// SingleStage runs the combined detection+segmentation network and
// cross-validates its best mask against a classical re-segmentation of the
// detection region. High overlap means both agree on the object, so the
// classical mask wins on edge sharpness; divergence (color camouflage) keeps
// the network mask.
func (a *Arbiter) SingleStage(frame gocv.Mat) (*Outcome, error) {
	model, err := a.models.SegModel()
	if err != nil {
		return a.Classical(frame, measure.MethodClassicalFallback), nil
	}

	dets, err := model.DetectMasks(frame)
	if err != nil {
		log.Printf("[arbitrate] single-stage inference failed: %v", err)
		return a.Classical(frame, measure.MethodClassicalFallback), nil
	}

	best, ok := bestMaskDetection(dets, frame)
	if !ok {
		closeDetections(dets, nil)
		return a.Classical(frame, measure.MethodClassicalFallback), nil
	}
	closeDetections(dets, &best)
	defer best.Close()

	roi := best.Box.Expand(roiMargin).ClampTo(float64(frame.Cols()), float64(frame.Rows()))
	rect := roi.ToInt()
	if rect.Empty() {
		return a.networkOutcome(frame, best.Mask)
	}

	r := image.Rect(rect.X, rect.Y, rect.X+rect.Width, rect.Y+rect.Height)

	region := frame.Region(r)
	crop := region.Clone()
	region.Close()
	defer crop.Close()

	classical := a.selector.Select(crop)
	defer classical.Close()

	netRegion := best.Mask.Region(r)
	agree := classicalAgrees(netRegion, classical.Mat)
	netRegion.Close()

	if agree {
		full := embed(classical.Mat, r, frame.Cols(), frame.Rows())
		return &Outcome{Mask: full, Score: classical.Score, Method: measure.MethodSingleStage}, nil
	}
	return a.networkOutcome(frame, best.Mask)
}

// classicalAgrees reports whether the classical mask should supersede the
// network mask: high overlap means both found the same object, and the
// classical mask has the sharper edges.
func classicalAgrees(netRegion, classical gocv.Mat) bool {
	return mask.IoU(netRegion, classical) > agreementIoU
}

// networkOutcome closes the network mask morphologically and adopts it,
// falling back to the classical selector when it is empty.
func (a *Arbiter) networkOutcome(frame, netMask gocv.Mat) (*Outcome, error) {
	closed := morphClose(netMask)
	if gocv.CountNonZero(closed) == 0 {
		closed.Close()
		return a.Classical(frame, measure.MethodClassicalFallback), nil
	}
	return &Outcome{Mask: closed, Score: mask.Score(closed), Method: measure.MethodSingleStage}, nil
}

// TwoStage runs the detector, prompts the segmenter with the winning box (or
// the frame center when the detector sees nothing), quality-gates the mask
// and tries the dark-object rescue when the gate fails.
func (a *Arbiter) TwoStage(frame gocv.Mat) (*Outcome, error) {
	segmenter, err := a.models.Segmenter()
	if err != nil {
		return a.Classical(frame, measure.MethodClassicalFallback), nil
	}

	var prompt detect.Prompt
	gate := pointQualityGate

	if detector, derr := a.models.Detector(); derr == nil {
		if box, ok := a.bestBox(detector, frame); ok {
			expanded := box.Expand(boxMargin).ClampTo(float64(frame.Cols()), float64(frame.Rows()))
			prompt.Box = &expanded
			gate = boxQualityGate
		}
	}
	if prompt.Box == nil {
		// Detector-blind fallback: the segmenter uses edge cues, not
		// color, so a center point prompt can still isolate the object.
		center := geometry.Point2D{X: float64(frame.Cols()) / 2, Y: float64(frame.Rows()) / 2}
		prompt.Point = &center
	}

	masks, err := segmenter.Segment(frame, prompt)
	if err != nil {
		log.Printf("[arbitrate] segmenter inference failed: %v", err)
		return a.Classical(frame, measure.MethodClassicalFallback), nil
	}

	chosen, ok := largestUsableMask(masks, frame)
	if !ok {
		return a.Classical(frame, measure.MethodClassicalFallback), nil
	}

	netScore := mask.Score(chosen)
	if netScore >= gate {
		return &Outcome{Mask: chosen, Score: netScore, Method: measure.MethodTwoStage}, nil
	}

	// A sub-gate network mask is never adopted. The rescue mask must both
	// beat it and clear the rescue floor, otherwise the frame has no
	// usable detection.
	rescue := mask.DarkObject(frame)
	if rescue.Score > netScore && rescue.Score > rescueFloor {
		chosen.Close()
		return &Outcome{Mask: rescue.Mat, Score: rescue.Score, Method: measure.MethodDarkRescue}, nil
	}
	rescue.Close()
	chosen.Close()
	return nil, &NoDetectionError{Score: netScore}
}

// bestBox filters and scores detector output:
// 0.4*area_ratio + 0.3*center_score + 0.3*confidence.
func (a *Arbiter) bestBox(detector detect.Detector, frame gocv.Mat) (geometry.Rect, bool) {
	dets, err := detector.Detect(frame)
	if err != nil {
		log.Printf("[arbitrate] detector inference failed: %v", err)
		return geometry.Rect{}, false
	}

	frameArea := float64(frame.Cols() * frame.Rows())
	bestScore := -1.0
	var best geometry.Rect
	for _, d := range dets {
		ratio := d.Box.Area() / frameArea
		if ratio > boxMaxAreaRatio || ratio < boxMinAreaRatio {
			continue
		}
		score := 0.4*ratio + 0.3*centerScore(d.Box.Center(), frame) + 0.3*d.Confidence
		if score > bestScore {
			bestScore = score
			best = d.Box
		}
	}
	return best, bestScore >= 0
}

// bestMaskDetection filters single-stage candidates by foreground-area ratio
// and scores the survivors: 0.7*area_ratio + 0.3*center_proximity.
func bestMaskDetection(dets []detect.MaskDetection, frame gocv.Mat) (detect.MaskDetection, bool) {
	frameArea := float64(frame.Cols() * frame.Rows())
	bestScore := -1.0
	bestIdx := -1
	for i := range dets {
		ratio := float64(gocv.CountNonZero(dets[i].Mask)) / frameArea
		if ratio > singleMaxAreaRatio || ratio < singleMinAreaRatio {
			continue
		}
		centroid, ok := maskCentroid(dets[i].Mask)
		if !ok {
			continue
		}
		score := 0.7*ratio + 0.3*centerScore(centroid, frame)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return detect.MaskDetection{}, false
	}
	return dets[bestIdx], true
}

// largestUsableMask keeps the largest segmenter mask whose foreground covers
// at most 85% of the frame, releasing the rest.
func largestUsableMask(masks []gocv.Mat, frame gocv.Mat) (gocv.Mat, bool) {
	frameArea := float64(frame.Cols() * frame.Rows())
	bestArea := -1
	bestIdx := -1
	for i, m := range masks {
		area := gocv.CountNonZero(m)
		if float64(area)/frameArea > segMaxAreaRatio {
			continue
		}
		if area > bestArea {
			bestArea = area
			bestIdx = i
		}
	}
	for i, m := range masks {
		if i != bestIdx {
			m.Close()
		}
	}
	if bestIdx < 0 {
		return gocv.Mat{}, false
	}
	return masks[bestIdx], true
}

// centerScore is 1 minus the distance from the frame center, normalized by
// the half-diagonal.
func centerScore(p geometry.Point2D, frame gocv.Mat) float64 {
	cx := float64(frame.Cols()) / 2
	cy := float64(frame.Rows()) / 2
	halfDiag := math.Hypot(cx, cy)
	if halfDiag == 0 {
		return 0
	}
	s := 1 - math.Hypot(p.X-cx, p.Y-cy)/halfDiag
	if s < 0 {
		return 0
	}
	return s
}

// maskCentroid locates the foreground centroid via image moments.
func maskCentroid(m gocv.Mat) (geometry.Point2D, bool) {
	moments := gocv.Moments(m, true)
	m00 := moments["m00"]
	if m00 == 0 {
		return geometry.Point2D{}, false
	}
	return geometry.Point2D{X: moments["m10"] / m00, Y: moments["m01"] / m00}, true
}

// morphClose fills small gaps in a network mask before contour extraction.
func morphClose(m gocv.Mat) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(5, 5))
	defer kernel.Close()
	out := gocv.NewMat()
	gocv.MorphologyExWithParams(m, &out, gocv.MorphClose, kernel, 3, gocv.BorderConstant)
	return out
}

// embed copies an ROI-sized mask into a zeroed full-frame canvas at the ROI
// position.
func embed(roiMask gocv.Mat, r image.Rectangle, w, h int) gocv.Mat {
	full := gocv.Zeros(h, w, gocv.MatTypeCV8UC1)
	region := full.Region(r)
	roiMask.CopyTo(&region)
	region.Close()
	return full
}

// closeDetections releases every detection mask except the kept one.
func closeDetections(dets []detect.MaskDetection, keep *detect.MaskDetection) {
	for i := range dets {
		if keep != nil && dets[i].Mask.Ptr() == keep.Mask.Ptr() {
			continue
		}
		dets[i].Close()
	}
}
