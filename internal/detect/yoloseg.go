package detect

import (
	"fmt"
	"image"
	"math"
	"sort"

	"qc-detector/pkg/geometry"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

// Segmentation decode parameters. The prompted segmenter casts a wider net
// than the single-stage model and lets the prompt narrow the candidates.
const (
	segCoeffs     = 32
	segConf       = 0.25
	promptConf    = 0.15
	promptMinIoU  = 0.25
	maskThreshold = 0.5
)

// yoloSeg runs a YOLO segmentation model: output 0 carries boxes plus mask
// coefficients [1, 4+nc+32, anchors], output 1 the mask prototypes
// [1, 32, mh, mw].
type yoloSeg struct {
	s *onnxSession
}

func newYOLOSeg(path string) (*yoloSeg, error) {
	s, err := newONNXSession(path)
	if err != nil {
		return nil, err
	}
	if len(s.outputNames) < 2 {
		_ = s.close()
		return nil, fmt.Errorf("segmentation model has %d outputs, need 2", len(s.outputNames))
	}
	return &yoloSeg{s: s}, nil
}

func (m *yoloSeg) Close() error {
	return m.s.close()
}

// DetectMasks returns NMS-filtered detections with their binary masks at
// frame resolution. Callers own the returned mask Mats.
func (m *yoloSeg) DetectMasks(frame gocv.Mat) ([]MaskDetection, error) {
	return m.detectMasks(frame, segConf)
}

func (m *yoloSeg) detectMasks(frame gocv.Mat, conf float32) ([]MaskDetection, error) {
	input, lb, err := prepareInput(frame)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	outputs, err := m.s.run(input)
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	boxTensor, err := floatTensor(outputs[0])
	if err != nil {
		return nil, err
	}
	protoTensor, err := floatTensor(outputs[1])
	if err != nil {
		return nil, err
	}

	boxes, attrs, err := decodeBoxes(boxTensor, segCoeffs, conf)
	if err != nil {
		return nil, err
	}
	kept := nms(boxes)

	dets := make([]MaskDetection, 0, len(kept))
	for _, b := range kept {
		coeffs := anchorAttrs(boxTensor, b.anchor, attrs-segCoeffs, segCoeffs)
		mask, err := assembleMask(protoTensor, coeffs, b, lb)
		if err != nil {
			for i := range dets {
				dets[i].Close()
			}
			return nil, err
		}
		dets = append(dets, MaskDetection{
			Mask:       mask,
			Box:        boxToFrame(b, lb),
			Confidence: float64(b.conf),
		})
	}
	return dets, nil
}

// anchorAttrs reads count consecutive attributes for one anchor from a
// [1, attrs, anchors] tensor or its transpose.
func anchorAttrs(t *ort.Tensor[float32], anchor, from, count int) []float32 {
	shape := t.GetShape()
	attrs := int(shape[1])
	anchors := int(shape[2])
	transposed := false
	if attrs > anchors {
		attrs, anchors = anchors, attrs
		transposed = true
	}

	data := t.GetData()
	out := make([]float32, count)
	for i := 0; i < count; i++ {
		if transposed {
			out[i] = data[anchor*attrs+from+i]
		} else {
			out[i] = data[(from+i)*anchors+anchor]
		}
	}
	return out
}

// assembleMask combines the mask prototypes with one anchor's coefficients,
// thresholds the sigmoid response, crops it to the detection box and scales
// the result to frame resolution.
func assembleMask(protos *ort.Tensor[float32], coeffs []float32, b rawBox, lb letterbox) (gocv.Mat, error) {
	shape := protos.GetShape()
	if len(shape) != 4 || shape[0] != 1 || int(shape[1]) != len(coeffs) {
		return gocv.Mat{}, fmt.Errorf("unexpected prototype shape %v", shape)
	}
	mh := int(shape[2])
	mw := int(shape[3])
	data := protos.GetData()
	plane := mh * mw

	// Box bounds in prototype space.
	sx := float32(mw) / float32(yoloInputSize)
	sy := float32(mh) / float32(yoloInputSize)
	px1 := int((b.cx - b.w/2) * sx)
	py1 := int((b.cy - b.h/2) * sy)
	px2 := int(math.Ceil(float64((b.cx + b.w/2) * sx)))
	py2 := int(math.Ceil(float64((b.cy + b.h/2) * sy)))

	protoMask := gocv.NewMatWithSize(mh, mw, gocv.MatTypeCV8UC1)
	for y := py1; y < py2; y++ {
		if y < 0 || y >= mh {
			continue
		}
		for x := px1; x < px2; x++ {
			if x < 0 || x >= mw {
				continue
			}
			var sum float32
			for k, c := range coeffs {
				sum += c * data[k*plane+y*mw+x]
			}
			if sigmoid(sum) > maskThreshold {
				protoMask.SetUCharAt(y, x, 255)
			}
		}
	}

	// Prototype space -> network space -> un-padded frame space.
	netMask := gocv.NewMat()
	gocv.Resize(protoMask, &netMask, image.Pt(yoloInputSize, yoloInputSize), 0, 0, gocv.InterpolationLinear)
	protoMask.Close()

	newW := int(float64(lb.frameW) * lb.scale)
	newH := int(float64(lb.frameH) * lb.scale)
	region := netMask.Region(image.Rect(
		int(lb.padX), int(lb.padY),
		int(lb.padX)+newW, int(lb.padY)+newH,
	))

	frameMask := gocv.NewMat()
	gocv.Resize(region, &frameMask, image.Pt(lb.frameW, lb.frameH), 0, 0, gocv.InterpolationLinear)
	region.Close()
	netMask.Close()

	binary := gocv.NewMat()
	gocv.Threshold(frameMask, &binary, 127, 255, gocv.ThresholdBinary)
	frameMask.Close()

	return binary, nil
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// promptSegmenter wraps a class-agnostic segmentation model and filters its
// candidate masks by a box or point prompt.
type promptSegmenter struct {
	seg *yoloSeg
}

func newPromptSegmenter(path string) (*promptSegmenter, error) {
	seg, err := newYOLOSeg(path)
	if err != nil {
		return nil, err
	}
	return &promptSegmenter{seg: seg}, nil
}

func (p *promptSegmenter) Close() error {
	return p.seg.Close()
}

// Segment returns candidate masks ordered by relevance to the prompt. With
// a box prompt, candidates whose boxes overlap the prompt survive (or the
// single best overlap when none clears the floor); with a point prompt,
// masks covering the point survive. Without a prompt all candidates are
// returned largest-first.
func (p *promptSegmenter) Segment(frame gocv.Mat, prompt Prompt) ([]gocv.Mat, error) {
	dets, err := p.seg.detectMasks(frame, promptConf)
	if err != nil {
		return nil, err
	}

	switch {
	case prompt.Box != nil:
		return takeByBox(dets, *prompt.Box), nil
	case prompt.Point != nil:
		return takeByPoint(dets, *prompt.Point), nil
	default:
		sort.Slice(dets, func(i, j int) bool {
			return dets[i].Box.Area() > dets[j].Box.Area()
		})
		masks := make([]gocv.Mat, len(dets))
		for i := range dets {
			masks[i] = dets[i].Mask
		}
		return masks, nil
	}
}

// takeByBox keeps masks whose detection box overlaps the prompt box,
// best-overlap first. Releases the masks it discards.
func takeByBox(dets []MaskDetection, box geometry.Rect) []gocv.Mat {
	type scored struct {
		mask gocv.Mat
		iou  float64
	}
	candidates := make([]scored, len(dets))
	for i := range dets {
		candidates[i] = scored{mask: dets[i].Mask, iou: rectIoU(dets[i].Box, box)}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].iou > candidates[j].iou
	})

	var masks []gocv.Mat
	for i, c := range candidates {
		if c.iou >= promptMinIoU || (i == 0 && c.iou > 0) {
			masks = append(masks, c.mask)
		} else {
			c.mask.Close()
		}
	}
	return masks
}

// takeByPoint keeps masks covering the prompt point. Releases the rest.
func takeByPoint(dets []MaskDetection, pt geometry.Point2D) []gocv.Mat {
	x := int(pt.X)
	y := int(pt.Y)
	var masks []gocv.Mat
	for i := range dets {
		m := dets[i].Mask
		if y >= 0 && y < m.Rows() && x >= 0 && x < m.Cols() && m.GetUCharAt(y, x) > 0 {
			masks = append(masks, m)
		} else {
			m.Close()
		}
	}
	sort.Slice(masks, func(i, j int) bool {
		return gocv.CountNonZero(masks[i]) > gocv.CountNonZero(masks[j])
	})
	return masks
}

// rectIoU is intersection-over-union of two axis-aligned boxes.
func rectIoU(a, b geometry.Rect) float64 {
	inter := a.Intersect(b).Area()
	if inter <= 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
