package detect

import (
	"fmt"
	"image"
	"math"

	"qc-detector/pkg/geometry"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

// Detection decode thresholds.
const (
	detectorConf = 0.25
	nmsThreshold = 0.45
)

// rawBox is one decoded anchor before NMS, in network (letterbox) space.
type rawBox struct {
	cx, cy, w, h float32
	conf         float32
	anchor       int
}

// yoloDetector runs a YOLO detection model (output [1, 4+nc, anchors]).
type yoloDetector struct {
	s *onnxSession
}

func newYOLODetector(path string) (*yoloDetector, error) {
	s, err := newONNXSession(path)
	if err != nil {
		return nil, err
	}
	return &yoloDetector{s: s}, nil
}

func (d *yoloDetector) Close() error {
	return d.s.close()
}

// Detect returns NMS-filtered boxes in frame coordinates.
func (d *yoloDetector) Detect(frame gocv.Mat) ([]Detection, error) {
	input, lb, err := prepareInput(frame)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	outputs, err := d.s.run(input)
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	t, err := floatTensor(outputs[0])
	if err != nil {
		return nil, err
	}

	boxes, _, err := decodeBoxes(t, 0, float32(detectorConf))
	if err != nil {
		return nil, err
	}
	kept := nms(boxes)

	dets := make([]Detection, 0, len(kept))
	for _, b := range kept {
		dets = append(dets, Detection{
			Box:        boxToFrame(b, lb),
			Confidence: float64(b.conf),
		})
	}
	return dets, nil
}

// decodeBoxes reads a YOLO output tensor shaped [1, 4+nc+extra, anchors]
// (or its transpose) and returns anchors whose best class score clears the
// confidence threshold. extra trailing attributes (mask coefficients) are
// ignored here; callers that need them read the tensor again by anchor
// index.
func decodeBoxes(t *ort.Tensor[float32], extra int, conf float32) ([]rawBox, int, error) {
	shape := t.GetShape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, 0, fmt.Errorf("unexpected detection output shape %v", shape)
	}

	attrs := int(shape[1])
	anchors := int(shape[2])
	transposed := false
	// Some exports emit [1, anchors, attrs]. Attributes are always the
	// smaller dimension for realistic anchor counts.
	if attrs > anchors {
		attrs, anchors = anchors, attrs
		transposed = true
	}

	classes := attrs - 4 - extra
	if classes < 1 {
		return nil, 0, fmt.Errorf("detection output has %d attributes, need > %d", attrs, 4+extra)
	}

	data := t.GetData()
	at := func(attr, anchor int) float32 {
		if transposed {
			return data[anchor*attrs+attr]
		}
		return data[attr*anchors+anchor]
	}

	var boxes []rawBox
	for a := 0; a < anchors; a++ {
		best := float32(0)
		for c := 0; c < classes; c++ {
			if s := at(4+c, a); s > best {
				best = s
			}
		}
		if best < conf {
			continue
		}
		boxes = append(boxes, rawBox{
			cx: at(0, a), cy: at(1, a), w: at(2, a), h: at(3, a),
			conf:   best,
			anchor: a,
		})
	}
	return boxes, attrs, nil
}

// nms suppresses overlapping raw boxes, preferring higher confidence.
func nms(boxes []rawBox) []rawBox {
	if len(boxes) <= 1 {
		return boxes
	}

	rects := make([]image.Rectangle, len(boxes))
	scores := make([]float32, len(boxes))
	for i, b := range boxes {
		rects[i] = image.Rect(
			int(b.cx-b.w/2), int(b.cy-b.h/2),
			int(b.cx+b.w/2), int(b.cy+b.h/2),
		)
		scores[i] = b.conf
	}

	indices := gocv.NMSBoxes(rects, scores, detectorConf, nmsThreshold)
	kept := make([]rawBox, 0, len(indices))
	for _, idx := range indices {
		kept = append(kept, boxes[idx])
	}
	return kept
}

// boxToFrame maps a network-space box back to frame coordinates, clamped to
// the frame bounds.
func boxToFrame(b rawBox, lb letterbox) geometry.Rect {
	x1, y1 := lb.toFrame(float64(b.cx-b.w/2), float64(b.cy-b.h/2))
	x2, y2 := lb.toFrame(float64(b.cx+b.w/2), float64(b.cy+b.h/2))
	r := geometry.Rect{
		X:      math.Min(x1, x2),
		Y:      math.Min(y1, y2),
		Width:  math.Abs(x2 - x1),
		Height: math.Abs(y2 - y1),
	}
	return r.ClampTo(float64(lb.frameW), float64(lb.frameH))
}
