package detect

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

// yoloInputSize is the square network input. Frames are letterboxed into it
// with preserved aspect ratio and gray padding.
const yoloInputSize = 640

// onnxSession wraps a dynamic ONNX session plus its resolved input/output
// names.
type onnxSession struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

// newONNXSession opens a session for the model at path, discovering tensor
// names from the model metadata.
func newONNXSession(path string) (*onnxSession, error) {
	if err := ensureRuntime(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("reading model metadata: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs", len(inputs), len(outputs))
	}

	inNames := make([]string, len(inputs))
	for i, in := range inputs {
		inNames[i] = in.Name
	}
	outNames := make([]string, len(outputs))
	for i, out := range outputs {
		outNames[i] = out.Name
	}

	session, err := ort.NewDynamicAdvancedSession(path, inNames, outNames, nil)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &onnxSession{session: session, inputNames: inNames, outputNames: outNames}, nil
}

// run executes the session on a letterboxed frame tensor and returns all
// output tensors. Callers must Destroy the returned values.
func (s *onnxSession) run(input *ort.Tensor[float32]) ([]ort.Value, error) {
	outputs := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	return outputs, nil
}

func (s *onnxSession) close() error {
	if s == nil || s.session == nil {
		return nil
	}
	return s.session.Destroy()
}

// letterbox holds the geometry of an aspect-preserving resize into the
// square network input, needed to map detections back to frame space.
type letterbox struct {
	scale          float64
	padX, padY     float64
	frameW, frameH int
}

// toFrame maps a network-space coordinate back to frame space.
func (l letterbox) toFrame(x, y float64) (float64, float64) {
	return (x - l.padX) / l.scale, (y - l.padY) / l.scale
}

// prepareInput letterboxes a BGR frame into a NCHW float32 tensor in [0,1]
// RGB order.
func prepareInput(frame gocv.Mat) (*ort.Tensor[float32], letterbox, error) {
	w := frame.Cols()
	h := frame.Rows()
	if w == 0 || h == 0 {
		return nil, letterbox{}, fmt.Errorf("empty frame")
	}

	scale := float64(yoloInputSize) / float64(w)
	if s := float64(yoloInputSize) / float64(h); s < scale {
		scale = s
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	padX := (yoloInputSize - newW) / 2
	padY := (yoloInputSize - newH) / 2

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0),
		yoloInputSize, yoloInputSize, gocv.MatTypeCV8UC3)
	defer canvas.Close()

	roi := canvas.Region(image.Rect(padX, padY, padX+newW, padY+newH))
	resized.CopyTo(&roi)
	roi.Close()

	// HWC BGR uint8 -> NCHW RGB float32 in [0,1]
	data := make([]float32, 3*yoloInputSize*yoloInputSize)
	plane := yoloInputSize * yoloInputSize
	for y := 0; y < yoloInputSize; y++ {
		for x := 0; x < yoloInputSize; x++ {
			idx := y*yoloInputSize + x
			b := canvas.GetUCharAt(y, x*3+0)
			g := canvas.GetUCharAt(y, x*3+1)
			r := canvas.GetUCharAt(y, x*3+2)
			data[idx] = float32(r) / 255
			data[plane+idx] = float32(g) / 255
			data[2*plane+idx] = float32(b) / 255
		}
	}

	tensor, err := ort.NewTensor(ort.NewShape(1, 3, yoloInputSize, yoloInputSize), data)
	if err != nil {
		return nil, letterbox{}, fmt.Errorf("creating input tensor: %w", err)
	}

	return tensor, letterbox{
		scale:  scale,
		padX:   float64(padX),
		padY:   float64(padY),
		frameW: w,
		frameH: h,
	}, nil
}

// floatTensor extracts a float32 tensor or fails.
func floatTensor(v ort.Value) (*ort.Tensor[float32], error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", v)
	}
	return t, nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			_ = v.Destroy()
		}
	}
}
