// Package detect loads and runs the optional neural models: a single-stage
// detection+segmentation network and a separate detector/segmenter pair for
// the two-stage pipeline. Model weights are loaded lazily, once per process,
// through an explicit Registry handle rather than ambient global state.
package detect

import (
	"fmt"
	"log"
	"os"
	"sync"

	"qc-detector/pkg/geometry"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

// Kind names a loadable model slot.
type Kind int

const (
	// KindSegModel is the single-stage detection+segmentation network.
	KindSegModel Kind = iota
	// KindDetector is the two-stage bounding-box detector.
	KindDetector
	// KindSegmenter is the two-stage prompted segmenter.
	KindSegmenter
)

func (k Kind) String() string {
	switch k {
	case KindDetector:
		return "detector"
	case KindSegmenter:
		return "segmenter"
	default:
		return "seg-model"
	}
}

// ModelUnavailableError reports missing or unloadable model weights.
// Callers downgrade to classical mode; the error is logged once per slot
// and not retried per-frame.
type ModelUnavailableError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("%s model unavailable (%s): %v", e.Kind, e.Path, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}

// Detection is one detector hit in frame coordinates.
type Detection struct {
	Box        geometry.Rect
	Confidence float64
}

// MaskDetection is one single-stage hit: a binary mask at frame resolution
// with its paired bounding box.
type MaskDetection struct {
	Mask       gocv.Mat
	Box        geometry.Rect
	Confidence float64
}

// Close releases the mask buffer.
func (m *MaskDetection) Close() {
	if !m.Mask.Empty() {
		m.Mask.Close()
	}
}

// Prompt steers the two-stage segmenter toward a region of interest. Box
// takes precedence; Point marks a single foreground pixel (the
// detector-blind fallback).
type Prompt struct {
	Box   *geometry.Rect
	Point *geometry.Point2D
}

// Detector finds candidate object boxes.
type Detector interface {
	Detect(frame gocv.Mat) ([]Detection, error)
	Close() error
}

// Segmenter produces candidate binary masks, optionally steered by a
// prompt. Returned Mats are owned by the caller.
type Segmenter interface {
	Segment(frame gocv.Mat, prompt Prompt) ([]gocv.Mat, error)
	Close() error
}

// MaskDetector runs detection and segmentation in one pass.
type MaskDetector interface {
	DetectMasks(frame gocv.Mat) ([]MaskDetection, error)
	Close() error
}

// Config points the registry at model weight files. Empty paths leave the
// corresponding slot unavailable.
type Config struct {
	SegModelPath  string `json:"seg_model_path,omitempty"`
	DetectorPath  string `json:"detector_path,omitempty"`
	SegmenterPath string `json:"segmenter_path,omitempty"`
}

// Registry owns the lazily-initialized model instances. GetOrLoad is safe
// to call concurrently: the first caller performs the load and the rest
// block until it completes or observe the cached result.
type Registry struct {
	cfg Config

	segOnce  sync.Once
	segModel MaskDetector
	segErr   error

	detOnce  sync.Once
	detector Detector
	detErr   error

	samOnce   sync.Once
	segmenter Segmenter
	samErr    error
}

// NewRegistry creates a Registry for the given model paths. No weights are
// touched until a model is first requested.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// SegModel returns the single-stage detection+segmentation network.
func (r *Registry) SegModel() (MaskDetector, error) {
	r.segOnce.Do(func() {
		m, err := loadSlot(KindSegModel, r.cfg.SegModelPath, func(p string) (MaskDetector, error) {
			return newYOLOSeg(p)
		})
		r.segModel, r.segErr = m, err
	})
	return r.segModel, r.segErr
}

// Detector returns the two-stage bounding-box detector.
func (r *Registry) Detector() (Detector, error) {
	r.detOnce.Do(func() {
		m, err := loadSlot(KindDetector, r.cfg.DetectorPath, func(p string) (Detector, error) {
			return newYOLODetector(p)
		})
		r.detector, r.detErr = m, err
	})
	return r.detector, r.detErr
}

// Segmenter returns the two-stage prompted segmenter.
func (r *Registry) Segmenter() (Segmenter, error) {
	r.samOnce.Do(func() {
		m, err := loadSlot(KindSegmenter, r.cfg.SegmenterPath, func(p string) (Segmenter, error) {
			return newPromptSegmenter(p)
		})
		r.segmenter, r.samErr = m, err
	})
	return r.segmenter, r.samErr
}

// Close releases any models that were loaded.
func (r *Registry) Close() {
	if r.segModel != nil {
		_ = r.segModel.Close()
	}
	if r.detector != nil {
		_ = r.detector.Close()
	}
	if r.segmenter != nil {
		_ = r.segmenter.Close()
	}
}

// loadSlot validates the weight path and runs the loader, wrapping any
// failure in a ModelUnavailableError logged once.
func loadSlot[T any](kind Kind, path string, load func(string) (T, error)) (T, error) {
	var zero T
	if path == "" {
		err := &ModelUnavailableError{Kind: kind, Path: path, Err: fmt.Errorf("no model path configured")}
		log.Printf("[detect] %v", err)
		return zero, err
	}
	if _, err := os.Stat(path); err != nil {
		werr := &ModelUnavailableError{Kind: kind, Path: path, Err: err}
		log.Printf("[detect] %v", werr)
		return zero, werr
	}

	m, err := load(path)
	if err != nil {
		werr := &ModelUnavailableError{Kind: kind, Path: path, Err: err}
		log.Printf("[detect] %v", werr)
		return zero, werr
	}
	log.Printf("[detect] loaded %s model from %s", kind, path)
	return m, nil
}

var ortInit sync.Once

// ensureRuntime initializes the ONNX runtime environment once per process.
func ensureRuntime() error {
	var err error
	ortInit.Do(func() {
		if ort.IsInitialized() {
			return
		}
		err = ort.InitializeEnvironment()
	})
	if err != nil {
		return fmt.Errorf("onnxruntime init: %w", err)
	}
	if !ort.IsInitialized() {
		return fmt.Errorf("onnxruntime not initialized")
	}
	return nil
}
