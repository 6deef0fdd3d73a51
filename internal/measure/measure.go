// Package measure turns object contours into physical length/width
// measurements. Width comes from the minimum-area bounding rectangle; length
// uses a principal-axis projection with regression-refined endpoints in
// photo mode, where sub-pixel robustness matters more than latency.
package measure

import (
	"image"

	"gocv.io/x/gocv"
)

// Mode selects the measurement profile.
type Mode int

const (
	// ModeLive favors latency: simple min-rect length, lower area floor.
	ModeLive Mode = iota
	// ModePhoto favors accuracy: principal-axis refined length, higher
	// area floor, and a shape-sanity filter on aspect ratio.
	ModePhoto
)

func (m Mode) String() string {
	if m == ModePhoto {
		return "photo"
	}
	return "live"
}

// Area floors per mode, in px².
const (
	liveAreaFloor  = 1000.0
	photoAreaFloor = 2000.0
)

// Photo-mode shape-sanity bounds on the min-area-rect aspect ratio.
const (
	minPhotoAspect = 2.0
	maxPhotoAspect = 6.0
)

// Method records which detection path produced the measured contour.
type Method int

const (
	MethodClassical Method = iota
	MethodSingleStage
	MethodTwoStage
	MethodDarkRescue
	MethodClassicalFallback // network mode requested but unavailable
)

func (m Method) String() string {
	switch m {
	case MethodSingleStage:
		return "single-stage"
	case MethodTwoStage:
		return "two-stage"
	case MethodDarkRescue:
		return "dark-rescue"
	case MethodClassicalFallback:
		return "classical-fallback"
	default:
		return "classical"
	}
}

// Verdict is the pass/fail classification of a measurement.
type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictFail    Verdict = "FAIL"
	VerdictUnknown Verdict = "UNKNOWN"
)

// Tolerance decides pass/fail from physical dimensions in millimeters.
// The default is a live-preview placeholder (length > 20 cm); production
// size categorization is supplied by the caller.
type Tolerance func(lengthMM, widthMM float64) bool

func defaultTolerance(lengthMM, _ float64) bool {
	return lengthMM/10.0 > 20.0
}

// Options configure a measurement invocation.
type Options struct {
	Mode Mode

	// MMPerPx converts pixels to millimeters. Zero means uncalibrated:
	// physical fields stay nil and the verdict is UNKNOWN.
	MMPerPx float64

	// Tolerance overrides the placeholder pass/fail policy.
	Tolerance Tolerance

	// Method tags the result with the detection path that produced the
	// contour. Informational only.
	Method Method
}

// Result is one immutable measurement. PxLength >= PxWidth by construction.
type Result struct {
	PxLength float64 `json:"px_length"`
	PxWidth  float64 `json:"px_width"`

	RealLengthMM *float64 `json:"real_length_mm,omitempty"`
	RealWidthMM  *float64 `json:"real_width_mm,omitempty"`

	Verdict Verdict `json:"verdict"`
	Method  Method  `json:"-"`

	// MethodName is the serialized form of Method.
	MethodName string `json:"method"`
}

// Measure computes length and width of a contour. In photo mode the length
// is refined by projecting the contour onto its principal axis and
// regressing the projection tails to sub-pixel endpoints; live mode takes
// the min-area-rect long side directly.
func Measure(contour []image.Point, opts Options) (Result, error) {
	pv := gocv.NewPointVectorFromPoints(contour)
	defer pv.Close()

	area := gocv.ContourArea(pv)
	floor := liveAreaFloor
	if opts.Mode == ModePhoto {
		floor = photoAreaFloor
	}
	if area < floor {
		return Result{}, &InsufficientAreaError{Area: area, Floor: floor}
	}

	rect := gocv.MinAreaRect(pv)
	w := float64(rect.Width)
	h := float64(rect.Height)
	long, short := w, h
	if h > w {
		long, short = h, w
	}

	if opts.Mode == ModePhoto {
		if short <= 0 {
			return Result{}, &InsufficientAreaError{Area: area, Floor: floor}
		}
		aspect := long / short
		if aspect < minPhotoAspect || aspect > maxPhotoAspect {
			return Result{}, &InsufficientAreaError{Area: area, Aspect: aspect}
		}
	}

	pxLength := long
	if opts.Mode == ModePhoto {
		if refined, ok := principalAxisLength(contour); ok {
			pxLength = refined
		}
	}
	pxWidth := short
	if pxLength < pxWidth {
		pxLength, pxWidth = pxWidth, pxLength
	}

	res := Result{
		PxLength:   pxLength,
		PxWidth:    pxWidth,
		Verdict:    VerdictUnknown,
		Method:     opts.Method,
		MethodName: opts.Method.String(),
	}

	if opts.MMPerPx > 0 {
		lengthMM := pxLength * opts.MMPerPx
		widthMM := pxWidth * opts.MMPerPx
		res.RealLengthMM = &lengthMM
		res.RealWidthMM = &widthMM

		tol := opts.Tolerance
		if tol == nil {
			tol = defaultTolerance
		}
		if tol(lengthMM, widthMM) {
			res.Verdict = VerdictPass
		} else {
			res.Verdict = VerdictFail
		}
	}

	return res, nil
}
