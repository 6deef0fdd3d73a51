package measure

import "fmt"

// InsufficientAreaError reports a contour that cannot be measured: its area
// is under the mode-dependent floor, or (photo mode) its bounding-rectangle
// aspect ratio is outside the plausible elongated-object range. Recoverable;
// callers try the next frame.
type InsufficientAreaError struct {
	Area   float64 // contour area in px²
	Floor  float64 // required minimum area
	Aspect float64 // min-area-rect aspect ratio, 0 when area was the problem
}

func (e *InsufficientAreaError) Error() string {
	if e.Aspect != 0 {
		return fmt.Sprintf("contour aspect ratio %.2f outside [%.1f, %.1f]",
			e.Aspect, minPhotoAspect, maxPhotoAspect)
	}
	return fmt.Sprintf("contour area %.0f px² below floor %.0f px²", e.Area, e.Floor)
}
