package mask

import (
	"gocv.io/x/gocv"
)

// shortCircuitScore is the chroma score above which the tournament returns
// immediately without evaluating the saturation strategy. Prevents a noisy
// saturation result from overriding a good chroma split on monochrome
// objects.
const shortCircuitScore = 0.65

// RescueScore is the selected-mask score below which callers should try the
// dark-object rescue mask.
const RescueScore = 0.50

// Stats counts how many times each strategy has been evaluated. Used by the
// consistency harness and by tests verifying the short-circuit.
type Stats struct {
	Chroma     int
	Saturation int
	Lightness  int
}

// Selector runs the extraction tournament. The zero value is ready to use;
// a Selector is not safe for concurrent use (each goroutine should own one).
type Selector struct {
	stats Stats
}

// NewSelector returns a fresh Selector.
func NewSelector() *Selector {
	return &Selector{}
}

// Stats returns the per-strategy evaluation counts so far.
func (s *Selector) Stats() Stats {
	return s.stats
}

// Select extracts the best mask from a BGR frame. The chroma strategy is
// evaluated first and returned immediately when its score exceeds 0.65;
// otherwise the saturation strategy is evaluated and the higher scorer of
// the two wins. The lightness strategy only participates when both primary
// strategies score 0 (no usable contour at all).
func (s *Selector) Select(frame gocv.Mat) *Mask {
	s.stats.Chroma++
	chroma := &Mask{Strategy: StrategyChroma, Mat: chromaMask(frame)}
	chroma.Score = Score(chroma.Mat)
	if chroma.Score > shortCircuitScore {
		return chroma
	}

	s.stats.Saturation++
	sat := &Mask{Strategy: StrategySaturation, Mat: saturationMask(frame)}
	sat.Score = Score(sat.Mat)

	if chroma.Score == 0 && sat.Score == 0 {
		s.stats.Lightness++
		light := &Mask{Strategy: StrategyLightness, Mat: lightnessMask(frame)}
		light.Score = Score(light.Mat)
		if light.Score > 0 {
			chroma.Close()
			sat.Close()
			return light
		}
		light.Close()
	}

	if sat.Score > chroma.Score {
		chroma.Close()
		return sat
	}
	sat.Close()
	return chroma
}

// Select is the package-level convenience wrapper around a throwaway
// Selector.
func Select(frame gocv.Mat) *Mask {
	return NewSelector().Select(frame)
}
