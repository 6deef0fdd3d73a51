// Package pipeline wires a normalized frame through mask extraction or
// neural arbitration into the measurement engine.
package pipeline

import (
	"fmt"
	"image"

	"qc-detector/internal/arbitrate"
	"qc-detector/internal/detect"
	"qc-detector/internal/frame"
	"qc-detector/internal/mask"
	"qc-detector/internal/measure"
)

// Mode selects the detection path for a measurement request.
type Mode int

const (
	// ModeClassical uses only the color-space mask tournament.
	ModeClassical Mode = iota
	// ModeSingleStage adds the combined detection+segmentation network
	// with classical cross-validation.
	ModeSingleStage
	// ModeTwoStage chains a detector into a prompted segmenter.
	ModeTwoStage
)

func (m Mode) String() string {
	switch m {
	case ModeSingleStage:
		return "single-stage"
	case ModeTwoStage:
		return "two-stage"
	default:
		return "classical"
	}
}

// ParseMode maps a mode name from configuration or the command line.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "classical", "":
		return ModeClassical, nil
	case "single-stage":
		return ModeSingleStage, nil
	case "two-stage":
		return ModeTwoStage, nil
	}
	return ModeClassical, fmt.Errorf("unknown detection mode %q", s)
}

// Options configure one measurement invocation.
type Options struct {
	Mode    Mode
	Measure measure.Options
}

// Result pairs the measurement with the mask diagnostics that produced it.
type Result struct {
	Measurement measure.Result
	MaskScore   float64
	Contour     []image.Point
}

// Pipeline runs measurement requests. Not safe for concurrent use; each
// worker owns one over a shared model registry.
type Pipeline struct {
	arbiter *arbitrate.Arbiter
}

// New creates a Pipeline over a model registry.
func New(models *detect.Registry) *Pipeline {
	return &Pipeline{arbiter: arbitrate.New(models)}
}

// MeasureFrame segments the frame according to the requested mode and
// measures the resulting contour. A low-scoring classical mask triggers the
// dark-object rescue before measurement.
func (p *Pipeline) MeasureFrame(f *frame.Frame, opts Options) (*Result, error) {
	fm := f.Mat()

	var (
		outcome *arbitrate.Outcome
		err     error
	)
	switch opts.Mode {
	case ModeSingleStage:
		outcome, err = p.arbiter.SingleStage(fm)
	case ModeTwoStage:
		outcome, err = p.arbiter.TwoStage(fm)
	default:
		outcome = p.arbiter.Classical(fm, measure.MethodClassical)
		if outcome.Score < mask.RescueScore {
			rescue := mask.DarkObject(fm)
			if rescue.Score > outcome.Score {
				outcome.Close()
				outcome = &arbitrate.Outcome{
					Mask:   rescue.Mat,
					Score:  rescue.Score,
					Method: measure.MethodDarkRescue,
				}
			} else {
				rescue.Close()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	defer outcome.Close()

	contour := mask.LargestContour(outcome.Mask)
	if len(contour) == 0 {
		return nil, &arbitrate.NoDetectionError{Score: outcome.Score}
	}

	mopts := opts.Measure
	mopts.Method = outcome.Method
	m, err := measure.Measure(contour, mopts)
	if err != nil {
		return nil, err
	}

	return &Result{Measurement: m, MaskScore: outcome.Score, Contour: contour}, nil
}
