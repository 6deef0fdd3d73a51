// Package mask extracts binary foreground masks from normalized frames
// using model-free color-space heuristics, scores mask quality, and picks
// the best candidate in a fixed-priority tournament.
package mask

import (
	"image"

	"gocv.io/x/gocv"
)

// Strategy identifies which extraction heuristic produced a mask.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyChroma           // Lab a-channel (green-red axis), Otsu split
	StrategySaturation       // saturation distance from background mean
	StrategyLightness        // adaptive lightness threshold, structural fallback
	StrategyDark             // adaptive rescue for low-reflectance objects
)

func (s Strategy) String() string {
	switch s {
	case StrategyChroma:
		return "chroma"
	case StrategySaturation:
		return "saturation"
	case StrategyLightness:
		return "lightness"
	case StrategyDark:
		return "dark"
	default:
		return "none"
	}
}

// Mask is a single-channel binary buffer (values 0 or 255) with the quality
// score and the strategy that produced it.
type Mask struct {
	Mat      gocv.Mat
	Score    float64
	Strategy Strategy
}

// Close releases the mask buffer.
func (m *Mask) Close() {
	if m != nil && !m.Mat.Empty() {
		m.Mat.Close()
	}
}

// Empty reports whether the mask holds no pixels.
func (m *Mask) Empty() bool {
	return m == nil || m.Mat.Empty()
}

// saturationDiffLevel is the fixed threshold on |S - background mean|.
const saturationDiffLevel = 25

// cornerFrac sizes the four background sample squares relative to the
// shorter frame dimension.
const cornerFrac = 0.10

// chromaMask thresholds the Lab a-channel (green-red chrominance) with an
// automatic bimodal (Otsu) split. Background polarity is checked against the
// four image corners: if the corners come out predominantly foreground the
// mask is inverted.
func chromaMask(frame gocv.Mat) gocv.Mat {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(frame, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer closeAll(channels)
	a := channels[1]

	raw := gocv.NewMat()
	gocv.Threshold(a, &raw, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)

	// Corners are background samples. Otsu picks a split but not a side;
	// flip when the background side landed on white.
	if cornerMean(raw) > 127 {
		gocv.BitwiseNot(raw, &raw)
	}

	cleanup(&raw)
	return raw
}

// saturationMask thresholds the absolute distance of each pixel's saturation
// from the mean background saturation sampled at the corners.
func saturationMask(frame gocv.Mat) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(frame, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	defer closeAll(channels)
	sat := channels[1]

	bg := cornerMean(sat)

	bgMat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(bg, 0, 0, 0),
		sat.Rows(), sat.Cols(), gocv.MatTypeCV8UC1)
	defer bgMat.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(sat, bgMat, &diff)

	raw := gocv.NewMat()
	gocv.Threshold(diff, &raw, saturationDiffLevel, 255, gocv.ThresholdBinary)

	cleanup(&raw)
	return raw
}

// lightnessMask applies an adaptive local threshold to the grayscale frame.
// Purely structural: it survives scenes where chrominance and saturation are
// both uninformative, at the cost of noisier output.
func lightnessMask(frame gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	raw := gocv.NewMat()
	gocv.AdaptiveThreshold(gray, &raw, 255, gocv.AdaptiveThresholdGaussian,
		gocv.ThresholdBinaryInv, adaptiveBlockSize(gray), 5)

	cleanup(&raw)
	return raw
}

// DarkObject builds a rescue mask tuned for low-reflectance objects that the
// tournament strategies wash out. Callers invoke it when the selected mask's
// score falls below 0.50.
func DarkObject(frame gocv.Mat) *Mask {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	raw := gocv.NewMat()
	gocv.AdaptiveThreshold(blurred, &raw, 255, gocv.AdaptiveThresholdMean,
		gocv.ThresholdBinaryInv, adaptiveBlockSize(blurred), 10)

	cleanup(&raw)
	return &Mask{Mat: raw, Score: Score(raw), Strategy: StrategyDark}
}

// adaptiveBlockSize picks an odd neighborhood around 1/8 of the shorter
// dimension, floored at 15.
func adaptiveBlockSize(m gocv.Mat) int {
	short := m.Rows()
	if m.Cols() < short {
		short = m.Cols()
	}
	block := short / 8
	if block < 15 {
		block = 15
	}
	if block%2 == 0 {
		block++
	}
	return block
}

// cleanup normalizes a raw threshold output in place: morphological opening
// (1 iteration) then closing (3 iterations) with an elliptical kernel,
// followed by hole filling so interiors come out solid.
func cleanup(m *gocv.Mat) {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(5, 5))
	defer kernel.Close()

	gocv.MorphologyExWithParams(*m, m, gocv.MorphOpen, kernel, 1, gocv.BorderConstant)
	gocv.MorphologyExWithParams(*m, m, gocv.MorphClose, kernel, 3, gocv.BorderConstant)

	fillHoles(m)
}

// fillHoles forces the mask solid. Equivalent to flood-filling the
// background from an image corner: any zero region not connected to a corner
// is a hole and becomes foreground.
func fillHoles(m *gocv.Mat) {
	inv := gocv.NewMat()
	defer inv.Close()
	gocv.BitwiseNot(*m, &inv)

	labels := gocv.NewMat()
	defer labels.Close()
	n := gocv.ConnectedComponents(inv, &labels)
	if n <= 1 {
		return
	}

	rows, cols := m.Rows(), m.Cols()

	// Background label: the component reached from a corner. Try all four
	// in case one corner sits on the object.
	bgLabel := -1
	for _, pt := range []image.Point{{0, 0}, {cols - 1, 0}, {0, rows - 1}, {cols - 1, rows - 1}} {
		if inv.GetUCharAt(pt.Y, pt.X) > 0 {
			bgLabel = int(labels.GetIntAt(pt.Y, pt.X))
			break
		}
	}
	if bgLabel < 0 {
		return
	}

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if inv.GetUCharAt(y, x) > 0 && int(labels.GetIntAt(y, x)) != bgLabel {
				m.SetUCharAt(y, x, 255)
			}
		}
	}
}

// cornerMean samples the four corner squares (each sized cornerFrac of the
// shorter dimension) of a single-channel Mat and returns their mean value.
func cornerMean(m gocv.Mat) float64 {
	rows, cols := m.Rows(), m.Cols()
	short := rows
	if cols < short {
		short = cols
	}
	side := int(float64(short) * cornerFrac)
	if side < 1 {
		side = 1
	}

	regions := []image.Rectangle{
		image.Rect(0, 0, side, side),
		image.Rect(cols-side, 0, cols, side),
		image.Rect(0, rows-side, side, rows),
		image.Rect(cols-side, rows-side, cols, rows),
	}

	var sum float64
	var count int
	for _, r := range regions {
		roi := m.Region(r)
		mean := roi.Mean()
		roi.Close()
		sum += mean.Val1
		count++
	}
	return sum / float64(count)
}

func closeAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}
