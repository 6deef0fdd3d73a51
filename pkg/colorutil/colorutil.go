// Package colorutil provides the shared overlay palette for annotated
// frames.
package colorutil

import "image/color"

// Common overlay colors used throughout the application.
var (
	Black   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Cyan    = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	Orange  = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	Green   = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	Red     = color.RGBA{R: 220, G: 0, B: 0, A: 255}
	Yellow  = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Gray    = color.RGBA{R: 200, G: 200, B: 200, A: 255}
)
