// Command masktest runs the mask extraction tournament on an image and
// reports each strategy's score.
package main

import (
	"flag"
	"fmt"
	"os"

	"qc-detector/internal/frame"
	"qc-detector/internal/mask"
	"qc-detector/internal/measure"

	"gocv.io/x/gocv"
)

func main() {
	imagePath := flag.String("image", "", "Path to input image (TIFF, PNG, or JPEG)")
	maskOut := flag.String("mask", "", "Write the winning mask here (PNG)")
	rescue := flag.Bool("rescue", false, "Also evaluate the dark-object rescue mask")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: masktest -image <path> [-mask out.png] [-rescue]")
		os.Exit(1)
	}

	f, err := frame.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	fmt.Printf("Loaded image: %dx%d pixels\n", f.Width(), f.Height())

	selector := mask.NewSelector()
	m := selector.Select(f.Mat())
	defer m.Close()

	stats := selector.Stats()
	fmt.Printf("\nTournament result:\n")
	fmt.Printf("  Winner: %s (score %.3f)\n", m.Strategy, m.Score)
	fmt.Printf("  Evaluations: chroma=%d saturation=%d lightness=%d\n",
		stats.Chroma, stats.Saturation, stats.Lightness)
	fmt.Printf("  Foreground: %d px\n", mask.ForegroundArea(m.Mat))

	if m.Score < mask.RescueScore {
		fmt.Printf("  Score below %.2f: callers would try the dark-object rescue\n", mask.RescueScore)
	}

	if *rescue {
		dark := mask.DarkObject(f.Mat())
		defer dark.Close()
		fmt.Printf("\nDark-object rescue: score %.3f, foreground %d px\n",
			dark.Score, mask.ForegroundArea(dark.Mat))
	}

	contour := mask.LargestContour(m.Mat)
	if len(contour) > 0 {
		if res, err := measure.Measure(contour, measure.Options{Mode: measure.ModeLive}); err == nil {
			fmt.Printf("\nMeasurement (live mode): %.1f x %.1f px\n", res.PxLength, res.PxWidth)
		} else {
			fmt.Printf("\nMeasurement failed: %v\n", err)
		}
	}

	if *maskOut != "" {
		if ok := gocv.IMWrite(*maskOut, m.Mat); !ok {
			fmt.Fprintf(os.Stderr, "Failed to write mask to %s\n", *maskOut)
			os.Exit(1)
		}
		fmt.Printf("Mask written to %s\n", *maskOut)
	}
}
