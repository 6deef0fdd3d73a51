// Package main provides the entry point for the sandal measurement tool.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"qc-detector/internal/annotate"
	"qc-detector/internal/calib"
	"qc-detector/internal/capture"
	"qc-detector/internal/detect"
	"qc-detector/internal/frame"
	"qc-detector/internal/harness"
	"qc-detector/internal/measure"
	"qc-detector/internal/pipeline"
	"qc-detector/internal/profile"
	"qc-detector/internal/version"

	"gocv.io/x/gocv"
)

const appName = "qc-detector"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "measure":
		err = runMeasure(os.Args[2:])
	case "calibrate":
		err = runCalibrate(os.Args[2:])
	case "batch":
		err = runBatch(os.Args[2:])
	case "version":
		fmt.Printf("%s %s\n", appName, version.String())
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf("Usage: %s <command> [options]\n\n", appName)
	fmt.Println("Commands:")
	fmt.Println("  measure    measure an object in an image")
	fmt.Println("  calibrate  derive mm/px from ArUco markers in an image")
	fmt.Println("  batch      run a bounded consistency batch against a camera")
	fmt.Println("  version    print the version")
}

func runMeasure(args []string) error {
	fs := flag.NewFlagSet("measure", flag.ExitOnError)
	imagePath := fs.String("image", "", "Path to input image (PNG, JPEG or TIFF)")
	profilePath := fs.String("profile", "", "Path to station profile (.qcprofile)")
	modeName := fs.String("mode", "", "Detection mode: classical, single-stage or two-stage")
	mmPerPx := fs.Float64("mmpx", 0, "Calibration ratio (overrides profile)")
	photo := fs.Bool("photo", false, "Use the photo measurement profile")
	annotated := fs.String("out", "", "Write an annotated copy of the image here")
	fs.Parse(args)

	if *imagePath == "" {
		return fmt.Errorf("measure: -image is required")
	}

	prof, err := loadProfile(*profilePath)
	if err != nil {
		return err
	}
	if *modeName != "" {
		prof.Mode = *modeName
	}
	if *mmPerPx > 0 {
		prof.MMPerPx = *mmPerPx
	}
	if *photo {
		prof.MeasureMode = measure.ModePhoto.String()
	}

	mode, err := prof.DetectionMode()
	if err != nil {
		return err
	}
	measureMode, err := prof.MeasurementMode()
	if err != nil {
		return err
	}

	f, err := frame.Load(*imagePath)
	if err != nil {
		return err
	}
	defer f.Close()

	normalized, raw := frame.Transform(f, prof.Transform)
	defer normalized.Close()
	defer raw.Close()

	registry := detect.NewRegistry(prof.Models)
	defer registry.Close()

	pipe := pipeline.New(registry)
	res, err := pipe.MeasureFrame(normalized, pipeline.Options{
		Mode: mode,
		Measure: measure.Options{
			Mode:    measureMode,
			MMPerPx: prof.MMPerPx,
		},
	})
	if err != nil {
		return err
	}

	if *annotated != "" {
		img := annotate.Draw(normalized.Mat(), res)
		defer img.Close()
		if ok := gocv.IMWrite(*annotated, img); !ok {
			return fmt.Errorf("writing annotated image to %s", *annotated)
		}
	}

	return printJSON(res.Measurement)
}

func runCalibrate(args []string) error {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	imagePath := fs.String("image", "", "Path to calibration image")
	profilePath := fs.String("profile", "", "Path to station profile (.qcprofile)")
	markerSize := fs.Float64("marker", 0, "Physical marker side length in mm (overrides profile)")
	save := fs.Bool("save", false, "Write the new mm/px back to the profile")
	fs.Parse(args)

	if *imagePath == "" {
		return fmt.Errorf("calibrate: -image is required")
	}

	prof, err := loadProfile(*profilePath)
	if err != nil {
		return err
	}
	if *markerSize > 0 {
		prof.MarkerSizeMM = *markerSize
	}

	f, err := frame.Load(*imagePath)
	if err != nil {
		return err
	}
	defer f.Close()

	// Markers may sit outside the measurement crop, so calibration reads
	// the undistorted-but-uncropped frame.
	normalized, raw := frame.Transform(f, prof.Transform)
	normalized.Close()
	defer raw.Close()

	cal := calib.New()
	defer cal.Close()

	res, err := cal.Calibrate(raw.Mat(), prof.MarkerSizeMM)
	if err != nil {
		return err
	}

	if *save && *profilePath != "" {
		prof.SetCalibration(res.MMPerPx)
		if err := prof.Save(*profilePath); err != nil {
			return fmt.Errorf("saving profile: %w", err)
		}
		log.Printf("profile %s updated: mm/px = %.5f", *profilePath, res.MMPerPx)
	}

	return printJSON(res)
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	profilePath := fs.String("profile", "", "Path to station profile (.qcprofile)")
	source := fs.String("source", "", "Capture source: device index or stream URL (overrides profile)")
	samples := fs.Int("samples", 30, "Total sample bound")
	interval := fs.Duration("interval", time.Second, "Delay between samples")
	output := fs.String("out", "consistency.csv", "Per-sample CSV output path")
	fs.Parse(args)

	prof, err := loadProfile(*profilePath)
	if err != nil {
		return err
	}
	if *source != "" {
		prof.Capture.Source = *source
	}

	mode, err := prof.DetectionMode()
	if err != nil {
		return err
	}
	measureMode, err := prof.MeasurementMode()
	if err != nil {
		return err
	}

	cam, err := capture.Open(prof.Capture)
	if err != nil {
		return err
	}
	defer cam.Close()

	registry := detect.NewRegistry(prof.Models)
	defer registry.Close()

	runner := harness.NewRunner(pipeline.New(registry))
	summary, err := runner.Run(cam, harness.Config{
		Samples:    *samples,
		Interval:   *interval,
		OutputPath: *output,
		Transform:  prof.Transform,
		Pipeline: pipeline.Options{
			Mode: mode,
			Measure: measure.Options{
				Mode:    measureMode,
				MMPerPx: prof.MMPerPx,
			},
		},
	})
	if err != nil {
		return err
	}

	return printJSON(summary)
}

func loadProfile(path string) (*profile.File, error) {
	if path == "" {
		return profile.New("default"), nil
	}
	prof, err := profile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading profile %s: %w", path, err)
	}
	return prof, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
