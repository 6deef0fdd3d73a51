// Package profile provides station profile handling and persistence: the
// per-camera transform configuration, calibration state and model paths that
// a measurement station runs with.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"qc-detector/internal/capture"
	"qc-detector/internal/detect"
	"qc-detector/internal/frame"
	"qc-detector/internal/measure"
	"qc-detector/internal/pipeline"
)

// File represents a station profile (.qcprofile).
type File struct {
	Version  int       `json:"version"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// Frame normalization applied to every acquired frame.
	Transform frame.TransformConfig `json:"transform"`

	// Detection mode name: classical, single-stage or two-stage.
	Mode string `json:"mode"`

	// Measurement profile: live or photo.
	MeasureMode string `json:"measure_mode"`

	// Calibration state. MMPerPx of zero means uncalibrated.
	MMPerPx      float64   `json:"mm_per_px,omitempty"`
	MarkerSizeMM float64   `json:"marker_size_mm,omitempty"`
	CalibratedAt time.Time `json:"calibrated_at,omitempty"`

	Models  detect.Config            `json:"models,omitempty"`
	Capture capture.TransportOptions `json:"capture,omitempty"`
}

// New creates a profile with default settings.
func New(name string) *File {
	now := time.Now()
	return &File{
		Version:      1,
		Name:         name,
		Created:      now,
		Modified:     now,
		Transform:    frame.TransformConfig{AspectRatio: 1.0},
		Mode:         pipeline.ModeClassical.String(),
		MeasureMode:  measure.ModeLive.String(),
		MarkerSizeMM: 50,
	}
}

// Load reads a profile from a .qcprofile file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p File
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	return &p, nil
}

// Save writes the profile to a file.
func (p *File) Save(path string) error {
	p.Modified = time.Now()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DetectionMode resolves the configured mode name.
func (p *File) DetectionMode() (pipeline.Mode, error) {
	return pipeline.ParseMode(p.Mode)
}

// MeasurementMode resolves the configured measurement profile.
func (p *File) MeasurementMode() (measure.Mode, error) {
	switch p.MeasureMode {
	case "live", "":
		return measure.ModeLive, nil
	case "photo":
		return measure.ModePhoto, nil
	}
	return measure.ModeLive, fmt.Errorf("unknown measure mode %q", p.MeasureMode)
}

// SetCalibration records a fresh calibration result.
func (p *File) SetCalibration(mmPerPx float64) {
	p.MMPerPx = mmPerPx
	p.CalibratedAt = time.Now()
	p.Modified = p.CalibratedAt
}
