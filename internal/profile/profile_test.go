package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qc-detector/internal/frame"
	"qc-detector/internal/measure"
	"qc-detector/internal/pipeline"
)

func TestNewDefaults(t *testing.T) {
	p := New("station-1")

	assert.Equal(t, 1, p.Version)
	assert.Equal(t, "station-1", p.Name)
	assert.Equal(t, 50.0, p.MarkerSizeMM)
	assert.Zero(t, p.MMPerPx)

	mode, err := p.DetectionMode()
	require.NoError(t, err)
	assert.Equal(t, pipeline.ModeClassical, mode)

	mm, err := p.MeasurementMode()
	require.NoError(t, err)
	assert.Equal(t, measure.ModeLive, mm)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.qcprofile")

	p := New("line-3")
	p.Mode = pipeline.ModeTwoStage.String()
	p.MeasureMode = measure.ModePhoto.String()
	p.Transform = frame.TransformConfig{
		CropLeftPct: 5,
		Rotation:    frame.Rotate90,
		AspectRatio: 1.2,
	}
	p.Models.DetectorPath = "/models/detector.onnx"
	p.SetCalibration(0.247)

	require.NoError(t, p.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, p.Name, loaded.Name)
	assert.Equal(t, p.Transform, loaded.Transform)
	assert.Equal(t, 0.247, loaded.MMPerPx)
	assert.Equal(t, "/models/detector.onnx", loaded.Models.DetectorPath)
	assert.False(t, loaded.CalibratedAt.IsZero())

	mode, err := loaded.DetectionMode()
	require.NoError(t, err)
	assert.Equal(t, pipeline.ModeTwoStage, mode)

	mm, err := loaded.MeasurementMode()
	require.NoError(t, err)
	assert.Equal(t, measure.ModePhoto, mm)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.qcprofile"))
	assert.Error(t, err)
}

func TestModeValidation(t *testing.T) {
	p := New("x")
	p.Mode = "sam"
	_, err := p.DetectionMode()
	assert.Error(t, err)

	p.MeasureMode = "video"
	_, err = p.MeasurementMode()
	assert.Error(t, err)
}
