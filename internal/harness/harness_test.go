package harness

import (
	"encoding/csv"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qc-detector/internal/detect"
	"qc-detector/internal/frame"
	"qc-detector/internal/measure"
	"qc-detector/internal/pipeline"

	"gocv.io/x/gocv"
)

// staticSource replays the same synthetic scene for every Read.
type staticSource struct {
	mat gocv.Mat
}

func newStaticSource(t *testing.T) *staticSource {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 200, 0, 0), 600, 1000, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&mat, image.Rect(100, 200, 900, 400), color.RGBA{R: 200, A: 255}, -1)
	t.Cleanup(func() { mat.Close() })
	return &staticSource{mat: mat}
}

func (s *staticSource) Read() (*frame.Frame, error) {
	return frame.FromMat(s.mat.Clone(), time.Now()), nil
}

func newRunner(t *testing.T) *Runner {
	t.Helper()
	registry := detect.NewRegistry(detect.Config{})
	t.Cleanup(registry.Close)
	return NewRunner(pipeline.New(registry))
}

func batchConfig(samples int, output string) Config {
	return Config{
		Samples:    samples,
		OutputPath: output,
		Pipeline: pipeline.Options{
			Mode:    pipeline.ModeClassical,
			Measure: measure.Options{Mode: measure.ModeLive, MMPerPx: 0.25},
		},
	}
}

func TestRunnerBatch(t *testing.T) {
	src := newStaticSource(t)
	output := filepath.Join(t.TempDir(), "batch.csv")

	summary, err := newRunner(t).Run(src, batchConfig(5, output))
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Samples)
	assert.Equal(t, 0, summary.Failures)
	assert.InEpsilon(t, 800, summary.MeanLengthPx, 0.02)
	assert.InEpsilon(t, 200, summary.MeanWidthPx, 0.02)
	// A static scene measures identically every time.
	assert.InDelta(t, 0.0, summary.StdLengthPx, 1e-9)

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 6) // header + 5 samples
	assert.Equal(t, "px_length", rows[0][2])
	assert.Equal(t, "classical", rows[1][7])
}

func TestRunnerStop(t *testing.T) {
	src := newStaticSource(t)

	r := newRunner(t)
	r.Stop()
	summary, err := r.Run(src, batchConfig(100, ""))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Samples)
}

func TestRunnerRecordsFailures(t *testing.T) {
	// A plain background produces no detection; the batch keeps going.
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 200, 0, 0), 300, 300, gocv.MatTypeCV8UC3)
	defer mat.Close()
	src := &staticSource{mat: mat}

	output := filepath.Join(t.TempDir(), "failures.csv")
	summary, err := newRunner(t).Run(src, batchConfig(3, output))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Samples)
	assert.Equal(t, 3, summary.Failures)

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.NotEmpty(t, rows[1][9])
}

func TestRunnerRejectsNonPositiveSampleCount(t *testing.T) {
	_, err := newRunner(t).Run(newStaticSource(t), batchConfig(0, ""))
	assert.Error(t, err)
}
