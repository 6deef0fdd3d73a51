// Package harness runs bounded consistency batches: repeated measurements of
// a static scene, persisted row by row so an interrupted run keeps every
// sample taken so far.
package harness

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"qc-detector/internal/frame"
	"qc-detector/internal/pipeline"

	"gonum.org/v1/gonum/stat"
)

// Source supplies frames; capture.Capture satisfies it.
type Source interface {
	Read() (*frame.Frame, error)
}

// Config bounds and describes one batch run.
type Config struct {
	// Samples is the total sample bound; the run never exceeds it.
	Samples int

	// Interval between samples. Zero means back to back.
	Interval time.Duration

	// OutputPath receives the per-sample CSV. Empty disables persistence.
	OutputPath string

	Transform frame.TransformConfig
	Pipeline  pipeline.Options
}

// Summary aggregates a finished (or interrupted) run.
type Summary struct {
	Samples  int `json:"samples"`
	Failures int `json:"failures"`

	MeanLengthPx float64 `json:"mean_length_px"`
	StdLengthPx  float64 `json:"std_length_px"`
	MeanWidthPx  float64 `json:"mean_width_px"`
	StdWidthPx   float64 `json:"std_width_px"`
	MeanScore    float64 `json:"mean_score"`
}

// Runner executes batch runs sequentially. Stop may be called from any
// goroutine; the current run finishes its in-flight sample and returns.
type Runner struct {
	pipe     *pipeline.Pipeline
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRunner creates a Runner over a measurement pipeline.
func NewRunner(pipe *pipeline.Pipeline) *Runner {
	return &Runner{pipe: pipe, stop: make(chan struct{})}
}

// Stop aborts the current run after its in-flight sample.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Run samples up to cfg.Samples frames, measuring each and appending one CSV
// row per sample. The writer is flushed after every row: partial results
// survive interruption. Measurement failures are recorded, not fatal.
func (r *Runner) Run(src Source, cfg Config) (*Summary, error) {
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", cfg.Samples)
	}

	var w *csv.Writer
	if cfg.OutputPath != "" {
		f, err := os.Create(cfg.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		w = csv.NewWriter(f)
		if err := w.Write([]string{
			"sample", "timestamp", "px_length", "px_width",
			"real_length_mm", "real_width_mm", "score", "method", "verdict", "error",
		}); err != nil {
			return nil, err
		}
		w.Flush()
	}

	var lengths, widths, scores []float64
	summary := &Summary{}

	for i := 0; i < cfg.Samples; i++ {
		select {
		case <-r.stop:
			log.Printf("[harness] stopped after %d of %d samples", i, cfg.Samples)
			finalize(summary, lengths, widths, scores)
			return summary, nil
		default:
		}
		if i > 0 && cfg.Interval > 0 {
			time.Sleep(cfg.Interval)
		}

		res, err := r.sample(src, cfg)
		summary.Samples++
		if err != nil {
			summary.Failures++
			writeRow(w, i, nil, err)
			continue
		}

		lengths = append(lengths, res.Measurement.PxLength)
		widths = append(widths, res.Measurement.PxWidth)
		scores = append(scores, res.MaskScore)
		writeRow(w, i, res, nil)
	}

	finalize(summary, lengths, widths, scores)
	return summary, nil
}

// sample acquires, normalizes and measures one frame.
func (r *Runner) sample(src Source, cfg Config) (*pipeline.Result, error) {
	f, err := src.Read()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	normalized, raw := frame.Transform(f, cfg.Transform)
	defer normalized.Close()
	defer raw.Close()

	return r.pipe.MeasureFrame(normalized, cfg.Pipeline)
}

func writeRow(w *csv.Writer, i int, res *pipeline.Result, sampleErr error) {
	if w == nil {
		return
	}

	row := []string{strconv.Itoa(i), time.Now().Format(time.RFC3339), "", "", "", "", "", "", "", ""}
	if sampleErr != nil {
		row[9] = sampleErr.Error()
	} else {
		m := res.Measurement
		row[2] = strconv.FormatFloat(m.PxLength, 'f', 2, 64)
		row[3] = strconv.FormatFloat(m.PxWidth, 'f', 2, 64)
		if m.RealLengthMM != nil {
			row[4] = strconv.FormatFloat(*m.RealLengthMM, 'f', 2, 64)
		}
		if m.RealWidthMM != nil {
			row[5] = strconv.FormatFloat(*m.RealWidthMM, 'f', 2, 64)
		}
		row[6] = strconv.FormatFloat(res.MaskScore, 'f', 3, 64)
		row[7] = m.MethodName
		row[8] = string(m.Verdict)
	}

	if err := w.Write(row); err != nil {
		log.Printf("[harness] writing sample %d: %v", i, err)
		return
	}
	// Per-row flush so an interrupted run loses nothing.
	w.Flush()
}

func finalize(s *Summary, lengths, widths, scores []float64) {
	if len(lengths) == 0 {
		return
	}
	s.MeanLengthPx, s.StdLengthPx = stat.MeanStdDev(lengths, nil)
	s.MeanWidthPx, s.StdWidthPx = stat.MeanStdDev(widths, nil)
	s.MeanScore = stat.Mean(scores, nil)
}
