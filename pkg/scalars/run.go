package scalars

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
)

// Job describes one estimation over a resampled acquisition directory.
type Job struct {
	// SeriesDir holds the per-acquisition volumes
	SeriesDir string

	// GradientTable is the path of the q-space table
	GradientTable string

	// OutDir and Prefix determine the output file names
	OutDir string
	Prefix string

	Workers int
}

// Run loads the series and gradient table, estimates the maps and writes
// them. It either completes or returns the first error.
func Run(fsys afero.Fs, job Job, log *slog.Logger) ([]string, error) {
	series, err := LoadSeries(fsys, job.SeriesDir)
	if err != nil {
		return nil, fmt.Errorf("loading series: %w", err)
	}
	log.Info("loaded volume series",
		"acquisitions", series.N,
		"shape", fmt.Sprintf("%dx%dx%d", series.Width, series.Height, series.Depth))

	table, err := LoadGradientTable(fsys, job.GradientTable)
	if err != nil {
		return nil, err
	}

	profile, err := Preprocess(series.Series, table, job.Workers)
	if err != nil {
		return nil, fmt.Errorf("preprocessing: %w", err)
	}
	log.Info("resampled q-space profile", "points", len(profile.QAxis), "mid_pos", profile.MidPos)

	set, err := Estimator{Workers: job.Workers}.Estimate(profile)
	if err != nil {
		return nil, fmt.Errorf("estimating: %w", err)
	}

	written, err := WriteMapSet(fsys, job.OutDir, job.Prefix, series.Header, set)
	if err != nil {
		return written, err
	}
	log.Info("wrote scalar maps", "files", len(written))
	return written, nil
}
