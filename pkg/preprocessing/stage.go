// Package preprocessing runs the first pipeline stage: it prepares the
// toolkit environment, records the system setup in the run log and
// provisions the run's directory tree.
package preprocessing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"dmripipe/pkg/config"
	"dmripipe/pkg/environment"
	"dmripipe/pkg/layout"
	"dmripipe/pkg/runner"
)

// Name identifies the stage in logs.
const Name = "preprocessing"

// SystemProbes are run once per stage to record toolkit versions. Their
// outcome is logged and never checked.
var SystemProbes = []runner.Command{
	runner.New("uname", "-a"),
	runner.New("recon-all", "--version"),
	runner.New("flirt", "-version"),
}

// Report summarizes one preprocessing run.
type Report struct {
	Layout      layout.Report
	Invocations []runner.Result
	Elapsed     time.Duration
}

// Stage is the preprocessing stage.
type Stage struct {
	fs     afero.Fs
	runner runner.Runner
}

// New creates a stage provisioning directories on fsys.
func New(fsys afero.Fs, r runner.Runner) *Stage {
	return &Stage{fs: fsys, runner: r}
}

// Run applies the environment, logs the system setup, provisions the
// directory layout and logs the toolkit homes. Only a failure to set the
// environment is returned; probe and provisioning failures are logged.
func (s *Stage) Run(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Report, error) {
	log = log.With("stage", Name)
	start := time.Now()
	report := &Report{}

	log.Info("preprocessing")
	if err := environment.Apply(log); err != nil {
		return report, fmt.Errorf("preparing environment: %w", err)
	}

	for _, cmd := range SystemProbes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Invocations = append(report.Invocations, s.runner.Run(ctx, cmd, log))
	}

	report.Layout = layout.Provision(s.fs, cfg, log)
	if n := len(report.Layout.Failed); n > 0 {
		log.Error("directory provisioning incomplete", "failed", n)
	}

	log.Info("path configuration",
		"freesurfer_home", cfg.Homes.FreeSurfer,
		"fsl_home", cfg.Homes.FSL,
		"dtk_home", cfg.Homes.DTK,
		"dtk_matrices", cfg.Homes.DTKMatrices)

	report.Elapsed = time.Since(start)
	log.Info("module finished", "seconds", int(report.Elapsed.Seconds()))
	return report, nil
}
