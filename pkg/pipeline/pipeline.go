// Package pipeline runs the stages of a diffusion run in order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"dmripipe/pkg/config"
	"dmripipe/pkg/notify"
	"dmripipe/pkg/preprocessing"
	"dmripipe/pkg/provenance"
	"dmripipe/pkg/reconstruction"
	"dmripipe/pkg/runner"
)

// Deps are the collaborators shared by every stage.
type Deps struct {
	FS     afero.Fs
	Runner runner.Runner
	Store  provenance.Store

	// Notifier may be nil
	Notifier notify.Notifier
}

// Result holds the report of every stage that ran.
type Result struct {
	Preprocessing  *preprocessing.Report
	Reconstruction *reconstruction.Report
	Elapsed        time.Duration
}

// Run validates cfg and runs preprocessing then reconstruction. Stages never
// overlap. A reconstruction abort is returned along with the partial result.
func Run(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	start := time.Now()
	res := &Result{}

	pre, err := preprocessing.New(deps.FS, deps.Runner).Run(ctx, cfg, log)
	res.Preprocessing = pre
	if err != nil {
		return res, fmt.Errorf("%s: %w", preprocessing.Name, err)
	}

	stage := reconstruction.New(deps.FS, deps.Runner, deps.Store)
	stage.Notifier = deps.Notifier
	rec, err := stage.Execute(ctx, cfg, log)
	res.Reconstruction = rec
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("%s: %w", reconstruction.Name, err)
	}

	log.Info("pipeline finished", "modality", cfg.Modality, "elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}
