// Package reconstruction runs the diffusion reconstruction stage: it
// dispatches on the configured modality, drives the external diffusion
// toolkit through a fixed per-branch sequence of steps and, for DSI,
// estimates ADC and kurtosis maps in process.
//
// Each step is bracketed by file checks. A missing direct input of the next
// tool aborts the branch, a missing deliverable only degrades the run.
package reconstruction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"dmripipe/pkg/config"
	"dmripipe/pkg/environment"
	"dmripipe/pkg/notify"
	"dmripipe/pkg/provenance"
	"dmripipe/pkg/runner"
	"dmripipe/pkg/step"
)

// Name identifies the stage in the provenance store.
const Name = "reconstruction"

// moduleTitle is the module name used in the completion notification.
const moduleTitle = "Diffusion module"

// State is the lifecycle position of a stage run.
type State int

const (
	Idle State = iota
	Dispatched
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatched:
		return "dispatched"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Report summarizes one stage run.
type Report struct {
	Modality config.Modality
	State    State

	// Journal lists every step outcome in execution order
	Journal step.Journal

	// Invocations lists every external command in execution order
	Invocations []runner.Result

	Elapsed time.Duration
}

// Commands returns the invoked executables in order.
func (r *Report) Commands() []runner.Command {
	cmds := make([]runner.Command, len(r.Invocations))
	for i, inv := range r.Invocations {
		cmds[i] = inv.Command
	}
	return cmds
}

// Stage is the reconstruction stage. The zero value is not usable; build one
// with New.
type Stage struct {
	fs     afero.Fs
	runner runner.Runner
	store  provenance.Store

	// Notifier is called on completion when the configuration lists
	// recipients. Nil disables notifications.
	Notifier notify.Notifier
}

// New creates a stage working on fsys, invoking tools through r and
// declaring its files to store.
func New(fsys afero.Fs, r runner.Runner, store provenance.Store) *Stage {
	return &Stage{fs: fsys, runner: r, store: store}
}

// Execute declares the stage inputs, runs the branch of cfg.Modality and,
// when the branch completed, declares the stage outputs. An unknown modality
// returns config.ErrUnknownModality before anything is invoked or declared.
func (s *Stage) Execute(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Report, error) {
	log = log.With("stage", Name)
	if !cfg.Modality.Valid() {
		err := fmt.Errorf("%w: %q", config.ErrUnknownModality, cfg.Modality)
		log.Error("refusing to dispatch", "err", err)
		return &Report{Modality: cfg.Modality, State: Idle}, err
	}
	// The stage may run without preprocessing in the same process.
	if err := environment.Apply(log); err != nil {
		return &Report{Modality: cfg.Modality, State: Idle}, err
	}

	if err := s.DeclareInputs(ctx, cfg); err != nil {
		return &Report{Modality: cfg.Modality, State: Idle}, err
	}

	report, err := s.Run(ctx, cfg, log)
	if err != nil {
		return report, err
	}

	if err := s.DeclareOutputs(ctx, cfg); err != nil {
		return report, err
	}
	return report, nil
}

// Run dispatches on the modality and runs its branch to completion or to
// the first fatal step. It does not declare anything.
func (s *Stage) Run(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Report, error) {
	start := time.Now()
	report := &Report{Modality: cfg.Modality, State: Idle}

	var run func(*branch) error
	switch cfg.Modality {
	case config.DSI:
		run = (*branch).dsi
	case config.DTI:
		run = (*branch).dti
	case config.QBALL:
		run = (*branch).qball
	default:
		return report, fmt.Errorf("%w: %q", config.ErrUnknownModality, cfg.Modality)
	}
	report.State = Dispatched
	log.Info("dispatched", "modality", cfg.Modality)

	b := &branch{ctx: ctx, cfg: cfg, log: log, fs: s.fs, runner: s.runner, report: report}
	report.State = Running
	err := run(b)
	report.Elapsed = time.Since(start)
	if err != nil {
		report.State = Aborted
		log.Error("stage aborted", "modality", cfg.Modality, "err", err)
		return report, err
	}

	report.State = Completed
	log.Info("module finished",
		"modality", cfg.Modality,
		"seconds", int(report.Elapsed.Seconds()),
		"degraded", len(report.Journal.Degraded()))

	s.notify(ctx, cfg, log, report)
	return report, nil
}

func (s *Stage) notify(ctx context.Context, cfg *config.Config, log *slog.Logger, report *Report) {
	if len(cfg.EmailNotify) == 0 || s.Notifier == nil {
		return
	}
	msg := notify.Message{Module: moduleTitle, Elapsed: report.Elapsed}
	if err := s.Notifier.Notify(ctx, cfg.EmailNotify, msg); err != nil {
		log.Error("notification failed", "err", err)
	}
}
