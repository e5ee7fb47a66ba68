// Package step models the outcome of a single pipeline step.
//
// A step either succeeds, completes with a missing deliverable (degraded), or
// fails because the direct input of the next external tool is absent (fatal).
// Stages record every Result so their failure policy can be audited after
// the run.
package step

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
)

var (
	// ErrMissingPrerequisite marks a missing direct input of the next step.
	ErrMissingPrerequisite = errors.New("missing prerequisite")

	// ErrDegradedOutput marks a missing final deliverable.
	ErrDegradedOutput = errors.New("degraded output")
)

// MissingPrerequisiteError reports the absent input file.
type MissingPrerequisiteError struct {
	Step string
	Path string
}

func (e *MissingPrerequisiteError) Error() string {
	return fmt.Sprintf("%s: no input file available: %s", e.Step, e.Path)
}

func (e *MissingPrerequisiteError) Unwrap() error { return ErrMissingPrerequisite }

// DegradedOutputError reports the absent deliverable.
type DegradedOutputError struct {
	Step string
	What string
	Path string
}

func (e *DegradedOutputError) Error() string {
	return fmt.Sprintf("%s: unable to produce %s: %s not found", e.Step, e.What, e.Path)
}

func (e *DegradedOutputError) Unwrap() error { return ErrDegradedOutput }

// Outcome classifies a step.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Degraded  Outcome = "degraded"
	Fatal     Outcome = "fatal"
)

// Result is the outcome of one step. Err is nil only when Outcome is Succeeded.
type Result struct {
	Name    string
	Outcome Outcome
	Err     error
}

// OK builds a successful result.
func OK(name string) Result {
	return Result{Name: name, Outcome: Succeeded}
}

// Degrade builds a degraded result.
func Degrade(name string, err error) Result {
	return Result{Name: name, Outcome: Degraded, Err: err}
}

// Abort builds a fatal result.
func Abort(name string, err error) Result {
	return Result{Name: name, Outcome: Fatal, Err: err}
}

// Require checks that path, the direct input of the next external step,
// exists. Absence is fatal.
func Require(fsys afero.Fs, name, path string) Result {
	ok, err := afero.Exists(fsys, path)
	if err != nil {
		return Abort(name, fmt.Errorf("checking %s: %w", path, err))
	}
	if !ok {
		return Abort(name, &MissingPrerequisiteError{Step: name, Path: path})
	}
	return OK(name)
}

// Expect checks that the deliverable at path was produced. Absence degrades
// the run but does not stop it.
func Expect(fsys afero.Fs, name, what, path string) Result {
	ok, err := afero.Exists(fsys, path)
	if err != nil {
		return Degrade(name, fmt.Errorf("checking %s: %w", path, err))
	}
	if !ok {
		return Degrade(name, &DegradedOutputError{Step: name, What: what, Path: path})
	}
	return OK(name)
}

// Log writes r to log: nothing for success, ERROR for anything else.
func (r Result) Log(log *slog.Logger) {
	switch r.Outcome {
	case Succeeded:
		log.Debug("step ok", "step", r.Name)
	case Degraded:
		log.Error("degraded output", "step", r.Name, "err", r.Err)
	case Fatal:
		log.Error("missing prerequisite", "step", r.Name, "err", r.Err)
	}
}

// Journal accumulates step results in execution order.
type Journal struct {
	Results []Result
}

// Record appends r, logs it and returns it for chaining.
func (j *Journal) Record(log *slog.Logger, r Result) Result {
	j.Results = append(j.Results, r)
	r.Log(log)
	return r
}

// Degraded returns the results that completed with a missing deliverable.
func (j *Journal) Degraded() []Result {
	var out []Result
	for _, r := range j.Results {
		if r.Outcome == Degraded {
			out = append(out, r)
		}
	}
	return out
}

// Fatal returns the first fatal result, if any.
func (j *Journal) Fatal() (Result, bool) {
	for _, r := range j.Results {
		if r.Outcome == Fatal {
			return r, true
		}
	}
	return Result{}, false
}

// Names returns the step names in execution order.
func (j *Journal) Names() []string {
	names := make([]string, len(j.Results))
	for i, r := range j.Results {
		names[i] = r.Name
	}
	return names
}
