// Package layout computes and provisions the directory tree of a pipeline run.
package layout

import (
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"dmripipe/pkg/config"
)

// Plan is the ordered list of directories a run needs.
type Plan []string

// Build derives the directory plan from cfg. Parcellation subdirectories are
// appended in sorted scheme order, first under the native-space mask root and
// then under the b0-space mask root.
func Build(cfg *config.Config) Plan {
	plan := Plan{
		cfg.NiftiDir(),
		cfg.FreeSurferDir(),
		cfg.TractoMaskDir(),
		cfg.TractoMaskB0Dir(),
		cfg.FibersDir(),
		cfg.LogDir(),
		cfg.StatsDir(),
		cfg.RawT1Dir(),
		cfg.RawDiffusionDir(),
		cfg.ScalarsDir(),
		cfg.MatricesDir(),
		cfg.NiftiTrafoDir(),
		cfg.DiffusionMetadataDir(),
		cfg.NiftiWMCorrectionDir(),
		cfg.ResampledDir(),
		cfg.ReconOutDir(),
		cfg.CFFDir(),
		cfg.FreeSurferOrigDir(),
	}

	if cfg.RegistrationMode == config.RegistrationNonlinear {
		plan = append(plan, cfg.RawT2Dir())
	}

	names := cfg.ParcellationNames()
	for _, p := range names {
		plan = append(plan, filepath.Join(cfg.TractoMaskDir(), p))
	}
	for _, p := range names {
		plan = append(plan, filepath.Join(cfg.TractoMaskB0Dir(), p))
	}

	return plan
}

// Contains reports whether dir is part of the plan.
func (p Plan) Contains(dir string) bool {
	for _, d := range p {
		if d == dir {
			return true
		}
	}
	return false
}

// Failure is a directory that could not be created.
type Failure struct {
	Path string
	Err  error
}

// Report summarises a provisioning pass.
type Report struct {
	Created  []string
	Existing []string
	Failed   []Failure
}

// Provision creates every directory of the plan that is missing. It is
// best-effort: a directory that cannot be created is logged and recorded,
// and the remaining paths are still attempted. Existing content is never
// touched.
func Provision(fsys afero.Fs, cfg *config.Config, log *slog.Logger) Report {
	var rep Report

	for _, dir := range Build(cfg) {
		exists, err := afero.DirExists(fsys, dir)
		if err == nil && exists {
			log.Info("directory already present", "path", dir)
			rep.Existing = append(rep.Existing, dir)
			continue
		}

		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			log.Error("unable to create directory", "path", dir, "err", err)
			rep.Failed = append(rep.Failed, Failure{Path: dir, Err: err})
			continue
		}
		log.Info("created directory", "path", dir)
		rep.Created = append(rep.Created, dir)
	}

	return rep
}
