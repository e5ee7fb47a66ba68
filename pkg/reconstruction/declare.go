package reconstruction

import (
	"context"
	"fmt"
	"strings"

	"dmripipe/pkg/config"
)

// file is one declared stage file.
type file struct {
	dir      string
	filename string
	name     string
}

// outputPrefix is the file prefix of the toolkit outputs of each modality.
var outputPrefix = map[config.Modality]string{
	config.DSI:   "dsi_",
	config.DTI:   "dti_",
	config.QBALL: "hardi_",
}

// primaryOutput is the main reconstruction volume of each modality.
var primaryOutput = map[config.Modality]string{
	config.DSI:   "dsi_odf.nii",
	config.DTI:   "dti_tensor.nii",
	config.QBALL: "hardi_odf.nii",
}

// symbolicName derives the provenance name of a file: dots become dashes.
func symbolicName(filename string) string {
	return strings.ReplaceAll(filename, ".", "-")
}

// rawInput is the raw 4-D series of the modality.
func rawInput(cfg *config.Config) file {
	filename := string(cfg.Modality) + ".nii.gz"
	return file{
		dir:      cfg.NiftiDir(),
		filename: filename,
		name:     strings.ToLower(symbolicName(filename)),
	}
}

// resampledName is the merged 2x2x2 volume of the modality.
func resampledName(cfg *config.Config) string {
	return string(cfg.Modality) + "_resampled_2x2x2.nii.gz"
}

func inputs(cfg *config.Config) []file {
	return []file{rawInput(cfg)}
}

func outputs(cfg *config.Config) []file {
	out := cfg.ReconOutDir()
	primary := primaryOutput[cfg.Modality]
	direction := outputPrefix[cfg.Modality] + "dir.nii"
	return []file{
		{dir: cfg.RawDiffDir(), filename: resampledName(cfg), name: symbolicName(resampledName(cfg))},
		{dir: out, filename: primary, name: symbolicName(primary)},
		{dir: out, filename: direction, name: symbolicName(direction)},
	}
}

// DeclareInputs registers the raw series the stage consumes.
func (s *Stage) DeclareInputs(ctx context.Context, cfg *config.Config) error {
	if !cfg.Modality.Valid() {
		return fmt.Errorf("%w: %q", config.ErrUnknownModality, cfg.Modality)
	}
	for _, f := range inputs(cfg) {
		if err := s.store.AddStageInput(ctx, Name, f.dir, f.filename, f.name); err != nil {
			return fmt.Errorf("declaring input %s: %w", f.filename, err)
		}
	}
	return nil
}

// DeclareOutputs registers the deliverables the stage promises. The files
// are not checked: this is the stage's contract, not a manifest.
func (s *Stage) DeclareOutputs(ctx context.Context, cfg *config.Config) error {
	if !cfg.Modality.Valid() {
		return fmt.Errorf("%w: %q", config.ErrUnknownModality, cfg.Modality)
	}
	for _, f := range outputs(cfg) {
		if err := s.store.AddStageOutput(ctx, Name, f.dir, f.filename, f.name); err != nil {
			return fmt.Errorf("declaring output %s: %w", f.filename, err)
		}
	}
	return nil
}
