package config

import "path/filepath"

func (c *Config) root(elem ...string) string {
	return filepath.Join(append([]string{c.ProjectDir}, elem...)...)
}

// NiftiDir holds the converted raw NIfTI volumes (DSI.nii.gz, DTI.nii.gz, ...).
func (c *Config) NiftiDir() string { return c.root("NIFTI") }

// NiftiTrafoDir holds registration transforms.
func (c *Config) NiftiTrafoDir() string { return c.root("NIFTI", "transformations") }

// NiftiWMCorrectionDir holds white-matter mask corrections.
func (c *Config) NiftiWMCorrectionDir() string { return c.root("NIFTI", "wm_correction") }

// DiffusionMetadataDir holds gradient and acquisition metadata.
func (c *Config) DiffusionMetadataDir() string { return c.root("NIFTI", "diffusion_metadata") }

// FreeSurferDir is the FreeSurfer subject directory.
func (c *Config) FreeSurferDir() string { return c.root("FREESURFER") }

// FreeSurferOrigDir is where recon-all expects its input volumes.
func (c *Config) FreeSurferOrigDir() string { return c.root("FREESURFER", "mri", "orig") }

// TractoMaskDir holds native-space tractography masks, one subdirectory per parcellation.
func (c *Config) TractoMaskDir() string { return c.root("CMP", "tractography", "masks") }

// TractoMaskB0Dir holds b0-space tractography masks, one subdirectory per parcellation.
func (c *Config) TractoMaskB0Dir() string { return c.root("CMP", "tractography", "masks_tob0") }

// FibersDir holds tractography output.
func (c *Config) FibersDir() string { return c.root("CMP", "fibers") }

// MatricesDir holds connection matrices.
func (c *Config) MatricesDir() string { return c.root("CMP", "fibers", "matrices") }

// ScalarsDir holds compressed scalar maps.
func (c *Config) ScalarsDir() string { return c.root("CMP", "scalars") }

// RawDiffDir holds the resampled diffusion volume.
func (c *Config) RawDiffDir() string { return c.root("CMP", "raw_diffusion") }

// ResampledDir holds the per-acquisition volumes resampled to 2x2x2 mm.
func (c *Config) ResampledDir() string { return c.root("CMP", "raw_diffusion", "2x2x2") }

// ReconOutDir holds the reconstruction toolkit output.
func (c *Config) ReconOutDir() string { return c.root("CMP", "raw_diffusion", "odf_0") }

// CFFDir holds the connectome file output.
func (c *Config) CFFDir() string { return c.root("CFF") }

// LogDir holds the run log and provenance database.
func (c *Config) LogDir() string { return c.root("LOG") }

// StatsDir holds run statistics.
func (c *Config) StatsDir() string { return c.root("STATS") }

// RawT1Dir holds the raw T1 DICOM series.
func (c *Config) RawT1Dir() string { return c.root("RAWDATA", "T1") }

// RawT2Dir holds the raw T2 series; only used with nonlinear registration.
func (c *Config) RawT2Dir() string { return c.root("RAWDATA", "T2") }

// RawDiffusionDir holds the raw diffusion series of the configured modality.
func (c *Config) RawDiffusionDir() string { return c.root("RAWDATA", string(c.Modality)) }

// GradientTablePath resolves a named reference gradient table.
func (c *Config) GradientTablePath(name string) string {
	return filepath.Join(c.Tools.GradientTableDir, name+".txt")
}

// BinaryPath resolves a helper binary shipped with the pipeline.
func (c *Config) BinaryPath(name string) string {
	if c.Tools.BinaryPath == "" {
		return name
	}
	return filepath.Join(c.Tools.BinaryPath, name)
}
