// Package config provides the run configuration for dmripipe.
// It handles loading configuration from YAML files, provides default values,
// and exposes the directory accessors every stage works against.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Modality is the diffusion acquisition protocol of a run.
type Modality string

const (
	DSI   Modality = "DSI"
	DTI   Modality = "DTI"
	QBALL Modality = "QBALL"
)

// Modalities lists every supported acquisition protocol.
var Modalities = []Modality{DSI, DTI, QBALL}

// ErrUnknownModality is returned for a diffusion_imaging_model outside DSI, DTI and QBALL.
var ErrUnknownModality = errors.New("unknown diffusion imaging model")

// Valid reports whether m is one of the supported modalities.
func (m Modality) Valid() bool {
	for _, known := range Modalities {
		if m == known {
			return true
		}
	}
	return false
}

// RegistrationNonlinear enables the secondary anatomical (T2) scan.
const RegistrationNonlinear = "Nonlinear"

// Parcellation describes one anatomical parcellation scheme.
type Parcellation struct {
	NumberOfRegions int    `yaml:"number_of_regions"`
	NodeInformation string `yaml:"node_information_graphml,omitempty"`
	Surface         string `yaml:"surface,omitempty"`
}

// Tools holds the parameters handed to the external diffusion toolkit.
type Tools struct {
	// Free-form parameter strings; empty means the literal default is used.
	// They are split on whitespace without shell parsing, so a value cannot
	// contain spaces and quote characters are rejected by Validate.
	DTIReconParam   string `yaml:"dti_recon_param"`
	ODFReconParam   string `yaml:"odf_recon_param"`
	HARDIReconParam string `yaml:"hardi_recon_param"`
	DTK2DirParam    string `yaml:"dtb_dtk2dir_param"`

	NrOfGradientDirections int `yaml:"nr_of_gradient_directions"`
	NrOfSamplingDirections int `yaml:"nr_of_sampling_directions"`
	NrOfB0                 int `yaml:"nr_of_b0"`
	MaxB0Val               int `yaml:"max_b0_val"`

	// GradientTableFile is the -gm table used by dti_recon and hardi_mat
	GradientTableFile string `yaml:"gradient_table_file"`

	// GradientTableDir holds reference tables such as dsi_grad_514.txt
	GradientTableDir string `yaml:"gradient_table_dir"`

	// DSIMatrixFile is the DTK reconstruction matrix for DSI
	DSIMatrixFile string `yaml:"dsi_matrix_file"`

	// StreamlineVecsFile is the direction list handed to DTB_dtk2dir
	StreamlineVecsFile string `yaml:"streamline_vecs_file"`

	// BinaryPath is where the DTB_* helper binaries live
	BinaryPath string `yaml:"binary_path"`
}

// Homes records installation roots of the external toolkits, logged at preprocessing.
type Homes struct {
	FreeSurfer  string `yaml:"freesurfer_home"`
	FSL         string `yaml:"fsl_home"`
	DTK         string `yaml:"dtk_home"`
	DTKMatrices string `yaml:"dtk_matrices"`
}

// Config represents the run configuration loaded from YAML
type Config struct {
	// ProjectDir is the root of the run's directory tree
	ProjectDir string `yaml:"project_dir"`

	// Modality selects the reconstruction branch
	Modality Modality `yaml:"diffusion_imaging_model"`

	// RegistrationMode is Linear or Nonlinear
	RegistrationMode string `yaml:"registration_mode"`

	// Parcellation maps scheme name to its metadata
	Parcellation map[string]Parcellation `yaml:"parcellation"`

	// EmailNotify lists recipients of the completion notification
	EmailNotify []string `yaml:"emailnotify"`

	Tools Tools `yaml:"tools"`
	Homes Homes `yaml:"homes"`

	// DSI branch switches
	DSI struct {
		// Resample runs the split/resample/merge step before ODF reconstruction
		Resample bool `yaml:"resample"`

		// ConvertToDir runs DTB_dtk2dir after the scalar maps
		ConvertToDir bool `yaml:"convert_to_dir"`

		// GradientTable names the q-space table used by the ADC estimator
		GradientTable string `yaml:"gradient_table"`
	} `yaml:"dsi"`

	// Processing parameters
	Processing struct {
		// NumCores bounds the worker goroutines of the ADC estimator
		NumCores int `yaml:"num_cores"`
	} `yaml:"processing"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.ProjectDir = "."
	cfg.Modality = DSI
	cfg.RegistrationMode = "Linear"
	cfg.Parcellation = map[string]Parcellation{
		"scale33":  {NumberOfRegions: 83},
		"scale60":  {NumberOfRegions: 129},
		"scale125": {NumberOfRegions: 234},
		"scale250": {NumberOfRegions: 463},
		"scale500": {NumberOfRegions: 1015},
	}

	cfg.Tools.NrOfGradientDirections = 515
	cfg.Tools.NrOfSamplingDirections = 181
	cfg.Tools.NrOfB0 = 1
	cfg.Tools.MaxB0Val = 1000

	cfg.DSI.GradientTable = "dsi_grad_514"
	cfg.Processing.NumCores = runtime.NumCPU()

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// yaml.v3 merges into existing maps, so the default schemes only apply
	// when the file lists none.
	defaults := cfg.Parcellation
	cfg.Parcellation = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if cfg.Parcellation == nil {
		cfg.Parcellation = defaults
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks the fields a run cannot start without.
func (c *Config) Validate() error {
	if c.ProjectDir == "" {
		return fmt.Errorf("project_dir is required")
	}
	if !c.Modality.Valid() {
		return fmt.Errorf("%w: %q (want one of DSI, DTI, QBALL)", ErrUnknownModality, c.Modality)
	}
	for name := range c.Parcellation {
		if name == "" {
			return fmt.Errorf("parcellation contains an empty scheme name")
		}
	}
	for key, params := range c.Tools.params() {
		if strings.ContainsAny(params, `"'`) {
			return fmt.Errorf("tools.%s: quotes are not supported, parameters are split on whitespace: %q", key, params)
		}
	}
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("processing.num_cores must not be negative")
	}
	return nil
}

func (t Tools) params() map[string]string {
	return map[string]string{
		"dti_recon_param":   t.DTIReconParam,
		"odf_recon_param":   t.ODFReconParam,
		"hardi_recon_param": t.HARDIReconParam,
		"dtb_dtk2dir_param": t.DTK2DirParam,
	}
}

// ParcellationNames returns the parcellation scheme names in sorted order.
func (c *Config) ParcellationNames() []string {
	names := make([]string, 0, len(c.Parcellation))
	for name := range c.Parcellation {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Workers returns the estimator worker count, at least one.
func (c *Config) Workers() int {
	if c.Processing.NumCores < 1 {
		return 1
	}
	return c.Processing.NumCores
}
