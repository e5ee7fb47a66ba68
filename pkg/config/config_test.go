package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Modality != DSI {
		t.Errorf("expected default modality DSI, got %s", cfg.Modality)
	}
}

func TestValidateRejectsUnknownModality(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Modality = "HARDI"

	err := cfg.Validate()
	if !errors.Is(err, ErrUnknownModality) {
		t.Fatalf("expected ErrUnknownModality, got %v", err)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "run.yaml")

	cfg := DefaultConfig()
	cfg.ProjectDir = "/data/subj01"
	cfg.Modality = QBALL
	cfg.RegistrationMode = RegistrationNonlinear
	cfg.Parcellation = map[string]Parcellation{"lausanne2008": {NumberOfRegions: 83}}
	cfg.Tools.HARDIReconParam = "-b0 1 -p 3 -sn 1"
	cfg.EmailNotify = []string{"ops@example.org"}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ProjectDir != cfg.ProjectDir || loaded.Modality != QBALL {
		t.Errorf("round trip lost fields: %+v", loaded)
	}
	if loaded.RegistrationMode != RegistrationNonlinear {
		t.Errorf("registration mode = %q", loaded.RegistrationMode)
	}
	if got := loaded.ParcellationNames(); len(got) != 1 || got[0] != "lausanne2008" {
		t.Errorf("parcellation names = %v", got)
	}
	if loaded.Tools.HARDIReconParam != cfg.Tools.HARDIReconParam {
		t.Errorf("hardi param = %q", loaded.Tools.HARDIReconParam)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tools.NrOfGradientDirections != 515 {
		t.Errorf("expected default gradient directions, got %d", cfg.Tools.NrOfGradientDirections)
	}
}

func TestParcellationNamesSorted(t *testing.T) {
	cfg := DefaultConfig()
	names := cfg.ParcellationNames()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestPathAccessors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProjectDir = "/runs/s1"

	cases := map[string]string{
		cfg.NiftiDir():          "/runs/s1/NIFTI",
		cfg.ResampledDir():      "/runs/s1/CMP/raw_diffusion/2x2x2",
		cfg.ReconOutDir():       "/runs/s1/CMP/raw_diffusion/odf_0",
		cfg.FreeSurferOrigDir(): "/runs/s1/FREESURFER/mri/orig",
		cfg.RawDiffusionDir():   "/runs/s1/RAWDATA/DSI",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}

	if got := cfg.BinaryPath("DTB_gfa"); got != "DTB_gfa" {
		t.Errorf("binary without base path = %s", got)
	}
	cfg.Tools.BinaryPath = "/opt/cmp/bin"
	if got := cfg.BinaryPath("DTB_gfa"); got != "/opt/cmp/bin/DTB_gfa" {
		t.Errorf("binary path = %s", got)
	}
}

func TestLoadConfigKeepsOnlyListedParcellations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := "project_dir: /data/s1\ndiffusion_imaging_model: DTI\nparcellation:\n  lausanne2008:\n    number_of_regions: 83\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.ParcellationNames(); len(got) != 1 || got[0] != "lausanne2008" {
		t.Errorf("parcellation names = %v", got)
	}
	if cfg.Tools.NrOfGradientDirections != 515 {
		t.Errorf("unlisted keys should keep defaults, got %d", cfg.Tools.NrOfGradientDirections)
	}
}

func TestLoadConfigWithoutParcellationKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("project_dir: /data/s1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(cfg.Parcellation); got != 5 {
		t.Errorf("expected the 5 default schemes, got %d", got)
	}
}

func TestValidateRejectsQuotedParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tools.DTK2DirParam = `--dirlist "/a b/vecs"`

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "dtb_dtk2dir_param") {
		t.Fatalf("expected quoted parameter error, got %v", err)
	}

	cfg.Tools.DTK2DirParam = "--ix --iy"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unquoted parameters should validate: %v", err)
	}
}
