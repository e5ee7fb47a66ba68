package layout

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmripipe/pkg/config"
)

func testConfig(root string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.ProjectDir = root
	cfg.Modality = config.DTI
	cfg.RegistrationMode = "Linear"
	cfg.Parcellation = map[string]config.Parcellation{"lausanne2008": {NumberOfRegions: 83}}
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildLinearSingleParcellation(t *testing.T) {
	cfg := testConfig("/run")
	plan := Build(cfg)

	assert.False(t, plan.Contains(cfg.RawT2Dir()), "T2 directory is only needed for nonlinear registration")
	assert.True(t, plan.Contains(cfg.FreeSurferOrigDir()))
	assert.True(t, plan.Contains(filepath.Join(cfg.TractoMaskDir(), "lausanne2008")))
	assert.True(t, plan.Contains(filepath.Join(cfg.TractoMaskB0Dir(), "lausanne2008")))

	under := func(root string) int {
		n := 0
		for _, d := range plan {
			if filepath.Dir(d) == root {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, under(cfg.TractoMaskDir()))
	assert.Equal(t, 1, under(cfg.TractoMaskB0Dir()))
}

func TestBuildNonlinearAddsT2(t *testing.T) {
	cfg := testConfig("/run")
	cfg.RegistrationMode = config.RegistrationNonlinear
	assert.True(t, Build(cfg).Contains(cfg.RawT2Dir()))
}

func TestBuildParcellationCount(t *testing.T) {
	cfg := testConfig("/run")
	cfg.Parcellation = config.DefaultConfig().Parcellation
	n := len(cfg.Parcellation)

	plan := Build(cfg)

	var native, b0 []string
	for _, d := range plan {
		switch filepath.Dir(d) {
		case cfg.TractoMaskDir():
			native = append(native, filepath.Base(d))
		case cfg.TractoMaskB0Dir():
			b0 = append(b0, filepath.Base(d))
		}
	}
	require.Len(t, native, n)
	require.Len(t, b0, n)
	if diff := cmp.Diff(cfg.ParcellationNames(), native); diff != "" {
		t.Errorf("native mask dirs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(native, b0); diff != "" {
		t.Errorf("b0 mask dirs mismatch (-native +b0):\n%s", diff)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	cfg := testConfig("/run")
	cfg.Parcellation = config.DefaultConfig().Parcellation
	first := Build(cfg)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, Build(cfg)); diff != "" {
			t.Fatalf("plan changed between builds:\n%s", diff)
		}
	}
}

func TestProvisionIdempotent(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := testConfig("/run")

	keep := filepath.Join(cfg.NiftiDir(), "DTI.nii.gz")
	require.NoError(t, fsys.MkdirAll(cfg.NiftiDir(), 0o755))
	require.NoError(t, afero.WriteFile(fsys, keep, []byte("raw"), 0o644))

	first := Provision(fsys, cfg, discard())
	assert.Empty(t, first.Failed)
	assert.Equal(t, []string{cfg.NiftiDir()}, first.Existing)

	var buf bytes.Buffer
	second := Provision(fsys, cfg, slog.New(slog.NewTextHandler(&buf, nil)))
	assert.Empty(t, second.Failed)
	assert.Empty(t, second.Created)
	if diff := cmp.Diff([]string(Build(cfg)), second.Existing); diff != "" {
		t.Errorf("second pass should find every directory (-want +got):\n%s", diff)
	}
	assert.Equal(t, len(Build(cfg)), strings.Count(buf.String(), "already present"))

	data, err := afero.ReadFile(fsys, keep)
	require.NoError(t, err)
	assert.Equal(t, "raw", string(data), "existing content must survive provisioning")
}

func TestProvisionBestEffort(t *testing.T) {
	base := afero.NewMemMapFs()
	cfg := testConfig("/run")
	require.NoError(t, base.MkdirAll(cfg.NiftiDir(), 0o755))

	// Creation fails everywhere on a read-only view, but the pass still
	// visits every directory.
	ro := afero.NewReadOnlyFs(base)
	var buf bytes.Buffer
	rep := Provision(ro, cfg, slog.New(slog.NewTextHandler(&buf, nil)))

	plan := Build(cfg)
	assert.Equal(t, []string{cfg.NiftiDir()}, rep.Existing)
	assert.Len(t, rep.Failed, len(plan)-1)
	assert.Contains(t, buf.String(), "level=ERROR")
}
