package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmripipe/pkg/config"
	"dmripipe/pkg/layout"
	"dmripipe/pkg/provenance"
	"dmripipe/pkg/reconstruction"
	"dmripipe/pkg/runner"
	"dmripipe/pkg/step"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ProjectDir = "/proj"
	cfg.Modality = config.DTI
	cfg.RegistrationMode = "Linear"
	cfg.Parcellation = map[string]config.Parcellation{"lausanne2008": {NumberOfRegions: 83}}
	cfg.Tools.GradientTableFile = "/ref/gradient_table.txt"
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dtiTools creates the outputs of the DTI toolchain.
func dtiTools(fsys afero.Fs, calls *[]string) runner.Runner {
	touch := func(path string) {
		_ = afero.WriteFile(fsys, path, []byte("x"), 0o644)
	}
	return runner.Func(func(_ context.Context, cmd runner.Command, _ *slog.Logger) runner.Result {
		*calls = append(*calls, filepath.Base(cmd.Name))
		switch filepath.Base(cmd.Name) {
		case "fslsplit":
			touch(cmd.Args[1] + "0000.nii.gz")
		case "fslmerge":
			touch(cmd.Args[1])
		case "dti_recon":
			touch(cmd.Args[1] + "tensor.nii")
			touch(cmd.Args[1] + "fa.nii")
			touch(cmd.Args[1] + "adc.nii")
		case "DTB_dtk2dir":
			touch(cmd.Args[1] + "dir.nii")
		}
		return runner.Result{Command: cmd, Status: runner.Succeeded}
	})
}

func TestRunDTIScenario(t *testing.T) {
	t.Setenv("FSLOUTPUTTYPE", "")
	t.Setenv("FSF_OUTPUT_FORMAT", "")

	fsys := afero.NewMemMapFs()
	cfg := testConfig()
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(cfg.NiftiDir(), "DTI.nii.gz"), []byte("raw"), 0o644))
	store := provenance.NewMemoryStore()
	var calls []string

	res, err := Run(context.Background(), cfg, Deps{FS: fsys, Runner: dtiTools(fsys, &calls), Store: store}, discard())
	require.NoError(t, err)

	plan := layout.Build(cfg)
	assert.False(t, plan.Contains(cfg.RawT2Dir()))
	for _, root := range []string{cfg.TractoMaskDir(), cfg.TractoMaskB0Dir()} {
		entries, err := afero.ReadDir(fsys, root)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "lausanne2008", entries[0].Name())
	}

	assert.Equal(t, []string{"uname", "recon-all", "flirt"}, calls[:3], "preprocessing runs first")
	assert.Equal(t, reconstruction.Completed, res.Reconstruction.State)
	assert.Equal(t, []string{"DTI.nii.gz"}, provenance.Filenames(store.Inputs(reconstruction.Name)))
	assert.Equal(t,
		[]string{"DTI_resampled_2x2x2.nii.gz", "dti_dir.nii", "dti_tensor.nii"},
		provenance.Filenames(store.Outputs(reconstruction.Name)))
}

func TestRunRejectsUnknownModality(t *testing.T) {
	cfg := testConfig()
	cfg.Modality = "HARDI"
	var calls []string
	fsys := afero.NewMemMapFs()

	_, err := Run(context.Background(), cfg, Deps{FS: fsys, Runner: dtiTools(fsys, &calls), Store: provenance.NewMemoryStore()}, discard())
	assert.True(t, errors.Is(err, config.ErrUnknownModality))
	assert.Empty(t, calls)
}

func TestRunReturnsReconstructionAbort(t *testing.T) {
	t.Setenv("FSLOUTPUTTYPE", "")
	t.Setenv("FSF_OUTPUT_FORMAT", "")

	fsys := afero.NewMemMapFs()
	cfg := testConfig()
	var calls []string

	res, err := Run(context.Background(), cfg, Deps{FS: fsys, Runner: dtiTools(fsys, &calls), Store: provenance.NewMemoryStore()}, discard())
	require.Error(t, err)
	assert.True(t, errors.Is(err, step.ErrMissingPrerequisite))
	require.NotNil(t, res.Preprocessing)
	assert.NotEmpty(t, res.Preprocessing.Layout.Created)
	assert.Equal(t, reconstruction.Aborted, res.Reconstruction.State)
}
