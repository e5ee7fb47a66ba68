package reconstruction

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"dmripipe/pkg/config"
	"dmripipe/pkg/runner"
	"dmripipe/pkg/scalars"
	"dmripipe/pkg/step"
)

// Literal parameter strings used when the configuration leaves them empty.
const (
	defaultDSIODFParams   = "-b0 1 -dsi -p 4 -sn 0"
	defaultHARDIODFParams = "-b0 1 -p 3 -sn 1"
)

// firstAcquisition is the file odf_recon reads; it locates the rest itself.
const firstAcquisition = "MR0000.nii.gz"

// branch carries the state of one modality run.
type branch struct {
	ctx    context.Context
	cfg    *config.Config
	log    *slog.Logger
	fs     afero.Fs
	runner runner.Runner
	report *Report
}

func (b *branch) run(cmd runner.Command) runner.Result {
	res := b.runner.Run(b.ctx, cmd, b.log)
	b.report.Invocations = append(b.report.Invocations, res)
	return res
}

func (b *branch) record(r step.Result) step.Result {
	return b.report.Journal.Record(b.log, r)
}

// require records a fatal result when path is absent and returns its error.
func (b *branch) require(name, path string) error {
	if err := b.ctx.Err(); err != nil {
		return b.record(step.Abort(name, err)).Err
	}
	r := b.record(step.Require(b.fs, name, path))
	if r.Outcome == step.Fatal {
		return r.Err
	}
	b.log.Debug("found input", "step", name, "path", path)
	return nil
}

// expect records a degraded result when the deliverable at path is absent.
func (b *branch) expect(name, what, path string) bool {
	return b.record(step.Expect(b.fs, name, what, path)).Outcome == step.Succeeded
}

// scalarMap checks a scalar deliverable in the reconstruction output
// directory and, when present, stores a compressed copy among the scalar
// maps. A failed copy is logged and recorded but never stops the branch.
func (b *branch) scalarMap(name, what, filename string) {
	src := filepath.Join(b.cfg.ReconOutDir(), filename)
	if !b.expect(name, what, src) {
		return
	}
	dst := filepath.Join(b.cfg.ScalarsDir(), filename+".gz")
	b.log.Info("gzip compress", "src", src, "dst", dst)
	if err := gzipCopy(b.fs, src, dst); err != nil {
		b.record(step.Degrade(name+"-copy", err))
	}
}

func (b *branch) reconOut(prefix string) string {
	return filepath.Join(b.cfg.ReconOutDir(), prefix)
}

func (b *branch) resampledVolume() string {
	return filepath.Join(b.cfg.RawDiffDir(), resampledName(b.cfg))
}

// resample splits the raw series into per-acquisition files, resamples each
// to 2x2x2 mm in place and merges them back into one volume.
func (b *branch) resample() error {
	b.log.Info("resample the dataset to 2x2x2 mm^3", "modality", b.cfg.Modality)

	in := rawInput(b.cfg)
	input := filepath.Join(in.dir, in.filename)
	if err := b.require("resample", input); err != nil {
		return err
	}

	dir := b.cfg.ResampledDir()
	b.run(runner.New("fslsplit", input, filepath.Join(dir, "MR"), "-t"))

	files, err := scalars.AcquisitionFiles(b.fs, dir)
	if err != nil {
		return b.record(step.Abort("resample", err)).Err
	}
	tmp := filepath.Join(dir, "tmp.nii.gz")
	for _, f := range files {
		b.run(runner.New("mri_convert").Flag("-vs", "2", "2", "2").Arg(f, tmp))
		b.run(runner.New("fslmaths", tmp, f).Flag("-odt", "short"))
	}

	b.run(runner.New("fslmerge", "-a", b.resampledVolume()).Arg(files...))
	b.record(step.OK("resample"))
	return nil
}

func (b *branch) dti() error {
	if err := b.resample(); err != nil {
		return err
	}

	b.log.Info("compute diffusion tensor field")
	input := b.resampledVolume()
	if err := b.require("tensor", input); err != nil {
		return err
	}
	tools := b.cfg.Tools
	b.run(runner.New("dti_recon", input, b.reconOut("dti_")).
		Flag("-b0", strconv.Itoa(tools.NrOfB0)).
		Flag("-b", strconv.Itoa(tools.MaxB0Val)).
		Params(tools.DTIReconParam).
		Flag("-gm", tools.GradientTableFile).
		Flag("-ot", "nii"))

	b.scalarMap("fa-map", "FA map", "dti_fa.nii")
	b.scalarMap("adc-map", "ADC map", "dti_adc.nii")

	b.log.Info("convert to direction field")
	b.run(runner.New(b.cfg.BinaryPath("DTB_dtk2dir")).
		Flag("--prefix", b.reconOut("dti_")).
		Flag("--type", "dti").
		Params(tools.DTK2DirParam))
	b.expect("direction-field", "dti_dir.nii", b.reconOut("dti_dir.nii"))
	return nil
}

func (b *branch) qball() error {
	if err := b.resample(); err != nil {
		return err
	}

	b.log.Info("compute the ODF field (HARDI/QBALL)")
	tools := b.cfg.Tools
	merged := b.resampledVolume()
	if err := b.require("direction-matrix", merged); err != nil {
		return err
	}
	matrix := filepath.Join(b.cfg.NiftiDir(), "temp_mat.dat")
	b.run(runner.New("hardi_mat", tools.GradientTableFile, matrix).
		Flag("-ref", merged).
		Arg("-oc"))

	first := filepath.Join(b.cfg.ResampledDir(), firstAcquisition)
	if err := b.require("odf", first); err != nil {
		return err
	}
	params := tools.HARDIReconParam
	if params == "" {
		params = defaultHARDIODFParams
	}
	b.run(runner.New("odf_recon", first,
		strconv.Itoa(tools.NrOfGradientDirections),
		strconv.Itoa(tools.NrOfSamplingDirections),
		b.reconOut("hardi_")).
		Flag("-mat", matrix).
		Flag("-s", "0").
		Params(params).
		Flag("-ot", "nii"))
	b.expect("odf", "ODF", b.reconOut("hardi_odf.nii"))

	b.log.Info("convert to direction field")
	b.run(runner.New(b.cfg.BinaryPath("DTB_dtk2dir")).
		Flag("--prefix", b.reconOut("hardi_")).
		Flag("--type", "dsi").
		Flag("--dirlist", tools.StreamlineVecsFile).
		Params(tools.DTK2DirParam))
	b.expect("direction-field", "hardi_dir.nii", b.reconOut("hardi_dir.nii"))
	return nil
}

// gfaMoments maps the DTB_gfa moment flag to the map it produces.
var gfaMoments = []struct {
	moment   string
	name     string
	what     string
	filename string
}{
	{"2", "gfa-map", "GFA map", "dsi_gfa.nii"},
	{"3", "skewness-map", "skewness map", "dsi_skewness.nii"},
	{"4", "kurtosis-map", "kurtosis map", "dsi_kurtosis.nii"},
}

func (b *branch) dsi() error {
	if b.cfg.DSI.Resample {
		if err := b.resample(); err != nil {
			return err
		}
	}

	b.log.Info("compute the ODF field")
	tools := b.cfg.Tools
	first := filepath.Join(b.cfg.ResampledDir(), firstAcquisition)
	if err := b.require("odf", first); err != nil {
		return err
	}
	params := tools.ODFReconParam
	if params == "" {
		params = defaultDSIODFParams
	}
	prefix := b.reconOut("dsi_")
	b.run(runner.New("odf_recon", first,
		strconv.Itoa(tools.NrOfGradientDirections),
		strconv.Itoa(tools.NrOfSamplingDirections),
		prefix).
		Flag("-mat", tools.DSIMatrixFile).
		Flag("-s", "0").
		Params(params).
		Flag("-ot", "nii"))
	b.expect("odf", "ODF", b.reconOut("dsi_odf.nii"))

	for _, m := range gfaMoments {
		b.run(runner.New(b.cfg.BinaryPath("DTB_gfa")).
			Flag("--dsi", prefix).
			Flag("--m", m.moment))
		b.scalarMap(m.name, m.what, m.filename)
	}

	b.run(runner.New(b.cfg.BinaryPath("DTB_P0")).
		Flag("--dsi", prefix).
		Flag("--dwi", filepath.Join(b.cfg.NiftiDir(), "DSI.nii.gz")))
	b.scalarMap("p0-map", "P0 map", "dsi_P0.nii")

	b.log.Info("compute ADC")
	if err := b.ctx.Err(); err != nil {
		return b.record(step.Abort("adc", err)).Err
	}
	_, err := scalars.Run(b.fs, scalars.Job{
		SeriesDir:     b.cfg.ResampledDir(),
		GradientTable: b.cfg.GradientTablePath(b.cfg.DSI.GradientTable),
		OutDir:        b.cfg.ReconOutDir(),
		Prefix:        "dsi_",
		Workers:       b.cfg.Workers(),
	}, b.log)
	if err != nil {
		return b.record(step.Abort("adc", err)).Err
	}
	b.record(step.OK("adc"))

	if !b.cfg.DSI.ConvertToDir {
		return nil
	}
	b.log.Info("convert to direction field")
	b.run(runner.New(b.cfg.BinaryPath("DTB_dtk2dir")).
		Flag("--dirlist", tools.StreamlineVecsFile).
		Flag("--prefix", prefix).
		Flag("--type", "dsi").
		Flag("--vf", "0").
		Params(tools.DTK2DirParam))
	b.expect("direction-field", "dsi_dir.nii", b.reconOut("dsi_dir.nii"))
	return nil
}
