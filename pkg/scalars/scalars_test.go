package scalars

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmripipe/internal/models"
	"dmripipe/pkg/nifti"
)

const (
	seriesDir = "/run/CMP/raw_diffusion/2x2x2"
	tablePath = "/ref/dsi_grad_514.txt"
	outDir    = "/run/CMP/raw_diffusion/odf_0"
)

func testAffine() models.Affine {
	return models.Affine{
		{-2, 0, 0, 90},
		{0, 2, 0, -126},
		{0, 0, 2, -72},
		{0, 0, 0, 1},
	}
}

// gradientRows returns a q=0 row followed by two directions on each of the
// shells 1..shells.
func gradientRows(shells int) [][3]float64 {
	rows := [][3]float64{{0, 0, 0}}
	for k := 1; k <= shells; k++ {
		q := float64(k)
		rows = append(rows, [3]float64{q, 0, 0}, [3]float64{0, q, 0})
	}
	return rows
}

func writeTable(t *testing.T, fsys afero.Fs, rows [][3]float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString("# synthetic q-space table\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%g %g %g\n", r[0], r[1], r[2])
	}
	require.NoError(t, afero.WriteFile(fsys, tablePath, []byte(b.String()), 0o644))
}

// writeSeries writes one volume per row where voxel v has signal
// 1000*exp(-d(v) q^2 + c q^4).
func writeSeries(t *testing.T, fsys afero.Fs, rows [][3]float64, w, h, d int, diff func(v int) float64, c float64) {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(seriesDir, 0o755))
	hdr := nifti.NewHeader(w, h, d, testAffine())
	for i, r := range rows {
		q := math.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2])
		vol := models.NewVolume(w, h, d, testAffine())
		for v := range vol.Data {
			D := diff(v)
			vol.Data[v] = 1000 * math.Exp(-D*q*q+c*q*q*q*q)
		}
		path := filepath.Join(seriesDir, fmt.Sprintf("MR%04d.nii.gz", i))
		require.NoError(t, nifti.Write(fsys, path, hdr, vol))
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadGradientTable(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTable(t, fsys, gradientRows(2))

	table, err := LoadGradientTable(fsys, tablePath)
	require.NoError(t, err)
	assert.Equal(t, 5, table.Len())
	assert.Equal(t, []float64{0, 1, 1, 2, 2}, table.Magnitudes())
}

func TestLoadGradientTableErrors(t *testing.T) {
	fsys := afero.NewMemMapFs()

	require.NoError(t, afero.WriteFile(fsys, "/narrow.txt", []byte("1 2\n"), 0o644))
	_, err := LoadGradientTable(fsys, "/narrow.txt")
	assert.ErrorContains(t, err, "at least 3 columns")

	require.NoError(t, afero.WriteFile(fsys, "/ragged.txt", []byte("1 2 3\n1 2 3 4\n"), 0o644))
	_, err = LoadGradientTable(fsys, "/ragged.txt")
	assert.ErrorContains(t, err, "expected 3 columns")

	require.NoError(t, afero.WriteFile(fsys, "/empty.txt", []byte("\n# nothing\n"), 0o644))
	_, err = LoadGradientTable(fsys, "/empty.txt")
	assert.ErrorContains(t, err, "empty")
}

func TestLoadSeriesSortsAndChecksShape(t *testing.T) {
	fsys := afero.NewMemMapFs()
	rows := gradientRows(6)
	writeSeries(t, fsys, rows, 2, 3, 2, func(int) float64 { return 0.01 }, 0)

	series, err := LoadSeries(fsys, seriesDir)
	require.NoError(t, err)
	assert.Equal(t, len(rows), series.N)
	assert.Equal(t, filepath.Join(seriesDir, "MR0000.nii.gz"), series.Files[0])
	assert.Equal(t, testAffine(), series.Affine)

	odd := models.NewVolume(3, 3, 2, testAffine())
	require.NoError(t, nifti.Write(fsys, filepath.Join(seriesDir, "MR9999.nii.gz"), nifti.NewHeader(3, 3, 2, testAffine()), odd))
	_, err = LoadSeries(fsys, seriesDir)
	assert.ErrorContains(t, err, "MR9999")
}

func TestEstimateRecoversDiffusivity(t *testing.T) {
	fsys := afero.NewMemMapFs()
	rows := gradientRows(6)
	diff := func(v int) float64 { return 0.01 + 0.002*float64(v) }
	writeSeries(t, fsys, rows, 2, 2, 2, diff, 0)
	writeTable(t, fsys, rows)

	series, err := LoadSeries(fsys, seriesDir)
	require.NoError(t, err)
	table, err := LoadGradientTable(fsys, tablePath)
	require.NoError(t, err)

	profile, err := Preprocess(series.Series, table, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, profile.MidPos)
	assert.Len(t, profile.QAxis, 13)
	assert.Equal(t, 0.0, profile.QAxis[profile.MidPos])

	set, err := Estimator{Workers: 1}.Estimate(profile)
	require.NoError(t, err)

	maps := set.Maps()
	require.Len(t, maps, 6)
	for _, m := range maps {
		assert.Equal(t, 2, m.Volume.Width, m.Name)
		assert.Equal(t, 2, m.Volume.Height, m.Name)
		assert.Equal(t, 2, m.Volume.Depth, m.Name)
	}
	for v := 0; v < 8; v++ {
		assert.InDelta(t, diff(v), set.ADC6.Data[v], 1e-9)
		assert.InDelta(t, diff(v), set.ADC8.Data[v], 1e-9)
		assert.InDelta(t, diff(v), set.ADC12.Data[v], 1e-9)
		assert.InDelta(t, 0, set.Ku12.Data[v], 1e-6)
	}
}

func TestEstimateRecoversKurtosis(t *testing.T) {
	fsys := afero.NewMemMapFs()
	rows := gradientRows(6)
	const D, c = 0.05, 0.0002
	writeSeries(t, fsys, rows, 1, 1, 1, func(int) float64 { return D }, c)
	writeTable(t, fsys, rows)

	series, err := LoadSeries(fsys, seriesDir)
	require.NoError(t, err)
	table, err := LoadGradientTable(fsys, tablePath)
	require.NoError(t, err)
	profile, err := Preprocess(series.Series, table, 1)
	require.NoError(t, err)
	set, err := Estimator{}.Estimate(profile)
	require.NoError(t, err)

	wantK := 6 * c / (D * D)
	assert.InDelta(t, D, set.ADC8.Data[0], 1e-9)
	assert.InDelta(t, wantK, set.Ku6.Data[0], 1e-6)
	assert.InDelta(t, wantK, set.Ku12.Data[0], 1e-6)
}

func TestEstimateParallelMatchesSerial(t *testing.T) {
	fsys := afero.NewMemMapFs()
	rows := gradientRows(6)
	writeSeries(t, fsys, rows, 4, 3, 5, func(v int) float64 { return 0.005 + 0.0001*float64(v) }, 0)
	writeTable(t, fsys, rows)

	series, err := LoadSeries(fsys, seriesDir)
	require.NoError(t, err)
	table, err := LoadGradientTable(fsys, tablePath)
	require.NoError(t, err)

	serialProfile, err := Preprocess(series.Series, table, 1)
	require.NoError(t, err)
	parallelProfile, err := Preprocess(series.Series, table, 7)
	require.NoError(t, err)
	assert.Equal(t, serialProfile.Data, parallelProfile.Data)

	serial, err := Estimator{Workers: 1}.Estimate(serialProfile)
	require.NoError(t, err)
	parallel, err := Estimator{Workers: 7}.Estimate(parallelProfile)
	require.NoError(t, err)
	assert.Equal(t, serial, parallel)
}

func TestEstimateNeedsEnoughShells(t *testing.T) {
	fsys := afero.NewMemMapFs()
	rows := gradientRows(4)
	writeSeries(t, fsys, rows, 1, 1, 1, func(int) float64 { return 0.01 }, 0)
	writeTable(t, fsys, rows)

	series, err := LoadSeries(fsys, seriesDir)
	require.NoError(t, err)
	table, err := LoadGradientTable(fsys, tablePath)
	require.NoError(t, err)
	profile, err := Preprocess(series.Series, table, 1)
	require.NoError(t, err)

	_, err = Estimator{}.Estimate(profile)
	assert.ErrorContains(t, err, "neighborhood")
}

func TestPreprocessRejectsMismatchedTable(t *testing.T) {
	fsys := afero.NewMemMapFs()

	// 514 table rows against 500 acquisitions must fail instead of
	// truncating or padding.
	table := make([][3]float64, 514)
	for i := range table {
		table[i] = [3]float64{float64(i % 7), 0, 0}
	}
	writeTable(t, fsys, table)
	writeSeries(t, fsys, table[:500], 1, 1, 1, func(int) float64 { return 0.01 }, 0)

	_, err := Run(fsys, Job{SeriesDir: seriesDir, GradientTable: tablePath, OutDir: outDir, Prefix: "dsi_"}, discard())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLengthMismatch))

	files, _ := afero.Glob(fsys, filepath.Join(outDir, "*"))
	assert.Empty(t, files, "nothing is written when estimation fails")
}

func TestPreprocessRequiresB0(t *testing.T) {
	fsys := afero.NewMemMapFs()
	rows := gradientRows(6)[1:]
	writeSeries(t, fsys, rows, 1, 1, 1, func(int) float64 { return 0.01 }, 0)
	writeTable(t, fsys, rows)

	series, err := LoadSeries(fsys, seriesDir)
	require.NoError(t, err)
	table, err := LoadGradientTable(fsys, tablePath)
	require.NoError(t, err)
	_, err = Preprocess(series.Series, table, 1)
	assert.True(t, errors.Is(err, ErrNoB0))
}

func TestRunWritesImagesAndMatrices(t *testing.T) {
	fsys := afero.NewMemMapFs()
	rows := gradientRows(6)
	writeSeries(t, fsys, rows, 3, 2, 2, func(v int) float64 { return 0.01 + 0.001*float64(v) }, 0.00001)
	writeTable(t, fsys, rows)
	require.NoError(t, fsys.MkdirAll(outDir, 0o755))

	written, err := Run(fsys, Job{SeriesDir: seriesDir, GradientTable: tablePath, OutDir: outDir, Prefix: "dsi_", Workers: 2}, discard())
	require.NoError(t, err)
	assert.Len(t, written, 12)

	for _, name := range []string{"ADC6", "ADC8", "ADC12", "Ku6", "Ku8", "Ku12"} {
		img, hdr, err := nifti.ReadVolume(fsys, filepath.Join(outDir, "dsi_"+name+".nii"))
		require.NoError(t, err, name)
		assert.Equal(t, testAffine(), img.Affine, name)
		assert.Equal(t, testAffine(), hdr.Affine(), name)
		assert.Equal(t, "3x2x2", img.Shape(), name)

		raw, err := ReadMatrix(fsys, filepath.Join(outDir, "dsi_"+name+MatrixExt))
		require.NoError(t, err, name)
		assert.Equal(t, img.Data, raw.Data, name)
		assert.True(t, raw.SameShape(img), name)
	}
}

func TestReadMatrixRejectsBadExtents(t *testing.T) {
	fsys := afero.NewMemMapFs()

	for name, dims := range map[string][3]int64{
		"negative": {-1, 2, 2},
		"zero":     {3, 0, 2},
		"huge":     {1 << 40, 1, 1},
	} {
		f, err := fsys.Create("/bad.dmat")
		require.NoError(t, err)
		require.NoError(t, binary.Write(f, binary.LittleEndian, matrixMagic))
		require.NoError(t, binary.Write(f, binary.LittleEndian, dims))
		require.NoError(t, f.Close())

		_, err = ReadMatrix(fsys, "/bad.dmat")
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "invalid extents", name)
	}
}

func TestReadMatrixRejectsForeignFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/x.mat", []byte("MATLAB 5.0 MAT-file"), 0o644))

	_, err := ReadMatrix(fsys, "/x.mat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a matrix artifact")
}
