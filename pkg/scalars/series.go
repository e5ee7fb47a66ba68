package scalars

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"dmripipe/internal/models"
	"dmripipe/pkg/nifti"
)

// AcquisitionPattern matches the per-acquisition files written by fslsplit.
const AcquisitionPattern = "MR*.nii.gz"

// Series is a loaded volume series together with the header of its first
// acquisition, which every derived map reuses.
type Series struct {
	*models.Series
	Header nifti.Header
}

// AcquisitionFiles lists the per-acquisition files of dir in lexicographic order.
func AcquisitionFiles(fsys afero.Fs, dir string) ([]string, error) {
	files, err := afero.Glob(fsys, filepath.Join(dir, AcquisitionPattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// LoadSeries stacks every acquisition file of dir along a fourth axis. All
// acquisitions must have the spatial shape of the first one.
func LoadSeries(fsys afero.Fs, dir string) (*Series, error) {
	files, err := AcquisitionFiles(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("listing acquisitions: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no acquisitions matching %s in %s", AcquisitionPattern, dir)
	}

	first, hdr, err := nifti.ReadVolume(fsys, files[0])
	if err != nil {
		return nil, err
	}

	series := models.NewSeries(first, len(files))
	series.Files = files
	if err := series.SetAcquisition(0, first); err != nil {
		return nil, err
	}
	for t, file := range files[1:] {
		vol, _, err := nifti.ReadVolume(fsys, file)
		if err != nil {
			return nil, err
		}
		if err := series.SetAcquisition(t+1, vol); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	}

	return &Series{Series: series, Header: hdr}, nil
}
