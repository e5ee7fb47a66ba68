package scalars

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"dmripipe/pkg/nifti"
)

// WriteMapSet writes every map of set twice into dir: as <prefix><name>.nii
// with the given header, and as a <prefix><name>.dmat matrix artifact. It
// returns the written paths.
func WriteMapSet(fsys afero.Fs, dir, prefix string, hdr nifti.Header, set *MapSet) ([]string, error) {
	var written []string
	for _, m := range set.Maps() {
		img := filepath.Join(dir, prefix+m.Name+".nii")
		if err := nifti.Write(fsys, img, hdr, m.Volume); err != nil {
			return written, fmt.Errorf("writing %s: %w", m.Name, err)
		}
		written = append(written, img)

		raw := filepath.Join(dir, prefix+m.Name+MatrixExt)
		if err := WriteMatrix(fsys, raw, m.Volume); err != nil {
			return written, fmt.Errorf("writing %s matrix: %w", m.Name, err)
		}
		written = append(written, raw)
	}
	return written, nil
}
