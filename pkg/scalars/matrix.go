package scalars

import (
	"bufio"
	"encoding/binary"
	"fmt"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/mat"

	"dmripipe/internal/models"
)

var matrixMagic = [4]byte{'D', 'M', 'A', 'T'}

// MatrixExt is the file extension of matrix artifacts. The layout is
// private to this package; it is not a MATLAB file.
const MatrixExt = ".dmat"

// maxExtent bounds each stored dimension when reading an artifact back.
const maxExtent = 1 << 16

// WriteMatrix stores vol as a raw numeric matrix: a magic tag, the three
// extents as little-endian int64, then the voxels as a gonum dense matrix of
// Height*Depth rows by Width columns.
func WriteMatrix(fsys afero.Fs, path string, vol models.Volume) error {
	if vol.Voxels() == 0 {
		return fmt.Errorf("%s: empty volume", path)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	dims := [3]int64{int64(vol.Width), int64(vol.Height), int64(vol.Depth)}
	if err := binary.Write(w, binary.LittleEndian, matrixMagic); err != nil {
		f.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dims); err != nil {
		f.Close()
		return err
	}
	m := mat.NewDense(vol.Height*vol.Depth, vol.Width, vol.Data)
	if _, err := m.MarshalBinaryTo(w); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadMatrix loads a volume written by WriteMatrix. The affine is not part
// of the artifact and is left as identity.
func ReadMatrix(fsys afero.Fs, path string) (models.Volume, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return models.Volume{}, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic [4]byte
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return models.Volume{}, fmt.Errorf("%s: %w", path, err)
	}
	if magic != matrixMagic {
		return models.Volume{}, fmt.Errorf("%s: not a matrix artifact", path)
	}
	var dims [3]int64
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return models.Volume{}, fmt.Errorf("%s: %w", path, err)
	}

	for _, d := range dims {
		if d < 1 || d > maxExtent {
			return models.Volume{}, fmt.Errorf("%s: invalid extents %v", path, dims)
		}
	}

	var m mat.Dense
	if _, err := m.UnmarshalBinaryFrom(r); err != nil {
		return models.Volume{}, fmt.Errorf("%s: %w", path, err)
	}

	vol := models.NewVolume(int(dims[0]), int(dims[1]), int(dims[2]), models.Identity())
	rows, cols := m.Dims()
	if rows*cols != vol.Voxels() || cols != vol.Width {
		return models.Volume{}, fmt.Errorf("%s: matrix is %dx%d, header says %s", path, rows, cols, vol.Shape())
	}
	for i := 0; i < rows; i++ {
		copy(vol.Data[i*cols:(i+1)*cols], m.RawRowView(i))
	}
	return vol, nil
}
