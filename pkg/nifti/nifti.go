package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"dmripipe/internal/models"
)

// Image is a decoded NIfTI file. Volumes holds one entry per time point.
type Image struct {
	Header  Header
	Volumes []models.Volume
}

// Read decodes the image at path. Files ending in .gz are decompressed.
func Read(fsys afero.Fs, path string) (*Image, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	img, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ReadVolume decodes the first volume of the image at path.
func ReadVolume(fsys afero.Fs, path string) (models.Volume, Header, error) {
	img, err := Read(fsys, path)
	if err != nil {
		return models.Volume{}, Header{}, err
	}
	return img.Volumes[0], img.Header, nil
}

func decode(r io.Reader) (*Image, error) {
	h, order, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	width, height, depth, n := h.Shape()
	bpv, err := bytesPerVoxel(h.Datatype)
	if err != nil {
		return nil, err
	}

	skip := int64(h.VoxOffset) - HeaderSize
	if skip < 0 {
		skip = dataOffset - HeaderSize
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, fmt.Errorf("skipping extensions: %w", err)
	}

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 {
		slope, inter = 1, 0
	}

	affine := h.Affine()
	voxels := width * height * depth
	buf := make([]byte, voxels*bpv)
	img := &Image{Header: h, Volumes: make([]models.Volume, n)}

	for t := 0; t < n; t++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading volume %d: %w", t, err)
		}
		vol := models.NewVolume(width, height, depth, affine)
		for i := 0; i < voxels; i++ {
			vol.Data[i] = decodeVoxel(buf[i*bpv:], h.Datatype, order)*slope + inter
		}
		img.Volumes[t] = vol
	}
	return img, nil
}

func decodeVoxel(b []byte, datatype int16, order binary.ByteOrder) float64 {
	switch datatype {
	case DTUint8:
		return float64(b[0])
	case DTInt16:
		return float64(int16(order.Uint16(b)))
	case DTUint16:
		return float64(order.Uint16(b))
	case DTInt32:
		return float64(int32(order.Uint32(b)))
	case DTFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case DTFloat64:
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}

// Write stores vol as a float64 image at path. The header's spatial and
// descriptive fields are taken from hdr, so maps derived from a series keep
// the header of the series. Paths ending in .gz are compressed.
func Write(fsys afero.Fs, path string, hdr Header, vol models.Volume) error {
	hdr.SizeofHdr = HeaderSize
	hdr.SetShape(vol.Width, vol.Height, vol.Depth)
	hdr.SetAffine(vol.Affine)

	f, err := fsys.Create(path)
	if err != nil {
		return err
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	bw := bufio.NewWriter(w)

	if err := encode(bw, hdr, vol); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return f.Close()
}

func encode(w io.Writer, hdr Header, vol models.Volume) error {
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	// No extensions.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	buf := make([]byte, 8)
	for _, v := range vol.Data {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
