// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz). Only what the pipeline needs is supported: 3D and 4D scalar
// images of the common integer and floating point datatypes.
package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"dmripipe/internal/models"
)

// HeaderSize is sizeof_hdr of a NIfTI-1 header.
const HeaderSize = 348

// dataOffset is where voxel data starts in a single-file image: the header
// plus the four byte extension flag.
const dataOffset = 352

// Datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTUint16  int16 = 512
)

var ErrNotNifti = errors.New("not a NIfTI-1 file")

// Header is the on-disk NIfTI-1 header, field for field.
type Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// NewHeader returns a header for a float64 volume of the given shape.
func NewHeader(width, height, depth int, affine models.Affine) Header {
	var h Header
	h.SizeofHdr = HeaderSize
	h.Regular = 'r'
	h.Pixdim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	h.XyztUnits = 2 // mm
	h.SetShape(width, height, depth)
	h.SetAffine(affine)
	return h
}

// SetShape makes h describe a 3D float64 volume.
func (h *Header) SetShape(width, height, depth int) {
	h.Dim = [8]int16{3, int16(width), int16(height), int16(depth), 1, 1, 1, 1}
	h.Datatype = DTFloat64
	h.Bitpix = 64
	h.VoxOffset = dataOffset
	h.SclSlope = 1
	h.SclInter = 0
	h.Magic = [4]byte{'n', '+', '1', 0}
}

// SetAffine stores a as the sform.
func (h *Header) SetAffine(a models.Affine) {
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(a[0][c])
		h.SrowY[c] = float32(a[1][c])
		h.SrowZ[c] = float32(a[2][c])
	}
	if h.SformCode == 0 {
		h.SformCode = 1
	}
}

// Affine returns the voxel-to-world transform: the sform when present,
// otherwise a scaling by the voxel sizes.
func (h Header) Affine() models.Affine {
	if h.SformCode > 0 {
		a := models.Identity()
		for c := 0; c < 4; c++ {
			a[0][c] = float64(h.SrowX[c])
			a[1][c] = float64(h.SrowY[c])
			a[2][c] = float64(h.SrowZ[c])
		}
		return a
	}
	a := models.Identity()
	for i := 0; i < 3; i++ {
		if px := float64(h.Pixdim[i+1]); px != 0 {
			a[i][i] = px
		}
	}
	return a
}

// Shape returns the spatial extents and the number of volumes.
func (h Header) Shape() (width, height, depth, n int) {
	dims := int(h.Dim[0])
	get := func(i int) int {
		if i > dims || h.Dim[i] < 1 {
			return 1
		}
		return int(h.Dim[i])
	}
	return get(1), get(2), get(3), get(4)
}

func bytesPerVoxel(datatype int16) (int, error) {
	switch datatype {
	case DTUint8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported NIfTI datatype %d", datatype)
}

// readHeader decodes a header and reports the byte order it was stored in.
func readHeader(r io.Reader) (Header, binary.ByteOrder, error) {
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Header{}, nil, fmt.Errorf("reading header: %w", err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(raw[:4]) != HeaderSize {
		if binary.BigEndian.Uint32(raw[:4]) != HeaderSize {
			return Header{}, nil, ErrNotNifti
		}
		order = binary.BigEndian
	}

	var h Header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return Header{}, nil, fmt.Errorf("decoding header: %w", err)
	}
	if h.Magic[0] != 'n' || (h.Magic[1] != '+' && h.Magic[1] != 'i') || h.Magic[2] != '1' {
		return Header{}, nil, ErrNotNifti
	}
	return h, order, nil
}
