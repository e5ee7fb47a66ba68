package models

import "fmt"

// Affine maps voxel indices (i, j, k, 1) to scanner coordinates in mm.
type Affine [4][4]float64

// Identity returns the identity affine.
func Identity() Affine {
	return Affine{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Volume represents a 3D scalar volume
type Volume struct {
	// Data holds the voxels with x varying fastest, then y, then z
	// (the on-disk NIfTI order).
	Data []float64

	// Width, Height and Depth are the extents along x, y and z in voxels
	Width, Height, Depth int

	// Affine is the voxel-to-world transform shared by every volume of a run
	Affine Affine
}

// NewVolume allocates a zero-filled volume.
func NewVolume(width, height, depth int, affine Affine) Volume {
	return Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
		Affine: affine,
	}
}

// Voxels returns the number of voxels in the volume.
func (v Volume) Voxels() int {
	return v.Width * v.Height * v.Depth
}

// Index returns the offset of voxel (x, y, z) in Data.
func (v Volume) Index(x, y, z int) int {
	return x + v.Width*(y+v.Height*z)
}

// At returns the value of voxel (x, y, z).
func (v Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// SameShape reports whether two volumes have identical extents.
func (v Volume) SameShape(o Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// Shape formats the extents as XxYxZ.
func (v Volume) Shape() string {
	return fmt.Sprintf("%dx%dx%d", v.Width, v.Height, v.Depth)
}

// Series is a 4D stack of volumes: three spatial axes plus the acquisition
// index. Data is stored voxel-major so that the N samples of one voxel are
// contiguous, which is what the per-voxel fits need.
type Series struct {
	// Data has length Voxels()*N; voxel v owns Data[v*N:(v+1)*N]
	Data []float64

	// Width, Height, Depth are the spatial extents shared by all acquisitions
	Width, Height, Depth int

	// N is the number of acquisitions
	N int

	// Affine is taken from acquisition 0
	Affine Affine

	// Files lists the acquisition files in load order
	Files []string
}

// NewSeries allocates an empty series with the spatial shape of ref.
func NewSeries(ref Volume, n int) *Series {
	return &Series{
		Data:   make([]float64, ref.Voxels()*n),
		Width:  ref.Width,
		Height: ref.Height,
		Depth:  ref.Depth,
		N:      n,
		Affine: ref.Affine,
	}
}

// Voxels returns the number of spatial voxels.
func (s *Series) Voxels() int {
	return s.Width * s.Height * s.Depth
}

// Signal returns the acquisition samples of voxel v. The slice aliases Data.
func (s *Series) Signal(v int) []float64 {
	return s.Data[v*s.N : (v+1)*s.N]
}

// SetAcquisition copies vol into acquisition slot t.
func (s *Series) SetAcquisition(t int, vol Volume) error {
	if t < 0 || t >= s.N {
		return fmt.Errorf("acquisition index %d out of range [0,%d)", t, s.N)
	}
	if vol.Width != s.Width || vol.Height != s.Height || vol.Depth != s.Depth {
		return fmt.Errorf("acquisition %d has shape %s, expected %dx%dx%d",
			t, vol.Shape(), s.Width, s.Height, s.Depth)
	}
	for v, val := range vol.Data {
		s.Data[v*s.N+t] = val
	}
	return nil
}

// Template returns an empty volume with the series' spatial shape and affine.
func (s *Series) Template() Volume {
	return NewVolume(s.Width, s.Height, s.Depth, s.Affine)
}
