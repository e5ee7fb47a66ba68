package scalars

import (
	"errors"
	"fmt"

	"dmripipe/internal/models"
	"dmripipe/pkg/interpolation"
)

var (
	// ErrLengthMismatch is returned when the gradient table and the volume
	// series disagree on the number of acquisitions.
	ErrLengthMismatch = errors.New("gradient table rows do not match acquisitions")

	// ErrNoB0 is returned when no acquisition has a zero gradient.
	ErrNoB0 = errors.New("gradient table has no q=0 acquisition")
)

// Profile is the volume series resampled onto a 1D q axis.
type Profile struct {
	// QAxis is symmetric around MidPos, where q = 0
	QAxis []float64

	// Data holds len(QAxis) samples per voxel, voxel-major
	Data []float64

	// MidPos is the index of q = 0; samples above it have increasing b-value
	MidPos int

	// Template carries the spatial shape and affine of the series
	Template models.Volume
}

// Samples returns the resampled profile of voxel v. The slice aliases Data.
func (p *Profile) Samples(v int) []float64 {
	n := len(p.QAxis)
	return p.Data[v*n : (v+1)*n]
}

// Voxels returns the number of voxels in the profile.
func (p *Profile) Voxels() int {
	return p.Template.Voxels()
}

// Preprocess groups the acquisitions into q-space shells, averages each
// voxel's signal per shell and interpolates it onto a uniform symmetric q
// axis with one point per shell on each side of q = 0. No fitting happens
// here.
func Preprocess(series *models.Series, table *GradientTable, workers int) (*Profile, error) {
	if table.Len() != series.N {
		return nil, fmt.Errorf("%w: %d rows, %d acquisitions", ErrLengthMismatch, table.Len(), series.N)
	}

	shells, err := interpolation.GroupShells(table.Magnitudes(), interpolation.DefaultTolerance)
	if err != nil {
		return nil, err
	}
	if shells.Q[0] > interpolation.DefaultTolerance*shells.Q[len(shells.Q)-1] {
		return nil, ErrNoB0
	}
	shells.Q[0] = 0

	m := len(shells.Q) - 1
	axis := interpolation.SymmetricAxis(shells.Q[m], m)
	profile := &Profile{
		QAxis:    axis,
		Data:     make([]float64, series.Voxels()*len(axis)),
		MidPos:   m,
		Template: series.Template(),
	}

	err = forChunks(series.Voxels(), workers, func(lo, hi int) error {
		rs, err := interpolation.NewResampler(shells.Q, axis)
		if err != nil {
			return err
		}
		means := make([]float64, len(shells.Q))
		for v := lo; v < hi; v++ {
			shells.Means(series.Signal(v), means)
			if err := rs.Resample(means, profile.Samples(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}
