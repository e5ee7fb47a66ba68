// Package interpolation provides the 1D q-space resampling used before the
// diffusion scalar fits: acquisitions are grouped into shells of equal
// gradient magnitude and the per-shell signal is interpolated onto a
// uniformly spaced, symmetric q axis.
package interpolation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// DefaultTolerance is the relative gap below which two gradient magnitudes
// belong to the same shell.
const DefaultTolerance = 1e-3

var ErrTooFewShells = errors.New("need at least two q-space shells")

// Shells groups acquisitions by gradient magnitude.
type Shells struct {
	// Q holds the mean magnitude of each shell, strictly increasing
	Q []float64

	// Members holds the acquisition indices of each shell
	Members [][]int
}

// GroupShells clusters the magnitudes q into shells. Two consecutive sorted
// magnitudes closer than tol*max(q) share a shell.
func GroupShells(q []float64, tol float64) (Shells, error) {
	if len(q) == 0 {
		return Shells{}, ErrTooFewShells
	}

	order := make([]int, len(q))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return q[order[a]] < q[order[b]] })

	gap := tol * floats.Max(q)

	var s Shells
	current := []int{order[0]}
	flush := func() {
		vals := make([]float64, len(current))
		for i, idx := range current {
			vals[i] = q[idx]
		}
		s.Q = append(s.Q, stat.Mean(vals, nil))
		s.Members = append(s.Members, current)
	}
	for _, idx := range order[1:] {
		if q[idx]-q[current[len(current)-1]] <= gap {
			current = append(current, idx)
			continue
		}
		flush()
		current = []int{idx}
	}
	flush()

	if len(s.Q) < 2 {
		return s, ErrTooFewShells
	}
	return s, nil
}

// Means averages signal over the members of each shell into dst.
func (s Shells) Means(signal, dst []float64) {
	for i, members := range s.Members {
		sum := 0.0
		for _, idx := range members {
			sum += signal[idx]
		}
		dst[i] = sum / float64(len(members))
	}
}

// SymmetricAxis returns 2m+1 uniformly spaced points over [-qmax, qmax].
// Index m is q = 0.
func SymmetricAxis(qmax float64, m int) []float64 {
	axis := make([]float64, 2*m+1)
	for i := range axis {
		axis[i] = float64(i-m) * qmax / float64(m)
	}
	axis[m] = 0
	return axis
}

// Resampler interpolates shell profiles onto a fixed axis. The profile is
// symmetric in q, so points on the negative half read the value at |q|.
type Resampler struct {
	shells []float64
	axis   []float64
	pl     interp.PiecewiseLinear
}

// NewResampler prepares interpolation from the shell magnitudes onto axis.
func NewResampler(shells, axis []float64) (*Resampler, error) {
	if len(shells) < 2 {
		return nil, ErrTooFewShells
	}
	for i := 1; i < len(shells); i++ {
		if !(shells[i] > shells[i-1]) {
			return nil, fmt.Errorf("shell magnitudes must be strictly increasing at %d", i)
		}
	}
	return &Resampler{shells: shells, axis: axis}, nil
}

// Resample writes the interpolated values of ys (one per shell) at every
// axis point into dst, which must have the length of the axis.
func (r *Resampler) Resample(ys, dst []float64) error {
	if len(ys) != len(r.shells) {
		return fmt.Errorf("got %d shell values, want %d", len(ys), len(r.shells))
	}
	if len(dst) != len(r.axis) {
		return fmt.Errorf("destination has %d points, want %d", len(dst), len(r.axis))
	}
	if err := r.pl.Fit(r.shells, ys); err != nil {
		return fmt.Errorf("fitting shell profile: %w", err)
	}
	for i, q := range r.axis {
		dst[i] = r.pl.Predict(math.Abs(q))
	}
	return nil
}
