package scalars

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"dmripipe/internal/models"
)

// NeighborhoodSizes are the fit window widths, in axis points on either side
// of q = 0 combined.
var NeighborhoodSizes = [3]int{6, 8, 12}

// minSignal replaces non-positive samples before taking the logarithm.
const minSignal = 1e-12

// MapSet holds the six estimated scalar volumes.
type MapSet struct {
	ADC6, ADC8, ADC12 models.Volume
	Ku6, Ku8, Ku12    models.Volume
}

// NamedMap pairs a map with its file stem.
type NamedMap struct {
	Name   string
	Volume models.Volume
}

// Maps lists the volumes with their names in a fixed order.
func (s *MapSet) Maps() []NamedMap {
	return []NamedMap{
		{"ADC6", s.ADC6}, {"ADC8", s.ADC8}, {"ADC12", s.ADC12},
		{"Ku6", s.Ku6}, {"Ku8", s.Ku8}, {"Ku12", s.Ku12},
	}
}

// Estimator fits ADC and kurtosis per voxel.
type Estimator struct {
	// Workers bounds the number of goroutines; values below one mean one
	Workers int
}

// window is the precomputed least squares solution for one neighborhood:
// coefficients of ln S = c0 + c1 q^2 + c2 q^4 are pinv * ln S.
type window struct {
	lo, hi int
	pinv   *mat.Dense
}

func newWindow(p *Profile, n int) (*window, error) {
	half := n / 2
	if p.MidPos < half {
		return nil, fmt.Errorf("neighborhood of %d points needs %d shells beyond q=0, profile has %d", n, half, p.MidPos)
	}
	lo, hi := p.MidPos-half, p.MidPos+half+1

	rows := hi - lo
	x := mat.NewDense(rows, 3, nil)
	for i := 0; i < rows; i++ {
		q2 := p.QAxis[lo+i] * p.QAxis[lo+i]
		x.Set(i, 0, 1)
		x.Set(i, 1, q2)
		x.Set(i, 2, q2*q2)
	}

	ones := make([]float64, rows)
	for i := range ones {
		ones[i] = 1
	}
	var pinv mat.Dense
	if err := pinv.Solve(x, mat.NewDiagDense(rows, ones)); err != nil {
		return nil, fmt.Errorf("neighborhood %d: %w", n, err)
	}
	return &window{lo: lo, hi: hi, pinv: &pinv}, nil
}

// fit returns ADC and kurtosis for one voxel profile. logs is scratch space
// of the window's length.
func (w *window) fit(samples, logs []float64) (adc, ku float64) {
	for i, s := range samples[w.lo:w.hi] {
		logs[i] = math.Log(math.Max(s, minSignal))
	}
	c1 := floats.Dot(w.pinv.RawRowView(1), logs)
	c2 := floats.Dot(w.pinv.RawRowView(2), logs)

	adc = -c1
	if adc <= minSignal {
		return 0, 0
	}
	return adc, 6 * c2 / (c1 * c1)
}

// Estimate computes ADC and kurtosis for the 6, 8 and 12 point neighborhoods
// around q = 0. Every output volume has the profile's spatial shape.
func (e Estimator) Estimate(p *Profile) (*MapSet, error) {
	var windows [3]*window
	for i, n := range NeighborhoodSizes {
		w, err := newWindow(p, n)
		if err != nil {
			return nil, err
		}
		windows[i] = w
	}

	tpl := p.Template
	adc := [3]models.Volume{}
	ku := [3]models.Volume{}
	for i := range windows {
		adc[i] = models.NewVolume(tpl.Width, tpl.Height, tpl.Depth, tpl.Affine)
		ku[i] = models.NewVolume(tpl.Width, tpl.Height, tpl.Depth, tpl.Affine)
	}

	err := forChunks(p.Voxels(), e.Workers, func(lo, hi int) error {
		logs := make([]float64, NeighborhoodSizes[2]+1)
		for v := lo; v < hi; v++ {
			samples := p.Samples(v)
			for i, w := range windows {
				a, k := w.fit(samples, logs[:w.hi-w.lo])
				adc[i].Data[v] = a
				ku[i].Data[v] = k
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &MapSet{
		ADC6: adc[0], ADC8: adc[1], ADC12: adc[2],
		Ku6: ku[0], Ku8: ku[1], Ku12: ku[2],
	}, nil
}
