// Package scalars estimates diffusion scalar maps (ADC and kurtosis) from a
// DSI volume series and the q-space gradient table it was acquired with.
package scalars

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GradientTable holds one q-space sample point per row. The first three
// columns are the gradient vector; further columns are carried but unused.
type GradientTable struct {
	M *mat.Dense
}

// Len returns the number of rows.
func (g *GradientTable) Len() int {
	r, _ := g.M.Dims()
	return r
}

// Magnitudes returns the Euclidean norm of each row's gradient vector.
func (g *GradientTable) Magnitudes() []float64 {
	rows := g.Len()
	q := make([]float64, rows)
	for i := 0; i < rows; i++ {
		q[i] = floats.Norm(g.M.RawRowView(i)[:3], 2)
	}
	return q
}

// LoadGradientTable reads a whitespace separated text table. Blank lines and
// lines starting with # are skipped.
func LoadGradientTable(fsys afero.Fs, path string) (*GradientTable, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening gradient table: %w", err)
	}
	defer f.Close()

	var data []float64
	cols := 0
	rows := 0
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if cols == 0 {
			cols = len(fields)
			if cols < 3 {
				return nil, fmt.Errorf("%s:%d: need at least 3 columns, got %d", path, line, cols)
			}
		}
		if len(fields) != cols {
			return nil, fmt.Errorf("%s:%d: expected %d columns, got %d", path, line, cols, len(fields))
		}
		for _, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading gradient table: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%s: gradient table is empty", path)
	}

	return &GradientTable{M: mat.NewDense(rows, cols, data)}, nil
}
