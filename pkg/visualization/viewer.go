// Package visualization renders quick-look slices of scalar maps for visual
// quality control of a run.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/floats"

	"dmripipe/internal/models"
)

// Viewer extracts 2D slices from a volume. Intensities are windowed to the
// volume's own range unless a window is set.
type Viewer struct {
	vol models.Volume

	// lo and hi map to black and white
	lo, hi float64
}

// NewViewer creates a viewer windowed to the value range of vol.
func NewViewer(vol models.Volume) *Viewer {
	v := &Viewer{vol: vol}
	if len(vol.Data) > 0 {
		v.lo, v.hi = floats.Min(vol.Data), floats.Max(vol.Data)
	}
	return v
}

// SetWindow overrides the intensity window.
func (v *Viewer) SetWindow(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

func (v *Viewer) gray(value float64) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	t := (value - v.lo) / (v.hi - v.lo)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return color.Gray16{Y: uint16(t * 65535)}
}

// ExtractSlice returns the plane at position along axis x, y or z.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	w, h, d := v.vol.Width, v.vol.Height, v.vol.Depth

	var img *image.Gray16
	switch strings.ToLower(axis) {
	case "x":
		// sagittal: YZ plane
		if position >= w {
			return nil, fmt.Errorf("position %d exceeds width %d", position, w)
		}
		img = image.NewGray16(image.Rect(0, 0, d, h))
		for y := 0; y < h; y++ {
			for z := 0; z < d; z++ {
				img.SetGray16(z, y, v.gray(v.vol.At(position, y, z)))
			}
		}

	case "y":
		// coronal: XZ plane
		if position >= h {
			return nil, fmt.Errorf("position %d exceeds height %d", position, h)
		}
		img = image.NewGray16(image.Rect(0, 0, w, d))
		for z := 0; z < d; z++ {
			for x := 0; x < w; x++ {
				img.SetGray16(x, z, v.gray(v.vol.At(x, position, z)))
			}
		}

	case "z":
		// axial: XY plane
		if position >= d {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, d)
		}
		img = image.NewGray16(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray16(x, y, v.gray(v.vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice writes img as PNG.
func SaveSlice(fsys afero.Fs, img image.Image, filename string) error {
	f, err := fsys.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", filename, err)
	}
	return f.Close()
}

// SaveMidSlices writes the central slice along each axis as
// <prefix>_<axis>.png in outputDir and returns the written paths.
func (v *Viewer) SaveMidSlices(fsys afero.Fs, outputDir, prefix string) ([]string, error) {
	if err := fsys.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	mid := map[string]int{"x": v.vol.Width / 2, "y": v.vol.Height / 2, "z": v.vol.Depth / 2}

	var written []string
	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, mid[axis])
		if err != nil {
			return written, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", prefix, axis))
		if err := SaveSlice(fsys, img, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}
	return written, nil
}
