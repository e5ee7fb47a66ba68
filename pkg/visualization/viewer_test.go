package visualization

import (
	"image"
	"image/png"
	"testing"

	"github.com/spf13/afero"

	"dmripipe/internal/models"
)

func gradientVolume(width, height, depth int) models.Volume {
	vol := models.NewVolume(width, height, depth, models.Identity())
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Data[vol.Index(x, y, z)] = float64(z)
			}
		}
	}
	return vol
}

// TestExtractSlice verifies slice extents and windowing along every axis.
func TestExtractSlice(t *testing.T) {
	width, height, depth := 6, 4, 5
	viewer := NewViewer(gradientVolume(width, height, depth))

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}
		b := img.Bounds()
		if b.Dx() != width || b.Dy() != height {
			t.Errorf("Z slice has size %dx%d, want %dx%d", b.Dx(), b.Dy(), width, height)
		}
		want := uint16(float64(z) / float64(depth-1) * 65535)
		if got := img.(*image.Gray16).Gray16At(0, 0).Y; got != want {
			t.Errorf("Z slice %d: got intensity %d, want %d", z, got, want)
		}
	}

	img, err := viewer.ExtractSlice("X", 1)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("X slice has size %dx%d, want %dx%d", b.Dx(), b.Dy(), depth, height)
	}

	img, err = viewer.ExtractSlice("y", 3)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Y slice has size %dx%d, want %dx%d", b.Dx(), b.Dy(), width, depth)
	}
}

func TestExtractSliceErrors(t *testing.T) {
	viewer := NewViewer(gradientVolume(3, 3, 3))

	if _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if _, err := viewer.ExtractSlice("z", 3); err == nil {
		t.Error("Expected error for out of range position")
	}
	if _, err := viewer.ExtractSlice("x", -1); err == nil {
		t.Error("Expected error for negative position")
	}
}

func TestFlatVolumeIsBlack(t *testing.T) {
	vol := models.NewVolume(2, 2, 2, models.Identity())
	for i := range vol.Data {
		vol.Data[i] = 0.7
	}
	img, err := NewViewer(vol).ExtractSlice("z", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.(*image.Gray16).Gray16At(1, 1).Y; got != 0 {
		t.Errorf("flat volume rendered as %d, want 0", got)
	}
}

func TestSaveMidSlices(t *testing.T) {
	fsys := afero.NewMemMapFs()
	viewer := NewViewer(gradientVolume(4, 4, 4))
	viewer.SetWindow(0, 1)

	written, err := viewer.SaveMidSlices(fsys, "/qc", "dsi_ADC8")
	if err != nil {
		t.Fatalf("SaveMidSlices failed: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("Expected 3 files, got %d", len(written))
	}
	if written[2] != "/qc/dsi_ADC8_z.png" {
		t.Errorf("unexpected file name %s", written[2])
	}

	f, err := fsys.Open(written[2])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Errorf("axial slice has size %dx%d, want 4x4", b.Dx(), b.Dy())
	}
}
