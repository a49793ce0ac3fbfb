package engine

import (
	"fmt"
	"image"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/tracerlab/flowtrace/internal/fsutil"
	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
)

// highpassRadius is the box half-width of the lowpass estimate removed
// by highpass filtering.
const highpassRadius = 5

// LoadImage reads an image file and converts it to 8-bit grey. TIFF,
// PNG and JPEG are decodable; the format is sniffed, not taken from the
// extension.
func LoadImage(path string) (*image.Gray, error) {
	return LoadImageFS(fsutil.OSFileSystem{}, path)
}

// LoadImageFS is LoadImage against an explicit filesystem.
func LoadImageFS(fsys fsutil.FileSystem, path string) (*image.Gray, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ptv.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ptv.ErrMalformedFile, path, err)
	}
	return toGray(src), nil
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	g := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x, y, src.At(x, y))
		}
	}
	return g
}

// PrepareImage runs the configured preprocessing for one camera:
// inversion, highpass filtering and mask subtraction, in that order.
// Interlaced field splitting (chfield != 0) is a legacy video mode this
// engine does not decode.
func PrepareImage(img *image.Gray, cp params.CameraParams, mask *image.Gray) (*image.Gray, error) {
	if cp.ChField != 0 {
		return nil, fmt.Errorf("chfield %d: field-split processing is not supported", cp.ChField)
	}
	out := img
	if cp.Invert {
		out = Invert(out)
	}
	if cp.HighPass {
		out = Highpass(out, highpassRadius)
	}
	if mask != nil {
		out = SubtractMask(out, mask)
	}
	return out, nil
}

// Invert returns the grey-inverted copy of an image.
func Invert(img *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for i, v := range img.Pix {
		out.Pix[i] = 255 - v
	}
	return out
}

// Highpass removes the local background: a box lowpass of half-width
// radius is subtracted from every pixel, clamping at zero. Bright
// compact blobs survive; slow illumination gradients do not.
func Highpass(img *image.Gray, radius int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	if w == 0 || h == 0 {
		return out
	}

	// Summed-area table with one pad row/column.
	sat := make([]int64, (w+1)*(h+1))
	idx := func(x, y int) int { return y*(w+1) + x }
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			sat[idx(x+1, y+1)] = v + sat[idx(x, y+1)] + sat[idx(x+1, y)] - sat[idx(x, y)]
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, y0 := max(0, x-radius), max(0, y-radius)
			x1, y1 := min(w-1, x+radius), min(h-1, y+radius)
			area := int64((x1 - x0 + 1) * (y1 - y0 + 1))
			sum := sat[idx(x1+1, y1+1)] - sat[idx(x0, y1+1)] - sat[idx(x1+1, y0)] + sat[idx(x0, y0)]
			mean := sum / area

			v := int64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y) - mean
			if v < 0 {
				v = 0
			}
			out.Pix[y*out.Stride+x] = uint8(v)
		}
	}
	return out
}

// SubtractMask subtracts a mask image pixelwise, saturating at zero.
// Regions painted bright in the mask are suppressed.
func SubtractMask(img, mask *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := int(img.GrayAt(x, y).Y) - int(mask.GrayAt(x, y).Y)
			if v < 0 {
				v = 0
			}
			out.Pix[(y-b.Min.Y)*out.Stride+(x-b.Min.X)] = uint8(v)
		}
	}
	return out
}
