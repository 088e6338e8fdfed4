// Package image prepares report photos for storage and analysis.
package image

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/apex/log"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
)

const (
	// MaxImageDimension is the largest width or height kept for a stored photo
	MaxImageDimension = 1024
	jpegQuality       = 85
)

// Orientation extracts the EXIF orientation tag, 1 when absent
func Orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// source maps a destination pixel back to the source pixel for each EXIF
// orientation. w and h are the source dimensions.
var source = map[int]func(x, y, w, h int) (int, int){
	2: func(x, y, w, h int) (int, int) { return w - 1 - x, y },
	3: func(x, y, w, h int) (int, int) { return w - 1 - x, h - 1 - y },
	4: func(x, y, w, h int) (int, int) { return x, h - 1 - y },
	5: func(x, y, w, h int) (int, int) { return y, x },
	6: func(x, y, w, h int) (int, int) { return y, h - 1 - x },
	7: func(x, y, w, h int) (int, int) { return w - 1 - y, h - 1 - x },
	8: func(x, y, w, h int) (int, int) { return w - 1 - y, x },
}

// Orient returns img rotated or flipped so it displays upright
func Orient(img image.Image, orientation int) image.Image {
	mapping, ok := source[orientation]
	if !ok {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if orientation >= 5 {
		dw, dh = h, w
	}
	out := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			sx, sy := mapping(x, y, w, h)
			out.Set(x, y, img.At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return out
}

// CompressImage re-encodes a photo as JPEG, upright and no larger than
// MaxImageDimension on either side. Photos already small and upright are
// returned unchanged.
func CompressImage(data []byte) ([]byte, error) {
	orientation := Orientation(data)

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	img = Orient(img, orientation)

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= MaxImageDimension && h <= MaxImageDimension && orientation == 1 && format == "jpeg" {
		return data, nil
	}

	scale := 1.0
	if w > MaxImageDimension || h > MaxImageDimension {
		scale = float64(MaxImageDimension) / float64(max(w, h))
	}
	nw := max(1, min(MaxImageDimension, int(float64(w)*scale)))
	nh := max(1, min(MaxImageDimension, int(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode compressed image: %w", err)
	}

	log.WithFields(log.Fields{
		"original_bytes": len(data),
		"bytes":          buf.Len(),
		"from":           fmt.Sprintf("%dx%d", w, h),
		"to":             fmt.Sprintf("%dx%d", nw, nh),
		"orientation":    orientation,
	}).Debug("photo compressed")

	return buf.Bytes(), nil
}
