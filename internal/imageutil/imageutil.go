// Package imageutil implements the raster operations applied to every exported
// asset: canvas clipping, transparent-edge detection, cropping, nearest-neighbour
// resampling and multi-scale PNG materialization.
//
// All functions treat an image's Bounds().Min as its local origin, so rasters
// returned by decoders with arbitrary origins behave the same as zero-origin ones.
// Produced rasters are always *image.RGBA with a zero origin.
package imageutil

import (
	"errors"
	"image"

	xdraw "golang.org/x/image/draw"
)

// Sentinel errors for image operations.
var (
	ErrNilImage      = errors.New("imageutil: nil image")
	ErrOutsideCanvas = errors.New("layer is completely outside canvas")
	ErrTransparent   = errors.New("image is completely transparent")
	ErrEmptyRect     = errors.New("imageutil: empty crop rectangle")
)

// ToRGBA returns img as a zero-origin *image.RGBA, copying only when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(dst, image.Point{}, img, b, xdraw.Src, nil)
	return dst
}

// Crop copies the local rectangle r of img into a new zero-origin raster.
// The rectangle is intersected with the image first.
func Crop(img image.Image, r image.Rectangle) (*image.RGBA, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	b := img.Bounds()
	local := r.Intersect(image.Rect(0, 0, b.Dx(), b.Dy()))
	if local.Empty() {
		return nil, ErrEmptyRect
	}

	dst := image.NewRGBA(image.Rect(0, 0, local.Dx(), local.Dy()))
	xdraw.Copy(dst, image.Point{}, img, local.Add(b.Min), xdraw.Src, nil)
	return dst, nil
}

// Size returns the width and height of img.
func Size(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
