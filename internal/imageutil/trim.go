package imageutil

import "image"

// OpaqueBounds returns the smallest local rectangle containing every pixel
// whose alpha is non-zero. found is false for a fully transparent raster.
func OpaqueBounds(img image.Image) (bounds image.Rectangle, found bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	minX, minY := w, h
	maxX, maxY := -1, -1

	mark := func(x, y int) {
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}

	switch src := img.(type) {
	case *image.RGBA:
		scanAlpha(src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w, h, mark)
	case *image.NRGBA:
		scanAlpha(src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w, h, mark)
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if _, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA(); a > 0 {
					mark(x, y)
				}
			}
		}
	}

	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// scanAlpha walks 4-byte-per-pixel rows and reports pixels with non-zero alpha.
func scanAlpha(pix []uint8, stride, offset, w, h int, mark func(x, y int)) {
	for y := 0; y < h; y++ {
		row := pix[offset+y*stride : offset+y*stride+w*4]
		for x := 0; x < w; x++ {
			if row[x*4+3] != 0 {
				mark(x, y)
			}
		}
	}
}

// Trim crops img to its opaque bounds.
// It returns the cropped raster and the offset of the kept area inside img,
// or ErrTransparent when img has no visible pixel.
func Trim(img image.Image) (image.Image, image.Point, error) {
	if img == nil {
		return nil, image.Point{}, ErrNilImage
	}
	bounds, found := OpaqueBounds(img)
	if !found {
		return nil, image.Point{}, ErrTransparent
	}
	w, h := Size(img)
	if bounds == image.Rect(0, 0, w, h) {
		return img, image.Point{}, nil
	}
	cropped, err := Crop(img, bounds)
	if err != nil {
		return nil, image.Point{}, err
	}
	return cropped, bounds.Min, nil
}
