package imageutil

import "image"

// ClipRect intersects a w×h raster placed at (x, y) with the canvas
// (0, 0, canvasW, canvasH).
// It returns the part of the raster to keep in raster-local coordinates and
// the new canvas position of that part. ok is false when nothing overlaps.
func ClipRect(w, h, x, y, canvasW, canvasH int) (local image.Rectangle, nx, ny int, ok bool) {
	placed := image.Rect(x, y, x+w, y+h)
	visible := placed.Intersect(image.Rect(0, 0, canvasW, canvasH))
	if visible.Empty() {
		return image.Rectangle{}, 0, 0, false
	}
	return visible.Sub(image.Pt(x, y)), visible.Min.X, visible.Min.Y, true
}

// ClipToCanvas crops img, placed at (x, y), to the canvas rectangle.
// It returns the clipped raster and its canvas position, or ErrOutsideCanvas.
// A raster already inside the canvas is returned unchanged.
func ClipToCanvas(img image.Image, x, y, canvasW, canvasH int) (image.Image, int, int, error) {
	if img == nil {
		return nil, 0, 0, ErrNilImage
	}
	w, h := Size(img)
	local, nx, ny, ok := ClipRect(w, h, x, y, canvasW, canvasH)
	if !ok {
		return nil, 0, 0, ErrOutsideCanvas
	}
	if local.Min == (image.Point{}) && local.Dx() == w && local.Dy() == h {
		return img, x, y, nil
	}

	cropped, err := Crop(img, local)
	if err != nil {
		return nil, 0, 0, err
	}
	return cropped, nx, ny, nil
}
