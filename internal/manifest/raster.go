package manifest

import (
	"context"
	"image"
	"image/color"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"
)

// renderLayer draws a filled shape, or scales the layer's image, to the
// layer's size.
func renderLayer(n *node) image.Image {
	w, h := n.geom.Width, n.geom.Height
	if w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}

	if n.img != nil {
		b := n.img.Bounds()
		if b.Dx() == w && b.Dy() == h {
			return n.img
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), n.img, b, xdraw.Src, nil)
		return dst
	}

	dc := gg.NewContext(w, h)
	defer func() { _ = dc.Close() }()

	dc.SetHexColor(n.fill)
	fw, fh := float64(w), float64(h)
	switch n.shape {
	case ShapeEllipse:
		dc.DrawEllipse(fw/2, fh/2, fw/2, fh/2)
	case ShapeRounded:
		dc.DrawRoundedRectangle(0, 0, fw, fh, n.radius)
	default:
		dc.DrawRectangle(0, 0, fw, fh)
	}
	_ = dc.Fill()
	return dc.Image()
}

// renderText draws the text on one line with its ascent at the top edge.
func renderText(n *node) image.Image {
	w, h := n.geom.Width, n.geom.Height
	if w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}

	dc := gg.NewContext(w, h)
	defer func() { _ = dc.Close() }()

	dc.SetFont(n.face)
	dc.SetHexColor(n.fill)
	dc.DrawString(n.text.Value, 0, n.face.Metrics().Ascent)
	return dc.Image()
}

// composite draws the visible children of n onto a raster covering n's
// geometry, bottom child first, each at its own opacity.
func (n *node) composite(ctx context.Context) (image.Image, error) {
	w, h := n.geom.Width, n.geom.Height
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 0), max(h, 0)))
	if w <= 0 || h <= 0 {
		return dst, nil
	}
	if n.fill != "" {
		xdraw.Draw(dst, dst.Bounds(), image.NewUniform(gg.Hex(n.fill).Color()), image.Point{}, xdraw.Src)
	}

	for _, c := range n.children {
		if !c.Visible() || c.geom.Empty() {
			continue
		}
		src, err := c.Render(ctx)
		if err != nil {
			return nil, err
		}
		at := image.Pt(c.geom.Left-n.geom.Left, c.geom.Top-n.geom.Top)
		r := image.Rectangle{Min: at, Max: at.Add(src.Bounds().Size())}
		if c.opacity >= 1 {
			xdraw.Draw(dst, r, src, src.Bounds().Min, xdraw.Over)
			continue
		}
		mask := image.NewUniform(color.Alpha{A: uint8(c.opacity*255 + 0.5)})
		xdraw.DrawMask(dst, r, src, src.Bounds().Min, mask, image.Point{}, xdraw.Over)
	}
	return dst, nil
}
