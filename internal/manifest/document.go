package manifest

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/alnah/go-psd2img"
	"github.com/alnah/go-psd2img/internal/imageutil"
)

// Document is a manifest-backed psd2img.Document.
type Document struct {
	width, height int
	root          *node
	slices        []psd2img.Slice
}

// Width returns the canvas width.
func (d *Document) Width() int { return d.width }

// Height returns the canvas height.
func (d *Document) Height() int { return d.height }

// Root returns the root node.
func (d *Document) Root() psd2img.Node { return d.root }

// Slices returns the declared slices.
func (d *Document) Slices() []psd2img.Slice { return d.slices }

// Composite flattens every visible node over the background.
func (d *Document) Composite(ctx context.Context) (image.Image, error) {
	return d.root.Render(ctx)
}

// Close releases nothing; rasters are produced on demand.
func (d *Document) Close() error { return nil }

// Find returns the first node with the given name, depth-first.
func (d *Document) Find(name string) (psd2img.Node, bool) {
	var walk func(n *node) *node
	walk = func(n *node) *node {
		if n.name == name {
			return n
		}
		for _, c := range n.children {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	if n := walk(d.root); n != nil {
		return n, true
	}
	return nil, false
}

func loadImage(path string) (image.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}
	return imageutil.Load(path)
}
