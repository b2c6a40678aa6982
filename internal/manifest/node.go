package manifest

import (
	"context"
	"image"
	"sync"

	"github.com/gogpu/gg/text"

	"github.com/alnah/go-psd2img"
)

// node implements psd2img.Node. Only visibility is mutable.
type node struct {
	id        string
	name      string
	kind      psd2img.NodeKind
	geom      psd2img.Geometry
	children  []*node
	opacity   float64
	blendMode string
	mask      bool

	fill   string
	shape  string
	radius float64
	img    image.Image

	text *psd2img.TextInfo
	face text.Face

	mu      sync.RWMutex
	visible bool
}

func (n *node) ID() string                 { return n.id }
func (n *node) Name() string               { return n.name }
func (n *node) Kind() psd2img.NodeKind     { return n.kind }
func (n *node) Geometry() psd2img.Geometry { return n.geom }
func (n *node) Text() *psd2img.TextInfo    { return n.text }

func (n *node) Attributes() psd2img.Attributes {
	return psd2img.Attributes{Opacity: n.opacity, BlendMode: n.blendMode, HasMask: n.mask}
}

func (n *node) Children() []psd2img.Node {
	out := make([]psd2img.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

func (n *node) Visible() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.visible
}

func (n *node) SetVisible(v bool) {
	n.mu.Lock()
	n.visible = v
	n.mu.Unlock()
}

// Render rasterizes the node in local coordinates.
func (n *node) Render(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch n.kind {
	case psd2img.NodeRoot, psd2img.NodeGroup:
		return n.composite(ctx)
	case psd2img.NodeText:
		return renderText(n), nil
	default:
		return renderLayer(n), nil
	}
}
