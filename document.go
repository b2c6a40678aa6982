package psd2img

import (
	"context"
	"image"
)

// NodeKind is the closed set of tree node kinds.
type NodeKind int

// Node kinds.
const (
	NodeRoot NodeKind = iota
	NodeGroup
	NodeText
	NodeLayer
)

func (k NodeKind) String() string {
	switch k {
	case NodeRoot:
		return "root"
	case NodeGroup:
		return "group"
	case NodeText:
		return "text"
	default:
		return "layer"
	}
}

// Geometry is a node's placement on the canvas, in pixels.
// Width or Height of 0 means the node is empty and is never exported.
type Geometry struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the geometry has no area.
func (g Geometry) Empty() bool { return g.Width <= 0 || g.Height <= 0 }

// Area returns Width*Height, or 0 when empty.
func (g Geometry) Area() int {
	if g.Empty() {
		return 0
	}
	return g.Width * g.Height
}

// Rect returns the geometry as a canvas rectangle.
func (g Geometry) Rect() image.Rectangle {
	return image.Rect(g.Left, g.Top, g.Left+g.Width, g.Top+g.Height)
}

// TextInfo is the payload of a text node.
type TextInfo struct {
	Value  string
	Fonts  []string
	Sizes  []float64
	Colors []string
}

// Attributes are presentation properties copied into record metadata.
type Attributes struct {
	Opacity   float64 // 0..1
	BlendMode string
	HasMask   bool
}

// Node is one element of the document tree. Nodes are owned by the decoder;
// the pipeline only toggles visibility, and only inside a scope that restores it.
type Node interface {
	ID() string
	Name() string
	// Kind is the decoder's view of the node. Classify normalizes it.
	Kind() NodeKind
	Geometry() Geometry
	Visible() bool
	SetVisible(visible bool)
	Children() []Node
	// Text returns the text payload, or nil for non-text nodes.
	Text() *TextInfo
	Attributes() Attributes
	// Render rasterizes the node in node-local coordinates: pixel (0,0)
	// sits at Geometry().Left/Top. Groups composite their visible descendants.
	Render(ctx context.Context) (image.Image, error)
}

// Slice is a named export rectangle defined independently of the tree.
type Slice struct {
	ID       string
	Name     string
	Geometry Geometry
	LayerID  string
}

// Document is an opened layered document.
type Document interface {
	Width() int
	Height() int
	Root() Node
	Slices() []Slice
	// Composite returns the flattened canvas, Width()×Height().
	Composite(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener opens documents by path.
type Opener interface {
	Open(ctx context.Context, path string) (Document, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, path string) (Document, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, path string) (Document, error) {
	return f(ctx, path)
}

// Classify returns the kind of n, computed once per node during collection.
// A node carrying a text payload is text; a node with children is a group
// unless it is the root.
func Classify(n Node) NodeKind {
	switch k := n.Kind(); {
	case k == NodeRoot:
		return NodeRoot
	case k == NodeGroup || len(n.Children()) > 0:
		return NodeGroup
	case k == NodeText || n.Text() != nil:
		return NodeText
	default:
		return NodeLayer
	}
}

// containsText reports whether n or any descendant is a text node.
func containsText(n Node) bool {
	if Classify(n) == NodeText {
		return true
	}
	for _, c := range n.Children() {
		if containsText(c) {
			return true
		}
	}
	return false
}

// textDescendants returns every text node below n.
func textDescendants(n Node) []Node {
	var out []Node
	for _, c := range n.Children() {
		if Classify(c) == NodeText {
			out = append(out, c)
			continue
		}
		out = append(out, textDescendants(c)...)
	}
	return out
}
