// Package manifest decodes layered documents described in YAML.
//
// A manifest declares a canvas, a tree of groups, raster layers and text
// layers, and a list of slices:
//
//	width: 300
//	height: 200
//	background: "#ffffff"
//	layers:
//	  - name: card
//	    type: group
//	    children:
//	      - { name: bg, type: layer, left: 10, top: 10, width: 120, height: 80, fill: "#3366ff", shape: rounded, radius: 8 }
//	      - { name: title, type: text, left: 20, top: 20, text: Hello, font: Go Bold, size: 18, color: "#ffffff" }
//	slices:
//	  - { id: "1", name: hero, left: 0, top: 0, width: 200, height: 100 }
//
// Children paint in list order, first at the bottom. Layers are rasterized
// with gogpu/gg; text uses the Go font family.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"path/filepath"
	"strconv"

	"github.com/alnah/go-psd2img"
	"github.com/alnah/go-psd2img/internal/yamlutil"
)

// ErrInvalidManifest is returned for manifests that fail validation.
var ErrInvalidManifest = errors.New("invalid manifest")

// Node types.
const (
	TypeGroup = "group"
	TypeLayer = "layer"
	TypeText  = "text"
)

// Layer shapes.
const (
	ShapeRect    = "rect"
	ShapeEllipse = "ellipse"
	ShapeRounded = "rounded"
)

// Spec is the YAML form of a document.
type Spec struct {
	Width      int         `yaml:"width"`
	Height     int         `yaml:"height"`
	Background string      `yaml:"background,omitempty"`
	Layers     []NodeSpec  `yaml:"layers"`
	Slices     []SliceSpec `yaml:"slices,omitempty"`
}

// NodeSpec is the YAML form of one node.
type NodeSpec struct {
	ID     string `yaml:"id,omitempty"`
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Left   int    `yaml:"left,omitempty"`
	Top    int    `yaml:"top,omitempty"`
	Width  int    `yaml:"width,omitempty"`
	Height int    `yaml:"height,omitempty"`
	// Hidden nodes are exported but skipped when their parent composites.
	Hidden    bool     `yaml:"hidden,omitempty"`
	Opacity   *float64 `yaml:"opacity,omitempty"`
	BlendMode string   `yaml:"blendMode,omitempty"`
	Mask      bool     `yaml:"mask,omitempty"`

	// layer
	Fill   string  `yaml:"fill,omitempty"`
	Shape  string  `yaml:"shape,omitempty"`
	Radius float64 `yaml:"radius,omitempty"`
	Image  string  `yaml:"image,omitempty"`

	// text
	Text  string  `yaml:"text,omitempty"`
	Font  string  `yaml:"font,omitempty"`
	Size  float64 `yaml:"size,omitempty"`
	Color string  `yaml:"color,omitempty"`

	// group
	Children []NodeSpec `yaml:"children,omitempty"`
}

// SliceSpec is the YAML form of a slice.
type SliceSpec struct {
	ID     string `yaml:"id,omitempty"`
	Name   string `yaml:"name,omitempty"`
	Left   int    `yaml:"left"`
	Top    int    `yaml:"top"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Layer  string `yaml:"layer,omitempty"`
}

// Parse decodes and builds a document. Relative image paths resolve
// against baseDir.
func Parse(data []byte, baseDir string) (*Document, error) {
	var spec Spec
	if err := yamlutil.UnmarshalStrict(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return Build(spec, baseDir)
}

// Load reads and builds the manifest at path.
func Load(path string) (*Document, error) {
	var spec Spec
	if err := yamlutil.ReadFile(path, &spec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return Build(spec, filepath.Dir(path))
}

// Opener opens manifest files as psd2img documents.
type Opener struct{}

// Open implements psd2img.Opener.
func (Opener) Open(ctx context.Context, path string) (psd2img.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(path)
}

// Build validates spec and constructs the document tree.
func Build(spec Spec, baseDir string) (*Document, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("%w: canvas must be positive, got %dx%d", ErrInvalidManifest, spec.Width, spec.Height)
	}
	if spec.Background != "" {
		if err := validateColor(spec.Background); err != nil {
			return nil, fmt.Errorf("%w: background: %v", ErrInvalidManifest, err)
		}
	}

	b := &builder{baseDir: baseDir, ids: make(map[string]bool)}
	root := &node{
		id:      "root",
		name:    "root",
		kind:    psd2img.NodeRoot,
		geom:    psd2img.Geometry{Width: spec.Width, Height: spec.Height},
		fill:    spec.Background,
		opacity: 1,
		visible: true,
	}
	for i := range spec.Layers {
		child, err := b.build(spec.Layers[i], "layers["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, err
		}
		root.children = append(root.children, child)
	}

	doc := &Document{width: spec.Width, height: spec.Height, root: root}
	for i, s := range spec.Slices {
		if s.Width < 0 || s.Height < 0 {
			return nil, fmt.Errorf("%w: slices[%d]: negative size", ErrInvalidManifest, i)
		}
		id := s.ID
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		doc.slices = append(doc.slices, psd2img.Slice{
			ID:       id,
			Name:     s.Name,
			Geometry: psd2img.Geometry{Left: s.Left, Top: s.Top, Width: s.Width, Height: s.Height},
			LayerID:  s.Layer,
		})
	}
	return doc, nil
}

type builder struct {
	baseDir string
	ids     map[string]bool
	seq     int
}

func (b *builder) build(s NodeSpec, at string) (*node, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("%w: %s: name is required", ErrInvalidManifest, at)
	}
	at += " " + strconv.Quote(s.Name)
	if s.Width < 0 || s.Height < 0 {
		return nil, fmt.Errorf("%w: %s: negative size", ErrInvalidManifest, at)
	}

	b.seq++
	id := s.ID
	if id == "" {
		id = "n" + strconv.Itoa(b.seq)
	}
	if b.ids[id] {
		return nil, fmt.Errorf("%w: %s: duplicate id %q", ErrInvalidManifest, at, id)
	}
	b.ids[id] = true

	opacity := 1.0
	if s.Opacity != nil {
		opacity = *s.Opacity
		if opacity < 0 || opacity > 1 {
			return nil, fmt.Errorf("%w: %s: opacity %v outside [0, 1]", ErrInvalidManifest, at, opacity)
		}
	}
	n := &node{
		id:        id,
		name:      s.Name,
		geom:      psd2img.Geometry{Left: s.Left, Top: s.Top, Width: s.Width, Height: s.Height},
		opacity:   opacity,
		blendMode: s.BlendMode,
		mask:      s.Mask,
		visible:   !s.Hidden,
	}
	if n.blendMode == "" {
		n.blendMode = "normal"
	}

	switch s.Type {
	case TypeGroup:
		return b.group(n, s, at)
	case TypeText:
		return b.text(n, s, at)
	case TypeLayer, "":
		return b.layer(n, s, at)
	default:
		return nil, fmt.Errorf("%w: %s: unknown type %q", ErrInvalidManifest, at, s.Type)
	}
}

func (b *builder) group(n *node, s NodeSpec, at string) (*node, error) {
	n.kind = psd2img.NodeGroup
	if s.BlendMode == "" {
		n.blendMode = "pass through"
	}
	for i := range s.Children {
		child, err := b.build(s.Children[i], at+".children["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	if s.Width == 0 && s.Height == 0 {
		n.geom = unionBounds(n.children)
	}
	return n, nil
}

func (b *builder) text(n *node, s NodeSpec, at string) (*node, error) {
	n.kind = psd2img.NodeText
	if s.Text == "" {
		return nil, fmt.Errorf("%w: %s: text is required", ErrInvalidManifest, at)
	}
	font := s.Font
	if font == "" {
		font = DefaultFont
	}
	size := s.Size
	if size == 0 {
		size = DefaultFontSize
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: %s: negative font size", ErrInvalidManifest, at)
	}
	color := s.Color
	if color == "" {
		color = "#000000"
	}
	if err := validateColor(color); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, at, err)
	}
	face, err := fontFace(font, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, at, err)
	}

	n.text = &psd2img.TextInfo{Value: s.Text, Fonts: []string{font}, Sizes: []float64{size}, Colors: []string{color}}
	n.face = face
	n.fill = color
	if s.Width == 0 || s.Height == 0 {
		w, h := measure(s.Text, face)
		if s.Width == 0 {
			n.geom.Width = w
		}
		if s.Height == 0 {
			n.geom.Height = h
		}
	}
	return n, nil
}

func (b *builder) layer(n *node, s NodeSpec, at string) (*node, error) {
	n.kind = psd2img.NodeLayer
	if len(s.Children) > 0 {
		return nil, fmt.Errorf("%w: %s: only groups have children", ErrInvalidManifest, at)
	}
	switch s.Shape {
	case "", ShapeRect, ShapeEllipse, ShapeRounded:
		n.shape = s.Shape
	default:
		return nil, fmt.Errorf("%w: %s: unknown shape %q", ErrInvalidManifest, at, s.Shape)
	}
	n.radius = s.Radius

	if s.Image != "" {
		path := s.Image
		if !filepath.IsAbs(path) {
			path = filepath.Join(b.baseDir, path)
		}
		img, err := loadImage(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, at, err)
		}
		n.img = img
		if s.Width == 0 && s.Height == 0 {
			n.geom.Width, n.geom.Height = img.Bounds().Dx(), img.Bounds().Dy()
		}
		return n, nil
	}

	if s.Fill == "" {
		return nil, fmt.Errorf("%w: %s: layer needs a fill or an image", ErrInvalidManifest, at)
	}
	if err := validateColor(s.Fill); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, at, err)
	}
	n.fill = s.Fill
	return n, nil
}

// unionBounds returns the smallest geometry covering every non-empty child.
func unionBounds(children []*node) psd2img.Geometry {
	var r image.Rectangle
	for _, c := range children {
		if !c.geom.Empty() {
			r = r.Union(c.geom.Rect())
		}
	}
	return psd2img.Geometry{Left: r.Min.X, Top: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

func validateColor(hex string) error {
	s := hex
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	switch len(s) {
	case 3, 4, 6, 8:
	default:
		return fmt.Errorf("color %q: want #RGB, #RGBA, #RRGGBB or #RRGGBBAA", hex)
	}
	if _, err := strconv.ParseUint(s, 16, 32); err != nil {
		return fmt.Errorf("color %q: not hexadecimal", hex)
	}
	return nil
}
