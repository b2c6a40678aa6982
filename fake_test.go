package psd2img

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeNode is an in-memory Node. Leaves render as a solid fill of their
// geometry unless raster is set; groups composite their visible children.
type fakeNode struct {
	id       string
	name     string
	kind     NodeKind
	geom     Geometry
	children []Node
	text     *TextInfo
	fill     color.NRGBA
	raster   image.Image
	attrs    Attributes
	panicMsg string
	block    bool
	renders  atomic.Int32

	// hold, when set, blocks Render until closed, ignoring ctx.
	hold chan struct{}

	mu      sync.Mutex
	visible bool
}

func (n *fakeNode) ID() string             { return n.id }
func (n *fakeNode) Name() string           { return n.name }
func (n *fakeNode) Kind() NodeKind         { return n.kind }
func (n *fakeNode) Geometry() Geometry     { return n.geom }
func (n *fakeNode) Children() []Node       { return n.children }
func (n *fakeNode) Text() *TextInfo        { return n.text }
func (n *fakeNode) Attributes() Attributes { return n.attrs }

func (n *fakeNode) Visible() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visible
}

func (n *fakeNode) SetVisible(v bool) {
	n.mu.Lock()
	n.visible = v
	n.mu.Unlock()
}

func (n *fakeNode) Render(ctx context.Context) (image.Image, error) {
	n.renders.Add(1)
	if n.panicMsg != "" {
		panic(n.panicMsg)
	}
	if n.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n.hold != nil {
		<-n.hold
	}
	if n.raster != nil {
		return n.raster, nil
	}

	if n.kind != NodeGroup && n.kind != NodeRoot {
		img := image.NewNRGBA(image.Rect(0, 0, n.geom.Width, n.geom.Height))
		draw.Draw(img, img.Bounds(), image.NewUniform(n.fill), image.Point{}, draw.Src)
		return img, nil
	}
	return compose(ctx, n.geom, n.children)
}

// compose draws the visible children onto a raster covering area.
func compose(ctx context.Context, area Geometry, children []Node) (image.Image, error) {
	img := image.NewNRGBA(image.Rect(0, 0, area.Width, area.Height))
	for _, c := range children {
		if !c.Visible() {
			continue
		}
		sub, err := c.Render(ctx)
		if err != nil {
			return nil, err
		}
		g := c.Geometry()
		at := image.Pt(g.Left-area.Left, g.Top-area.Top)
		draw.Draw(img, sub.Bounds().Sub(sub.Bounds().Min).Add(at), sub, sub.Bounds().Min, draw.Over)
	}
	return img, nil
}

// fakeDoc is an in-memory Document.
type fakeDoc struct {
	w, h   int
	root   *fakeNode
	slices []Slice
	// flat, when set, is returned by Composite instead of rendering the tree.
	flat   image.Image
	closed atomic.Bool
}

func (d *fakeDoc) Width() int      { return d.w }
func (d *fakeDoc) Height() int     { return d.h }
func (d *fakeDoc) Root() Node      { return d.root }
func (d *fakeDoc) Slices() []Slice { return d.slices }

func (d *fakeDoc) Composite(ctx context.Context) (image.Image, error) {
	if d.flat != nil {
		return d.flat, nil
	}
	return compose(ctx, Geometry{Width: d.w, Height: d.h}, d.root.children)
}

func (d *fakeDoc) Close() error {
	d.closed.Store(true)
	return nil
}

func newDoc(w, h int, children ...Node) *fakeDoc {
	return &fakeDoc{
		w: w, h: h,
		root: &fakeNode{id: "root", name: "root", kind: NodeRoot, geom: Geometry{Width: w, Height: h}, children: children, visible: true},
	}
}

var (
	blue = color.NRGBA{B: 255, A: 255}
	red  = color.NRGBA{R: 255, A: 255}
)

func layer(name string, g Geometry) *fakeNode {
	return &fakeNode{id: name, name: name, kind: NodeLayer, geom: g, fill: blue, visible: true, attrs: Attributes{Opacity: 1, BlendMode: "normal"}}
}

func textNode(name, value string, g Geometry) *fakeNode {
	return &fakeNode{
		id: name, name: name, kind: NodeText, geom: g, fill: red, visible: true,
		text:  &TextInfo{Value: value, Fonts: []string{"Go"}, Sizes: []float64{12}, Colors: []string{"#ff0000"}},
		attrs: Attributes{Opacity: 1, BlendMode: "normal"},
	}
}

func group(name string, g Geometry, children ...Node) *fakeNode {
	return &fakeNode{id: name, name: name, kind: NodeGroup, geom: g, children: children, visible: true, attrs: Attributes{Opacity: 1, BlendMode: "pass through"}}
}

func geom(left, top, w, h int) Geometry {
	return Geometry{Left: left, Top: top, Width: w, Height: h}
}

// eventLog records notifications.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(_ context.Context, e Event) error {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// memCatalog records saved projects and records.
type memCatalog struct {
	mu       sync.Mutex
	projects []Project
	records  []*Record
}

func (c *memCatalog) SaveProject(_ context.Context, p *Project) error {
	c.mu.Lock()
	c.projects = append(c.projects, *p)
	c.mu.Unlock()
	return nil
}

func (c *memCatalog) recordNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.records))
	for _, r := range c.records {
		names = append(names, r.Name)
	}
	return names
}

func (c *memCatalog) SaveRecord(_ context.Context, r *Record) error {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
	return nil
}

// fastSettings keeps tests quick and independent of host memory.
func fastSettings() Settings {
	s := DefaultSettings()
	s.FullWait = 200 * time.Millisecond
	s.CheckInterval = 10 * time.Millisecond
	s.RecoveryTimeout = 50 * time.Millisecond
	s.GCPasses = 1
	s.GCPause = time.Millisecond
	s.CompletionPoll = 5 * time.Millisecond
	s.TakeBackoff = 2 * time.Millisecond
	return s
}

func mustScales(t *testing.T, labels ...string) []Scale {
	t.Helper()
	s, err := ParseScales(labels)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
