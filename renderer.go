package psd2img

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/alnah/go-psd2img/internal/fileutil"
	"github.com/alnah/go-psd2img/internal/imageutil"
	"github.com/alnah/go-psd2img/internal/logging"
)

const (
	assetExt      = "png"
	noTextSuffix  = "_notext"
	processedRoot = "processed"
)

// Outcome is the result of rendering one task. Record is nil when the
// task was dropped (outside the canvas, or transparent in aggressive mode).
type Outcome struct {
	Record  *Record
	Files   []string
	Dropped error
}

// Renderer turns tasks into files and records.
//
// Renders share one document tree. Group no-text passes toggle visibility
// on that tree, so they take the tree lock exclusively while every other
// render holds it shared.
type Renderer struct {
	doc        Document
	projectID  string
	assetDir   string
	scales     []Scale
	mode       Mode
	reloadBase bool
	logger     *slog.Logger

	treeMu sync.RWMutex

	compositeOnce sync.Once
	compositeMu   sync.Mutex
	composite     image.Image
	compositeErr  error
}

// RendererConfig configures a Renderer.
type RendererConfig struct {
	ProjectID string
	// AssetDir is the directory files are written to.
	AssetDir   string
	Scales     []Scale
	Mode       Mode
	ReloadBase bool
	Logger     *slog.Logger
}

// NewRenderer creates a Renderer over doc.
func NewRenderer(doc Document, cfg RendererConfig) *Renderer {
	return &Renderer{
		doc:        doc,
		projectID:  cfg.ProjectID,
		assetDir:   cfg.AssetDir,
		scales:     cfg.Scales,
		mode:       cfg.Mode,
		reloadBase: cfg.ReloadBase,
		logger:     logging.OrDiscard(cfg.Logger),
	}
}

// Render processes one task. Panics from the decoder are recovered and
// returned as ErrRender.
func (r *Renderer) Render(ctx context.Context, t *Task) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{}
			err = fmt.Errorf("%w: panic: %v", ErrRender, p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	switch {
	case t.Kind == TaskSlice:
		return r.renderSlice(ctx, t)
	case t.IsGroup:
		return r.renderGroup(ctx, t)
	default:
		return r.renderNode(ctx, t)
	}
}

// Composite returns the flattened canvas, rendered once per Renderer.
func (r *Renderer) Composite(ctx context.Context) (image.Image, error) {
	r.compositeOnce.Do(func() {
		img, err := r.flatten(ctx)
		r.compositeMu.Lock()
		r.composite, r.compositeErr = img, err
		r.compositeMu.Unlock()
	})

	r.compositeMu.Lock()
	defer r.compositeMu.Unlock()
	if r.composite == nil && r.compositeErr == nil {
		return nil, fmt.Errorf("%w: composite released", ErrRender)
	}
	return r.composite, r.compositeErr
}

func (r *Renderer) flatten(ctx context.Context) (img image.Image, err error) {
	r.treeMu.RLock()
	defer r.treeMu.RUnlock()
	defer func() {
		if p := recover(); p != nil {
			img, err = nil, fmt.Errorf("%w: composite panic: %v", ErrRender, p)
		}
	}()
	return r.doc.Composite(ctx)
}

// Release drops the cached composite. Later Composite calls fail with ErrRender.
func (r *Renderer) Release() {
	r.compositeMu.Lock()
	r.composite = nil
	r.compositeMu.Unlock()
}

func (r *Renderer) renderSlice(ctx context.Context, t *Task) (Outcome, error) {
	sl := t.Slice
	canvas, err := r.Composite(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: composite: %w", ErrRender, err)
	}

	p, err := r.place(canvas, Geometry{}, sl.Geometry.Rect())
	if err != nil {
		return dropOrFail(err)
	}

	filename := "slice_" + fileutil.ShortHash(fmt.Sprintf("slice_%s_%s", r.projectID, sl.ID), 8) + "." + assetExt
	rec := r.newRecord(t, KindSlice, sliceName(*sl), p)
	rec.SourceResourceID = "slice_" + sl.ID

	files, err := r.save(p.img, filename, rec)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: rec, Files: files}, nil
}

func (r *Renderer) renderNode(ctx context.Context, t *Task) (Outcome, error) {
	n := t.Node
	img, err := r.rasterize(ctx, n)
	if err != nil {
		return Outcome{}, err
	}

	p, err := r.place(img, n.Geometry(), image.Rectangle{})
	if err != nil {
		return dropOrFail(err)
	}

	kind := KindLayer
	if t.Kind == TaskText {
		kind = KindText
	}
	rec := r.newRecord(t, kind, n.Name(), p)
	r.applyNodeMetadata(rec, n, t)

	files, err := r.save(p.img, fileutil.AssetFilename(string(kind), n.Name(), assetExt), rec)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: rec, Files: files}, nil
}

// renderGroup writes the group composite and, when the group contains text,
// a second composite with that text hidden. Both use the crop computed from
// the first pass so they stay aligned.
func (r *Renderer) renderGroup(ctx context.Context, t *Task) (Outcome, error) {
	n := t.Node
	img, err := r.rasterize(ctx, n)
	if err != nil {
		return Outcome{}, err
	}

	p, err := r.place(img, n.Geometry(), image.Rectangle{})
	if err != nil {
		return dropOrFail(err)
	}

	rec := r.newRecord(t, KindGroup, n.Name(), p)
	r.applyNodeMetadata(rec, n, t)

	filename := fileutil.AssetFilename(string(KindGroup), n.Name(), assetExt)
	files, err := r.save(p.img, filename, rec)
	if err != nil {
		return Outcome{}, err
	}

	if t.HasText {
		noTextFiles, err := r.saveNoText(ctx, n, p.crop, filename, rec)
		if err != nil {
			r.logger.Warn("group no-text pass failed",
				slog.String("task_id", t.ID),
				slog.String("node", n.Name()),
				slog.Any("error", err))
		}
		files = append(files, noTextFiles...)
	}
	return Outcome{Record: rec, Files: files}, nil
}

func (r *Renderer) saveNoText(ctx context.Context, n Node, crop image.Rectangle, filename string, rec *Record) ([]string, error) {
	img, err := r.rasterizeWithoutText(ctx, n)
	if err != nil {
		return nil, err
	}
	cropped, err := imageutil.Crop(img, crop)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	ext := path.Ext(filename)
	noTextName := strings.TrimSuffix(filename, ext) + noTextSuffix + ext
	saved, err := imageutil.SaveScaled(cropped, r.assetDir, noTextName, r.scales, imageutil.SaveOptions{ReloadBase: r.reloadBase})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaveImage, err)
	}
	rec.Metadata.ImagePathNoText = r.relPath(saved.Primary)
	return r.relFiles(saved), nil
}

// dropOrFail turns a drop reason into an empty outcome and passes other errors through.
func dropOrFail(err error) (Outcome, error) {
	if errors.Is(err, ErrOutsideCanvas) || errors.Is(err, ErrTransparent) {
		return Outcome{Dropped: err}, nil
	}
	return Outcome{}, err
}

// rasterize renders n while holding the tree lock shared.
func (r *Renderer) rasterize(ctx context.Context, n Node) (image.Image, error) {
	r.treeMu.RLock()
	defer r.treeMu.RUnlock()

	img, err := n.Render(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRender, n.Name(), err)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: %s: no raster", ErrRender, n.Name())
	}
	return img, nil
}

// rasterizeWithoutText renders n with every text descendant hidden. The
// previous visibility is restored before returning, even on panic.
func (r *Renderer) rasterizeWithoutText(ctx context.Context, n Node) (image.Image, error) {
	r.treeMu.Lock()
	defer r.treeMu.Unlock()

	restore := hideNodes(textDescendants(n))
	defer restore()

	img, err := n.Render(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s without text: %w", ErrRender, n.Name(), err)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: %s without text: no raster", ErrRender, n.Name())
	}
	return img, nil
}

// hideNodes sets every node invisible and returns a func restoring their
// previous visibility.
func hideNodes(nodes []Node) (restore func()) {
	prev := make([]bool, len(nodes))
	for i, n := range nodes {
		prev[i] = n.Visible()
		n.SetVisible(false)
	}
	return func() {
		for i, n := range nodes {
			n.SetVisible(prev[i])
		}
	}
}

// placement is a raster ready to save: its canvas position and the crop
// that produced it, in source-raster coordinates.
type placement struct {
	img  image.Image
	x, y int
	crop image.Rectangle
}

// place positions img on the canvas at geom, or takes the canvas region
// region when img is the flattened composite (geom is then ignored), clips
// it to the canvas and trims it in aggressive mode. It returns
// ErrOutsideCanvas or ErrTransparent when nothing remains.
func (r *Renderer) place(img image.Image, geom Geometry, region image.Rectangle) (placement, error) {
	var (
		clipped image.Image
		local   image.Rectangle
		x, y    int
	)
	if region != (image.Rectangle{}) {
		w, h := imageutil.Size(img)
		visible := region.Intersect(image.Rect(0, 0, min(w, r.doc.Width()), min(h, r.doc.Height())))
		if visible.Empty() {
			return placement{}, ErrOutsideCanvas
		}
		cropped, err := imageutil.Crop(img, visible)
		if err != nil {
			return placement{}, fmt.Errorf("%w: %v", ErrRender, err)
		}
		clipped, local, x, y = cropped, visible, visible.Min.X, visible.Min.Y
	} else {
		c, cx, cy, err := imageutil.ClipToCanvas(img, geom.Left, geom.Top, r.doc.Width(), r.doc.Height())
		switch {
		case errors.Is(err, imageutil.ErrOutsideCanvas):
			return placement{}, ErrOutsideCanvas
		case err != nil:
			return placement{}, fmt.Errorf("%w: %v", ErrRender, err)
		}
		cw, ch := imageutil.Size(c)
		// Position of the kept part inside the source raster.
		local = image.Rect(0, 0, cw, ch).Add(image.Pt(cx-geom.Left, cy-geom.Top))
		clipped, x, y = c, cx, cy
	}

	if r.mode != ModeAggressive {
		return placement{img: clipped, x: x, y: y, crop: local}, nil
	}

	trimmed, offset, err := imageutil.Trim(clipped)
	if err != nil {
		if errors.Is(err, imageutil.ErrTransparent) {
			return placement{}, ErrTransparent
		}
		return placement{}, fmt.Errorf("%w: %v", ErrRender, err)
	}
	tw, th := imageutil.Size(trimmed)
	crop := image.Rect(0, 0, tw, th).Add(local.Min.Add(offset))
	return placement{img: trimmed, x: x + offset.X, y: y + offset.Y, crop: crop}, nil
}

func (r *Renderer) save(img image.Image, filename string, rec *Record) ([]string, error) {
	saved, err := imageutil.SaveScaled(img, r.assetDir, filename, r.scales, imageutil.SaveOptions{ReloadBase: r.reloadBase})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaveImage, err)
	}
	rec.ImagePath = r.relPath(saved.Primary)
	rec.Metadata.Scales = imageutil.Labels(r.scales)
	rec.Metadata.ScaledPaths = make(map[string]string, len(saved.Files))
	for label, name := range saved.Files {
		rec.Metadata.ScaledPaths[label] = r.relPath(name)
	}
	return r.relFiles(saved), nil
}

func (r *Renderer) newRecord(t *Task, kind Kind, name string, p placement) *Record {
	w, h := imageutil.Size(p.img)
	rec := &Record{
		ID:        t.RecordID,
		ProjectID: t.ProjectID,
		ParentID:  t.ParentID,
		Name:      name,
		Kind:      kind,
		X:         p.x,
		Y:         p.y,
		Width:     w,
		Height:    h,
	}
	if t.Node != nil {
		rec.SourceResourceID = "node_" + t.Node.Name()
		rec.Hidden = !t.Node.Visible()
	}
	return rec
}

func (r *Renderer) applyNodeMetadata(rec *Record, n Node, t *Task) {
	attrs := n.Attributes()
	opacity := attrs.Opacity
	rec.Metadata.Opacity = &opacity
	rec.Metadata.BlendMode = attrs.BlendMode
	rec.Metadata.HasMask = attrs.HasMask
	rec.Metadata.HasText = t.HasText && t.Kind != TaskText

	if txt := n.Text(); txt != nil && t.Kind == TaskText {
		rec.Content = txt.Value
		rec.Metadata.Fonts = txt.Fonts
		rec.Metadata.FontSizes = txt.Sizes
		rec.Metadata.Colors = txt.Colors
	}
}

// relPath returns the catalog path of an asset file: processed/<project>/<name>.
func (r *Renderer) relPath(name string) string {
	return path.Join(processedRoot, r.projectID, name)
}

// relFiles lists saved files as catalog paths, in scale order.
func (r *Renderer) relFiles(saved imageutil.Saved) []string {
	out := make([]string, 0, len(saved.Files))
	for _, sc := range r.scales {
		if name, ok := saved.Files[sc.Label]; ok {
			out = append(out, r.relPath(name))
		}
	}
	return out
}
