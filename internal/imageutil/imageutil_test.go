package imageutil_test

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/alnah/go-psd2img/internal/fileutil"
	"github.com/alnah/go-psd2img/internal/imageutil"
)

// solid returns a w×h RGBA filled with c.
func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// checker returns a w×h RGBA with a distinct colour per pixel.
func checker(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 40), G: uint8(y * 40), B: 200, A: 255})
		}
	}
	return img
}

var red = color.RGBA{R: 255, A: 255}

// ---------------------------------------------------------------------------
// TestClipToCanvas - Canvas intersection
// ---------------------------------------------------------------------------

func TestClipRect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		w, h, x, y int
		wantLocal  image.Rectangle
		wantX      int
		wantY      int
		wantOK     bool
	}{
		{name: "inside", w: 10, h: 10, x: 5, y: 5, wantLocal: image.Rect(0, 0, 10, 10), wantX: 5, wantY: 5, wantOK: true},
		{name: "half left", w: 20, h: 10, x: -10, y: 0, wantLocal: image.Rect(10, 0, 20, 10), wantX: 0, wantY: 0, wantOK: true},
		{name: "overflows bottom right", w: 20, h: 20, x: 90, y: 95, wantLocal: image.Rect(0, 0, 10, 5), wantX: 90, wantY: 95, wantOK: true},
		{name: "fully outside", w: 10, h: 10, x: 200, y: 0},
		{name: "touching edge", w: 10, h: 10, x: 100, y: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			local, nx, ny, ok := imageutil.ClipRect(tt.w, tt.h, tt.x, tt.y, 100, 100)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if local != tt.wantLocal || nx != tt.wantX || ny != tt.wantY {
				t.Errorf("ClipRect() = %v (%d,%d), want %v (%d,%d)", local, nx, ny, tt.wantLocal, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestClipToCanvas_HalfOutside(t *testing.T) {
	t.Parallel()

	src := checker(6, 4)
	out, x, y, err := imageutil.ClipToCanvas(src, -3, 0, 100, 100)
	if err != nil {
		t.Fatalf("ClipToCanvas() error = %v", err)
	}
	if x != 0 || y != 0 {
		t.Errorf("position = (%d,%d), want (0,0)", x, y)
	}
	w, h := imageutil.Size(out)
	if w != 3 || h != 4 {
		t.Fatalf("size = %dx%d, want 3x4", w, h)
	}
	for yy := 0; yy < h; yy++ {
		for xx := 0; xx < w; xx++ {
			if got, want := out.At(xx, yy), src.At(xx+3, yy); got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", xx, yy, got, want)
			}
		}
	}
}

func TestClipToCanvas_Outside(t *testing.T) {
	t.Parallel()

	_, _, _, err := imageutil.ClipToCanvas(checker(4, 4), 500, 500, 100, 100)
	if !errors.Is(err, imageutil.ErrOutsideCanvas) {
		t.Errorf("error = %v, want ErrOutsideCanvas", err)
	}
}

func TestClipToCanvas_InsideUnchanged(t *testing.T) {
	t.Parallel()

	src := checker(4, 4)
	out, _, _, err := imageutil.ClipToCanvas(src, 1, 1, 100, 100)
	if err != nil {
		t.Fatal(err)
	}
	if out != image.Image(src) {
		t.Error("expected the same raster for an inside layer")
	}
}

// ---------------------------------------------------------------------------
// TestOpaqueBounds - Transparent edge trimming
// ---------------------------------------------------------------------------

func TestOpaqueBounds_SinglePixel(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	img.SetRGBA(5, 5, red)

	got, found := imageutil.OpaqueBounds(img)
	if !found {
		t.Fatal("found = false")
	}
	if want := image.Rect(5, 5, 6, 6); got != want {
		t.Errorf("OpaqueBounds() = %v, want %v", got, want)
	}
}

func TestOpaqueBounds_NonZeroOrigin(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(10, 10, 20, 20))
	img.SetNRGBA(12, 13, color.NRGBA{G: 1, A: 1})
	img.SetNRGBA(15, 18, color.NRGBA{G: 1, A: 1})

	got, found := imageutil.OpaqueBounds(img)
	if !found {
		t.Fatal("found = false")
	}
	if want := image.Rect(2, 3, 6, 9); got != want {
		t.Errorf("OpaqueBounds() = %v, want %v", got, want)
	}
}

func TestOpaqueBounds_GenericImage(t *testing.T) {
	t.Parallel()

	img := image.NewGray16(image.Rect(0, 0, 3, 3))
	got, found := imageutil.OpaqueBounds(img)
	if !found || got != image.Rect(0, 0, 3, 3) {
		t.Errorf("OpaqueBounds() = %v %v, want full opaque", got, found)
	}
}

func TestTrim(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	img.SetRGBA(5, 5, red)

	out, offset, err := imageutil.Trim(img)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if offset != image.Pt(5, 5) {
		t.Errorf("offset = %v, want (5,5)", offset)
	}
	if w, h := imageutil.Size(out); w != 1 || h != 1 {
		t.Errorf("size = %dx%d, want 1x1", w, h)
	}
}

func TestTrim_FullyTransparent(t *testing.T) {
	t.Parallel()

	_, _, err := imageutil.Trim(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if !errors.Is(err, imageutil.ErrTransparent) {
		t.Errorf("error = %v, want ErrTransparent", err)
	}
}

func TestCrop_Empty(t *testing.T) {
	t.Parallel()

	_, err := imageutil.Crop(checker(2, 2), image.Rect(5, 5, 8, 8))
	if !errors.Is(err, imageutil.ErrEmptyRect) {
		t.Errorf("error = %v, want ErrEmptyRect", err)
	}
}

// ---------------------------------------------------------------------------
// TestParseScale - Scale labels
// ---------------------------------------------------------------------------

func TestParseScale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    imageutil.Scale
		wantErr bool
	}{
		{input: "1x", want: imageutil.Scale{Label: "1x", Factor: 1}},
		{input: " 2X ", want: imageutil.Scale{Label: "2x", Factor: 2}},
		{input: "8x", want: imageutil.Scale{Label: "8x", Factor: 8}},
		{input: "0x", wantErr: true},
		{input: "9x", wantErr: true},
		{input: "x", wantErr: true},
		{input: "2", wantErr: true},
		{input: "1.5x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := imageutil.ParseScale(tt.input)
			if tt.wantErr {
				if !errors.Is(err, imageutil.ErrInvalidScale) {
					t.Errorf("error = %v, want ErrInvalidScale", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ParseScale(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseScales_Dedupes(t *testing.T) {
	t.Parallel()

	got, err := imageutil.ParseScales([]string{"2x", "1x", "2X"})
	if err != nil {
		t.Fatal(err)
	}
	want := []imageutil.Scale{{Label: "2x", Factor: 2}, {Label: "1x", Factor: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseScales() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseScales_Empty(t *testing.T) {
	t.Parallel()

	if _, err := imageutil.ParseScales(nil); !errors.Is(err, imageutil.ErrInvalidScale) {
		t.Errorf("error = %v, want ErrInvalidScale", err)
	}
}

// ---------------------------------------------------------------------------
// TestResizeNearest - Hard-edge resampling
// ---------------------------------------------------------------------------

func TestResizeNearest_DoublesWithoutBlending(t *testing.T) {
	t.Parallel()

	src := checker(3, 2)
	out, err := imageutil.ResizeNearest(src, 6, 4)
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			if got, want := out.RGBAAt(x, y), src.RGBAAt(x/2, y/2); got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestResizeNearest_InvalidSize(t *testing.T) {
	t.Parallel()

	if _, err := imageutil.ResizeNearest(checker(2, 2), 0, 2); err == nil {
		t.Error("expected error for zero width")
	}
}

// ---------------------------------------------------------------------------
// TestSaveScaled - Multi-scale export
// ---------------------------------------------------------------------------

func TestSaveScaled_ReloadBase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := checker(5, 3)
	scales := []imageutil.Scale{{Label: "2x", Factor: 2}, {Label: "1x", Factor: 1}}

	saved, err := imageutil.SaveScaled(src, dir, "text_hello_0a1b2c3d.png", scales, imageutil.SaveOptions{ReloadBase: true})
	if err != nil {
		t.Fatalf("SaveScaled() error = %v", err)
	}

	if saved.Primary != "text_hello_0a1b2c3d.png" {
		t.Errorf("Primary = %q, want the 1x file", saved.Primary)
	}
	wantFiles := map[string]string{
		"1x": "text_hello_0a1b2c3d.png",
		"2x": "text_hello_0a1b2c3d@2x.png",
	}
	if diff := cmp.Diff(wantFiles, saved.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}

	base, err := imageutil.Load(filepath.Join(dir, saved.Files["1x"]))
	if err != nil {
		t.Fatal(err)
	}
	double, err := imageutil.Load(filepath.Join(dir, saved.Files["2x"]))
	if err != nil {
		t.Fatal(err)
	}
	if w, h := imageutil.Size(double); w != 10 || h != 6 {
		t.Fatalf("2x size = %dx%d, want 10x6", w, h)
	}
	for y := 0; y < 6; y++ {
		for x := 0; x < 10; x++ {
			r1, g1, b1, a1 := double.At(x, y).RGBA()
			r2, g2, b2, a2 := base.At(x/2, y/2).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				t.Fatalf("2x pixel (%d,%d) differs from 1x pixel (%d,%d)", x, y, x/2, y/2)
			}
		}
	}
}

func TestSaveScaled_PrimaryWithoutOneX(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scales := []imageutil.Scale{{Label: "3x", Factor: 3}, {Label: "2x", Factor: 2}}

	saved, err := imageutil.SaveScaled(solid(2, 2, red), dir, "layer_a_00000000.png", scales, imageutil.SaveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if saved.Primary != "layer_a_00000000@3x.png" {
		t.Errorf("Primary = %q, want first produced file", saved.Primary)
	}
	if fileutil.FileExists(filepath.Join(dir, "layer_a_00000000.png")) {
		t.Error("1x file written although not requested")
	}
}

func TestSaveScaled_WriteFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := imageutil.SavePNG(solid(1, 1, red), blocker); err != nil {
		t.Fatal(err)
	}

	_, err := imageutil.SaveScaled(solid(1, 1, red), filepath.Join(blocker, "sub"), "a.png",
		[]imageutil.Scale{{Label: "1x", Factor: 1}}, imageutil.SaveOptions{})
	if err == nil {
		t.Error("expected error when directory cannot be created")
	}
}
