package imageutil

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/webp" // register webp for Load

	"github.com/alnah/go-psd2img/internal/fileutil"
)

// encoder favours speed: assets are re-encoded by downstream tooling anyway.
var encoder = png.Encoder{CompressionLevel: png.BestSpeed}

// SavePNG atomically writes img as a PNG file.
func SavePNG(img image.Image, path string) error {
	if img == nil {
		return ErrNilImage
	}
	if err := fileutil.WriteAtomic(path, func(w io.Writer) error {
		return encoder.Encode(w, img)
	}); err != nil {
		return fmt.Errorf("saving %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load decodes an image file (PNG or WebP).
func Load(path string) (image.Image, error) {
	f, err := os.Open(path) // #nosec G304 -- path is built by the exporter
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// SaveOptions controls SaveScaled.
type SaveOptions struct {
	// ReloadBase upsamples from the 1x file re-read from disk instead of the
	// in-memory raster, so the caller can release the original early.
	ReloadBase bool
}

// Saved lists the files written for one asset, relative to the target directory.
type Saved struct {
	// Primary is the file recorded as the asset path: the 1x file when 1x
	// is requested, otherwise the first produced file.
	Primary string
	// Files maps scale label to file name.
	Files map[string]string
}

// SaveScaled writes img into dir once per scale. The 1x file is named
// filename, other scales use fileutil.ScaledFilename. 1x is written first
// when requested. Any failed write aborts and returns the error.
func SaveScaled(img image.Image, dir, filename string, scales []Scale, opts SaveOptions) (Saved, error) {
	if img == nil {
		return Saved{}, ErrNilImage
	}
	if len(scales) == 0 {
		return Saved{}, fmt.Errorf("%w: no scales given", ErrInvalidScale)
	}

	saved := Saved{Files: make(map[string]string, len(scales))}
	src := img

	ordered := make([]Scale, 0, len(scales))
	for _, s := range scales {
		if s.Factor == 1 {
			ordered = append([]Scale{s}, ordered...)
			continue
		}
		ordered = append(ordered, s)
	}

	for _, s := range ordered {
		name := filename
		if s.Factor != 1 {
			name = fileutil.ScaledFilename(filename, s.Label)
		}
		path := filepath.Join(dir, name)

		out, err := Upscale(src, s.Factor)
		if err != nil {
			return saved, err
		}
		if err := SavePNG(out, path); err != nil {
			return saved, err
		}
		saved.Files[s.Label] = name
		if saved.Primary == "" {
			saved.Primary = name
		}

		if s.Factor == 1 && opts.ReloadBase && len(ordered) > 1 {
			reloaded, err := Load(path)
			if err != nil {
				return saved, err
			}
			src = reloaded
		}
	}
	return saved, nil
}
