package psd2img

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/alnah/go-psd2img/internal/imageutil"
)

// PreviewFilename is the flattened-canvas preview written next to the assets.
const PreviewFilename = "full_preview.png"

// writePreview saves the flattened composite. Failures are logged, not returned.
// It returns the catalog path of the preview, or "" when none was written.
func writePreview(ctx context.Context, r *Renderer, assetDir string, logger *slog.Logger) string {
	img, err := r.Composite(ctx)
	if err != nil {
		logger.Warn("preview skipped", slog.Any("error", err))
		return ""
	}
	if err := imageutil.SavePNG(img, filepath.Join(assetDir, PreviewFilename)); err != nil {
		logger.Warn("preview not saved", slog.Any("error", err))
		return ""
	}
	return r.relPath(PreviewFilename)
}
