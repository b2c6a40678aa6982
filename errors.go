package psd2img

import (
	"errors"

	"github.com/alnah/go-psd2img/internal/imageutil"
	"github.com/alnah/go-psd2img/internal/memory"
)

// Sentinel errors for library operations.
var (
	ErrNoOpener       = errors.New("no document opener configured")
	ErrDocumentOpen   = errors.New("failed to open document")
	ErrInvalidProject = errors.New("invalid project")
	ErrRender         = errors.New("render failed")
	ErrSaveImage      = errors.New("failed to save image")

	// Project settings validation errors.
	ErrNoScales     = errors.New("no output scales")
	ErrInvalidScale = imageutil.ErrInvalidScale
	ErrInvalidMode  = errors.New("invalid processing mode")

	// Queue errors.
	ErrQueueFull    = errors.New("queue full")
	ErrQueueStopped = errors.New("queue stopped")
	ErrTaskTimeout  = errors.New("task timed out")

	// Memory errors.
	ErrMemoryUnrecoverable = memory.ErrMemoryUnrecoverable

	// Drop reasons. Tasks dropped for these reasons complete without a record.
	ErrOutsideCanvas = imageutil.ErrOutsideCanvas
	ErrTransparent   = imageutil.ErrTransparent

	// Registry errors.
	ErrNotRunning = errors.New("project is not running")
)
