package main

import (
	"errors"
	"os"

	"github.com/alnah/go-psd2img"
	"github.com/alnah/go-psd2img/internal/config"
	"github.com/alnah/go-psd2img/internal/manifest"
)

// Exit codes for the psd2img CLI.
// Follows Unix conventions: 0=success, 1=general, 2=usage, and custom codes < 126.
const (
	ExitSuccess = 0 // All assets exported
	ExitGeneral = 1 // General/unexpected error
	ExitUsage   = 2 // Invalid flags, config, or manifest
	ExitIO      = 3 // Document not found, permission denied, write failure
	ExitMemory  = 4 // Aborted by the memory guard
)

// exitCodeFor returns the appropriate exit code for an error.
// It uses errors.Is to check wrapped errors, so callers must use fmt.Errorf("%w", err).
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	if errors.Is(err, psd2img.ErrMemoryUnrecoverable) {
		return ExitMemory
	}

	// Usage/config/validation errors are checked before I/O: a missing
	// config file is a usage problem even though it wraps os.ErrNotExist.
	if errors.Is(err, errUsage) ||
		errors.Is(err, ErrNoDocument) ||
		errors.Is(err, config.ErrConfigNotFound) ||
		errors.Is(err, config.ErrConfigParse) ||
		errors.Is(err, config.ErrInvalidConfig) ||
		errors.Is(err, config.ErrEmptyConfigName) ||
		errors.Is(err, manifest.ErrInvalidManifest) ||
		errors.Is(err, psd2img.ErrInvalidProject) ||
		errors.Is(err, psd2img.ErrInvalidMode) ||
		errors.Is(err, psd2img.ErrInvalidScale) ||
		errors.Is(err, psd2img.ErrNoScales) {
		return ExitUsage
	}

	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, psd2img.ErrDocumentOpen) ||
		errors.Is(err, psd2img.ErrSaveImage) {
		return ExitIO
	}

	return ExitGeneral
}
