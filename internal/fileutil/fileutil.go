// Package fileutil provides file naming and atomic write helpers for exported assets.
package fileutil

import (
	"crypto/md5" // #nosec G501 -- used for naming, not security
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors for file utility operations.
var (
	ErrExtensionEmpty         = errors.New("extension cannot be empty")
	ErrExtensionPathTraversal = errors.New("extension contains path separator or null byte")
)

// File permission constants.
const (
	DirPermissions  = 0o750 // rwxr-x---: owner full, group read+execute
	FilePermissions = 0o644 // rw-r--r--: owner read+write, others read
)

// TempSuffix marks files that are still being written.
// Anything left with this suffix after a crash is safe to delete.
const TempSuffix = ".tmp"

// maxNameRunes caps the sanitized part of a file name.
const maxNameRunes = 50

// unsafeReplacer removes filesystem-unsafe characters while keeping UTF-8 text.
var unsafeReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
	"\x00", "_",
)

// SanitizeName turns a layer name into a file-name-safe fragment.
// Non-ASCII letters are preserved. Empty results fall back to a short hash
// of the original name so every node still gets a stable fragment.
//
// Examples:
//   - "Hero Banner" -> "Hero_Banner"
//   - "a/b:c" -> "a_b_c"
//   - "" -> first 12 hex chars of md5("")
func SanitizeName(name string) string {
	sanitized := unsafeReplacer.Replace(name)

	if utf8.RuneCountInString(sanitized) > maxNameRunes {
		sanitized = string([]rune(sanitized)[:maxNameRunes])
	}

	if strings.Trim(sanitized, "_ ") == "" {
		return ShortHash(name, 12)
	}
	return sanitized
}

// ShortHash returns the first n hex characters of the md5 digest of s.
func ShortHash(s string, n int) string {
	sum := md5.Sum([]byte(s)) // #nosec G401 -- naming only
	h := hex.EncodeToString(sum[:])
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}

// RandomHex returns 2n random hex characters.
func RandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("fileutil: reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

// AssetFilename builds "<kind>_<sanitized>_<8 hex>.<ext>" for an exported asset.
func AssetFilename(kind, name, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s", kind, SanitizeName(name), RandomHex(4), ext)
}

// ScaledFilename inserts a scale label before the extension: "a.png" + "2x" -> "a@2x.png".
func ScaledFilename(filename, label string) string {
	ext := filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext) + "@" + label + ext
}

// ValidateExtension checks that the extension is safe for use in generated file names.
func ValidateExtension(extension string) error {
	if extension == "" {
		return ErrExtensionEmpty
	}
	if strings.ContainsAny(extension, "/\\\x00") {
		return ErrExtensionPathTraversal
	}
	return nil
}

// WriteAtomic writes the output of write to path through a sibling temp file
// that is renamed into place on success. Readers never observe a partial file.
func WriteAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*"+TempSuffix)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, FilePermissions); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// RemoveMatching deletes regular files matching any of the glob patterns.
// Returns the number of files removed and the errors encountered, joined.
func RemoveMatching(patterns ...string) (int, error) {
	return RemoveStale(0, patterns...)
}

// RemoveStale is RemoveMatching restricted to files not modified within minAge,
// so files still being written by WriteAtomic are left alone.
func RemoveStale(minAge time.Duration, patterns ...string) (int, error) {
	cutoff := time.Now().Add(-minAge)
	var removed int
	var errs []error
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("pattern %q: %w", pattern, err))
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if minAge > 0 && info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// FileExists returns true if the path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
