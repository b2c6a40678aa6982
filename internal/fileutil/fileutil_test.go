package fileutil_test

// Notes:
// - RandomHex panic branch: crypto/rand.Read does not fail on supported
//   platforms, so the branch is not exercised.
// These are acceptable gaps: we test observable behavior, not implementation details.

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alnah/go-psd2img/internal/fileutil"
)

// ---------------------------------------------------------------------------
// TestSanitizeName - File-name-safe fragments
// ---------------------------------------------------------------------------

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "Logo", want: "Logo"},
		{name: "spaces", input: "Hero Banner", want: "Hero_Banner"},
		{name: "unsafe characters", input: `a/b\c:d*e?f"g<h>i|j`, want: "a_b_c_d_e_f_g_h_i_j"},
		{name: "utf8 kept", input: "攻城 图", want: "攻城_图"},
		{name: "empty falls back to hash", input: "", want: fileutil.ShortHash("", 12)},
		{name: "only unsafe falls back to hash", input: "///", want: fileutil.ShortHash("///", 12)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := fileutil.SanitizeName(tt.input); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeName_TruncatesRunes(t *testing.T) {
	t.Parallel()

	got := fileutil.SanitizeName(strings.Repeat("图", 80))
	if n := len([]rune(got)); n != 50 {
		t.Errorf("rune count = %d, want 50", n)
	}
}

// ---------------------------------------------------------------------------
// TestAssetFilename - Generated asset names
// ---------------------------------------------------------------------------

func TestAssetFilename(t *testing.T) {
	t.Parallel()

	re := regexp.MustCompile(`^layer_Top_Bar_[0-9a-f]{8}\.png$`)
	a := fileutil.AssetFilename("layer", "Top Bar", "png")
	b := fileutil.AssetFilename("layer", "Top Bar", "png")

	if !re.MatchString(a) {
		t.Errorf("AssetFilename = %q, does not match %s", a, re)
	}
	if a == b {
		t.Errorf("two calls returned the same name %q", a)
	}
}

func TestScaledFilename(t *testing.T) {
	t.Parallel()

	if got := fileutil.ScaledFilename("text_a_01ab.png", "2x"); got != "text_a_01ab@2x.png" {
		t.Errorf("ScaledFilename = %q", got)
	}
}

// ---------------------------------------------------------------------------
// TestValidateExtension - Extension validation
// ---------------------------------------------------------------------------

func TestValidateExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		extension string
		wantErr   error
	}{
		{name: "png", extension: "png"},
		{name: "empty", extension: "", wantErr: fileutil.ErrExtensionEmpty},
		{name: "slash", extension: "../png", wantErr: fileutil.ErrExtensionPathTraversal},
		{name: "null byte", extension: "png\x00exe", wantErr: fileutil.ErrExtensionPathTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := fileutil.ValidateExtension(tt.extension)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateExtension(%q) = %v, want %v", tt.extension, err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestWriteAtomic - Temp file + rename
// ---------------------------------------------------------------------------

func TestWriteAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.png")

	err := fileutil.WriteAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "pixels")
		return err
	})
	if err != nil {
		t.Fatalf("WriteAtomic() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading result: %v", err)
	}
	if string(data) != "pixels" {
		t.Errorf("content = %q, want %q", data, "pixels")
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "nested", "*"+fileutil.TempSuffix))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestWriteAtomic_WriterErrorRemovesTemp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")
	boom := errors.New("encode failed")

	err := fileutil.WriteAtomic(path, func(io.Writer) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("WriteAtomic() error = %v, want %v", err, boom)
	}
	if fileutil.FileExists(path) {
		t.Error("destination exists after failed write")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("directory not empty after failed write: %d entries", len(entries))
	}
}

// ---------------------------------------------------------------------------
// TestRemoveMatching - Temp file cleanup
// ---------------------------------------------------------------------------

func TestRemoveMatching(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a.tmp", "b.tmp", "keep.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	n, err := fileutil.RemoveMatching(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("RemoveMatching() error = %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if !fileutil.FileExists(filepath.Join(dir, "keep.png")) {
		t.Error("non-matching file was removed")
	}
}

func TestRemoveMatching_BadPattern(t *testing.T) {
	t.Parallel()

	if _, err := fileutil.RemoveMatching("[unclosed"); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestRemoveStale_KeepsFreshFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fresh := filepath.Join(dir, "fresh.tmp")
	old := filepath.Join(dir, "old.tmp")
	for _, p := range []string{fresh, old} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	n, err := fileutil.RemoveStale(time.Minute, filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if !fileutil.FileExists(fresh) {
		t.Error("fresh file was removed")
	}
	if fileutil.FileExists(old) {
		t.Error("stale file was kept")
	}
}
