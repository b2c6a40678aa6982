package manifest

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
)

// Font defaults.
const (
	DefaultFont     = "Go"
	DefaultFontSize = 16.0
)

var fontData = map[string][]byte{
	"Go":             goregular.TTF,
	"Go Bold":        gobold.TTF,
	"Go Italic":      goitalic.TTF,
	"Go Bold Italic": gobolditalic.TTF,
	"Go Mono":        gomono.TTF,
}

var (
	fontMu      sync.Mutex
	fontSources = map[string]*text.FontSource{}
)

// Fonts returns the available font names, sorted.
func Fonts() []string {
	names := make([]string, 0, len(fontData))
	for name := range fontData {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fontFace returns a face of the named font. Sources are parsed once and shared.
func fontFace(name string, size float64) (text.Face, error) {
	data, ok := fontData[name]
	if !ok {
		return nil, fmt.Errorf("unknown font %q (available: %v)", name, Fonts())
	}

	fontMu.Lock()
	defer fontMu.Unlock()
	src, ok := fontSources[name]
	if !ok {
		var err error
		if src, err = text.NewFontSource(data); err != nil {
			return nil, fmt.Errorf("loading font %q: %w", name, err)
		}
		fontSources[name] = src
	}
	return src.Face(size), nil
}

// measure returns the pixel box of one line of s.
func measure(s string, face text.Face) (w, h int) {
	m := face.Metrics()
	return int(math.Ceil(face.Advance(s))), int(math.Ceil(m.Ascent + m.Descent))
}
