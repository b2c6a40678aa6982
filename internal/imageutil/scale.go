package imageutil

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// MaxScaleFactor bounds accepted scale factors.
const MaxScaleFactor = 8

// ErrInvalidScale is returned for labels that are not "<N>x" with 1 <= N <= MaxScaleFactor.
var ErrInvalidScale = errors.New("invalid scale")

// Scale is an integer output multiplier with its label ("1x", "2x").
type Scale struct {
	Label  string
	Factor int
}

// ParseScale parses a label such as "2x" or "3X".
func ParseScale(label string) (Scale, error) {
	s := strings.ToLower(strings.TrimSpace(label))
	digits, ok := strings.CutSuffix(s, "x")
	if !ok || digits == "" {
		return Scale{}, fmt.Errorf("%w: %q", ErrInvalidScale, label)
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 || n > MaxScaleFactor {
		return Scale{}, fmt.Errorf("%w: %q", ErrInvalidScale, label)
	}
	return Scale{Label: strconv.Itoa(n) + "x", Factor: n}, nil
}

// ParseScales parses labels, dropping duplicates while keeping first-seen order.
func ParseScales(labels []string) ([]Scale, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no scales given", ErrInvalidScale)
	}
	seen := make(map[int]bool, len(labels))
	out := make([]Scale, 0, len(labels))
	for _, l := range labels {
		sc, err := ParseScale(l)
		if err != nil {
			return nil, err
		}
		if seen[sc.Factor] {
			continue
		}
		seen[sc.Factor] = true
		out = append(out, sc)
	}
	return out, nil
}

// Labels returns the labels of scales in order.
func Labels(scales []Scale) []string {
	out := make([]string, len(scales))
	for i, s := range scales {
		out[i] = s.Label
	}
	return out
}

// ResizeNearest returns a w×h copy of img using nearest-neighbour sampling,
// so every output pixel is an unmodified source pixel.
func ResizeNearest(img image.Image, w, h int) (*image.RGBA, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyRect
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst, nil
}

// Upscale multiplies both dimensions of img by factor.
func Upscale(img image.Image, factor int) (image.Image, error) {
	if factor == 1 {
		return img, nil
	}
	if factor < 1 {
		return nil, fmt.Errorf("%w: factor %d", ErrInvalidScale, factor)
	}
	w, h := Size(img)
	return ResizeNearest(img, w*factor, h*factor)
}
