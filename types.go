package psd2img

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/alnah/go-psd2img/internal/imageutil"
)

// Mode selects how exported rasters are bounded.
type Mode string

// Processing modes.
const (
	// ModeStandard keeps authored layer bounds (clipped to the canvas).
	ModeStandard Mode = "standard"
	// ModeAggressive crops every raster to its non-transparent bounding box.
	ModeAggressive Mode = "aggressive"
)

// ParseMode parses "standard" or "aggressive". Empty means standard.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStandard:
		return ModeStandard, nil
	case ModeAggressive:
		return ModeAggressive, nil
	default:
		return "", fmt.Errorf("%w: %q (must be standard or aggressive)", ErrInvalidMode, s)
	}
}

// Status is the processing state of a project.
type Status string

// Project statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Kind is the catalog kind of an exported element.
type Kind string

// Record kinds.
const (
	KindSlice Kind = "slice"
	KindGroup Kind = "group"
	KindLayer Kind = "layer"
	KindText  Kind = "text"
)

// Scale is an integer output multiplier such as 2x.
type Scale = imageutil.Scale

// ParseScales parses scale labels ("1x", "2x"), removing duplicates.
// An empty list defaults to 1x.
func ParseScales(labels []string) ([]Scale, error) {
	if len(labels) == 0 {
		return []Scale{{Label: "1x", Factor: 1}}, nil
	}
	for _, l := range labels {
		if strings.TrimSpace(l) == "" {
			return nil, fmt.Errorf("%w: empty label", ErrNoScales)
		}
	}
	return imageutil.ParseScales(labels)
}

// Project is the processing context of one document.
// Process updates Status, Message, Width, Height, StartedAt and FinishedAt.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourcePath string    `json:"sourcePath"`
	OutputDir  string    `json:"outputDir"`
	Scales     []string  `json:"scales"`
	Mode       Mode      `json:"mode"`
	Cores      int       `json:"cores"`
	Status     Status    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// AssetDir returns <OutputDir>/processed/<ID>.
func (p *Project) AssetDir() string {
	return filepath.Join(p.OutputDir, "processed", p.ID)
}

// Record is one exported element of the catalog.
// Width and Height are always positive.
type Record struct {
	ID               string   `json:"id"`
	ProjectID        string   `json:"projectId"`
	ParentID         string   `json:"parentId,omitempty"`
	SourceResourceID string   `json:"sourceResourceId,omitempty"`
	Name             string   `json:"name"`
	Kind             Kind     `json:"kind"`
	X                int      `json:"x"`
	Y                int      `json:"y"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	Content          string   `json:"content,omitempty"`
	ImagePath        string   `json:"imagePath,omitempty"`
	Hidden           bool     `json:"hidden"`
	Metadata         Metadata `json:"metadata"`
}

// Metadata carries per-record extras.
type Metadata struct {
	Scales          []string          `json:"scales,omitempty"`
	ScaledPaths     map[string]string `json:"scaled_paths,omitempty"`
	ImagePathNoText string            `json:"image_path_no_text,omitempty"`
	Opacity         *float64          `json:"opacity,omitempty"`
	BlendMode       string            `json:"blend_mode,omitempty"`
	HasText         bool              `json:"has_text,omitempty"`
	HasMask         bool              `json:"has_mask,omitempty"`
	Fonts           []string          `json:"fonts,omitempty"`
	FontSizes       []float64         `json:"font_sizes,omitempty"`
	Colors          []string          `json:"colors,omitempty"`
}
