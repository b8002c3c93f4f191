/*
Package image implements the main image encoder and decoder.

Each line of text becomes one row of pixels with one pixel per character,
colored from a codec.Table. Every row except the last is terminated with a
black pixel which decodes as a line break. Rows are as long as their line so
the grid is ragged; when it is rasterised the image is as wide as the longest
row and shorter rows are padded with fully transparent pixels, which are
ignored when reading.

Decoding is deliberately lenient. A black pixel ends the row it is in and
anything after it is ignored. A color that is not in the table contributes
nothing to the output. Neither condition is an error, but both are counted
in Stats so that callers can detect a damaged or mismatched image.

Only lossless formats are supported. JPEG is refused outright because any
re-compression shifts colors off the table.
*/
package image

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/bodgit/pixcrypt/codec"
)

// Sentinel is the line break pixel
const Sentinel = codec.Black

// Format is a lossless raster format
type Format int

// Supported output formats
const (
	PNG Format = iota
	BMP
	TIFF
)

var (
	// ErrEmpty is returned when there is nothing to render
	ErrEmpty = errors.New("image: no text")
	// ErrLossy is returned when asked to read a lossy format
	ErrLossy = errors.New("image: lossy format cannot be decoded")
	// ErrFormat is returned for an unrecognised file extension
	ErrFormat = errors.New("image: unsupported format")
	// ErrPadding is returned when a format without transparency would have
	// to pad the last row, which would read back as a line break
	ErrPadding = errors.New("image: format cannot pad the last line")

	errTooWide = errors.New("image: row exceeds declared width")
	errTooTall = errors.New("image: rows exceed declared height")
)

func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case BMP:
		return "bmp"
	case TIFF:
		return "tiff"
	default:
		return "unknown"
	}
}

// Extension returns the usual file extension including the dot
func (f Format) Extension() string {
	if f == TIFF {
		return ".tif"
	}
	return "." + f.String()
}

// FormatFromPath picks a format from the extension of path
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return PNG, nil
	case ".bmp":
		return BMP, nil
	case ".tif", ".tiff":
		return TIFF, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrFormat, filepath.Ext(path))
	}
}

// UnmappedError reports a character with no color in the table. Line and
// Column are 1-based and count runes.
type UnmappedError struct {
	Rune   rune
	Line   int
	Column int
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("image: no color for %q at line %d, column %d", e.Rune, e.Line, e.Column)
}

// Grid is a ragged row-major grid of pixels
type Grid [][]codec.Color

// Bounds returns the rectangle needed to rasterise g
func (g Grid) Bounds() image.Rectangle {
	var w int
	for _, row := range g {
		if len(row) > w {
			w = len(row)
		}
	}
	return image.Rect(0, 0, w, len(g))
}

// Stats describes what happened while decoding a grid
type Stats struct {
	Pixels     int // pixels examined
	Symbols    int // symbols written, including spaces
	LineBreaks int // sentinels seen
	Dropped    int // pixels whose color was not in the table
	Truncated  int // pixels skipped after a sentinel
}
