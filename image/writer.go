package image

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/bodgit/pixcrypt/alphabet"
	"github.com/bodgit/pixcrypt/codec"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Render converts text into a grid using t. The text is normalised first so
// CRLF line endings and decomposed accents are accepted.
func Render(text string, t *codec.Table) (Grid, error) {
	text = alphabet.Normalize(text)
	if text == "" {
		return nil, ErrEmpty
	}

	lines := strings.Split(text, "\n")
	g := make(Grid, len(lines))
	for y, line := range lines {
		runes := []rune(line)
		row := make([]codec.Color, 0, len(runes)+1)
		for x, r := range runes {
			c, ok := t.ColorFor(r)
			if !ok {
				return nil, &UnmappedError{Rune: r, Line: y + 1, Column: x + 1}
			}
			row = append(row, c)
		}
		// The final line has no terminator, otherwise decoding would add
		// a trailing line break
		if y < len(lines)-1 {
			row = append(row, Sentinel)
		}
		g[y] = row
	}

	return g, nil
}

// Image rasterises g. Pixels past the end of a row are transparent.
func (g Grid) Image() *image.NRGBA {
	m := image.NewNRGBA(g.Bounds())
	for y, row := range g {
		for x, c := range row {
			m.SetNRGBA(x, y, c.NRGBA())
		}
	}
	return m
}

// CSS returns g as rows of #rrggbb strings, the form used on the wire
func (g Grid) CSS() [][]string {
	rows := make([][]string, len(g))
	for y, row := range g {
		rows[y] = make([]string, len(row))
		for x, c := range row {
			rows[y][x] = c.Hex()
		}
	}
	return rows
}

// Encode writes g to w in the given format
func Encode(w io.Writer, g Grid, f Format) error {
	if g.Bounds().Empty() {
		return ErrEmpty
	}

	m := g.Image()

	switch f {
	case PNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, m)
	case BMP:
		if last := g[len(g)-1]; len(last) < m.Bounds().Dx() {
			return fmt.Errorf("%w: %s needs the last line to be the longest", ErrPadding, f)
		}
		return bmp.Encode(w, m)
	case TIFF:
		return tiff.Encode(w, m, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return ErrFormat
	}
}
