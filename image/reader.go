package image

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // lossless, palette limited
	_ "image/jpeg" // registered only so it can be refused by name
	_ "image/png"
	"io"
	"strings"

	"github.com/bodgit/pixcrypt/codec"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Decode reads a main image from r and returns its grid
func Decode(r io.Reader) (Grid, error) {
	m, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	if format == "jpeg" {
		return nil, ErrLossy
	}
	return FromImage(m), nil
}

// FromImage converts m into a grid. Fully transparent pixels are padding and
// are left out; alpha is otherwise ignored.
func FromImage(m image.Image) Grid {
	b := m.Bounds()
	g := make(Grid, 0, b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := make([]codec.Color, 0, b.Dx())
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(m.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			row = append(row, codec.RGB(c.R, c.G, c.B))
		}
		g = append(g, row)
	}
	return g
}

// FromCSS builds a grid from the encryption service's pixel rows. Empty
// strings and "transparent" are padding.
func FromCSS(width, height int, rows [][]string) (Grid, error) {
	if len(rows) > height {
		return nil, errTooTall
	}

	g := make(Grid, len(rows))
	for y, in := range rows {
		if len(in) > width {
			return nil, fmt.Errorf("%w: row %d", errTooWide, y)
		}
		row := make([]codec.Color, 0, len(in))
		for x, s := range in {
			if s == "" || strings.EqualFold(s, "transparent") {
				continue
			}
			c, err := codec.ParseColor(s)
			if err != nil {
				return nil, fmt.Errorf("image: pixel (%d, %d): %w", x, y, err)
			}
			row = append(row, c)
		}
		g[y] = row
	}

	return g, nil
}

// Text decodes g using t. It never fails; see Stats for what was lost.
func (g Grid) Text(t *codec.Table) (string, Stats) {
	var (
		sb strings.Builder
		st Stats
	)

	for _, row := range g {
		for x, c := range row {
			st.Pixels++
			if c == Sentinel {
				sb.WriteByte('\n')
				st.LineBreaks++
				st.Truncated += len(row) - x - 1
				break
			}
			if r, ok := t.SymbolFor(c); ok {
				sb.WriteRune(r)
				st.Symbols++
			} else {
				st.Dropped++
			}
		}
	}

	return sb.String(), st
}
