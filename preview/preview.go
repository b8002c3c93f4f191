/*
Package preview produces decorative images of encrypted text.

Nothing produced here can be decoded: Scramble replaces every color with a
random one and Thumbnail reduces the palette, so both are safe to show or
share in place of the main image.
*/
package preview

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"

	"github.com/bodgit/pixcrypt/codec"
	pximage "github.com/bodgit/pixcrypt/image"
	"github.com/ericpauley/go-quantize/quantize"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
)

const (
	// DefaultSize is the longest side of a thumbnail
	DefaultSize = 64
	// DefaultColors is the palette size of a thumbnail
	DefaultColors = 16
)

var errNoImage = errors.New("preview: empty image")

// Scramble returns a grid the same shape as g with every pixel, line breaks
// included, replaced by a random color. rnd may be nil.
func Scramble(g pximage.Grid, rnd *rand.Rand) pximage.Grid {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}

	out := make(pximage.Grid, len(g))
	for y, row := range g {
		out[y] = make([]codec.Color, len(row))
		for x := range row {
			cr, cg, cb := colorful.FastHappyColorWithRand(rnd).RGB255()
			c := codec.RGB(cr, cg, cb)
			if c == pximage.Sentinel {
				c++
			}
			out[y][x] = c
		}
	}
	return out
}

// Options controls Thumbnail
type Options struct {
	// Size is the longest side in pixels
	Size int
	// Colors is the maximum palette size
	Colors int
}

func (o *Options) defaults() {
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.Colors <= 0 || o.Colors > 256 {
		o.Colors = DefaultColors
	}
}

func fit(b image.Rectangle, size int) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if w <= size && h <= size {
		return image.Rect(0, 0, w, h)
	}
	if w >= h {
		h = max(1, h*size/w)
		w = size
	} else {
		w = max(1, w*size/h)
		h = size
	}
	return image.Rect(0, 0, w, h)
}

// Thumbnail scales m to fit opts.Size and reduces it to a small palette
func Thumbnail(m image.Image, opts Options) (*image.Paletted, error) {
	opts.defaults()

	b := m.Bounds()
	if b.Empty() {
		return nil, errNoImage
	}

	r := fit(b, opts.Size)
	scaled := image.NewNRGBA(r)
	draw.NearestNeighbor.Scale(scaled, r, m, b, draw.Src, nil)

	q := quantize.MedianCutQuantizer{}
	pm := image.NewPaletted(r, q.Quantize(make(color.Palette, 0, opts.Colors), scaled))
	draw.Draw(pm, r, scaled, r.Min, draw.Src)

	return pm, nil
}

// EncodeThumbnail writes a thumbnail of m to w as PNG
func EncodeThumbnail(w io.Writer, m image.Image, opts Options) error {
	pm, err := Thumbnail(m, opts)
	if err != nil {
		return err
	}
	return png.Encode(w, pm)
}
