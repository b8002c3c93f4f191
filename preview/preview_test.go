package preview

import (
	"bytes"
	"image"
	"image/png"
	"math/rand"
	"testing"

	"github.com/bodgit/pixcrypt/alphabet"
	"github.com/bodgit/pixcrypt/codec"
	pximage "github.com/bodgit/pixcrypt/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScramble(t *testing.T) {
	table := codec.NewTable(alphabet.Reference, 3)
	g, err := pximage.Render("the quick brown fox\njumps\nover the lazy dog", table)
	require.NoError(t, err)

	s := Scramble(g, rand.New(rand.NewSource(1)))
	require.Len(t, s, len(g))
	for y := range g {
		assert.Len(t, s[y], len(g[y]))
		for _, c := range s[y] {
			assert.NotEqual(t, pximage.Sentinel, c)
		}
	}
	assert.NotEqual(t, g, s)

	// The line structure is gone
	text, _ := s.Text(table)
	assert.NotContains(t, text, "\n")

	again := Scramble(g, rand.New(rand.NewSource(1)))
	assert.Equal(t, s, again)

	assert.Len(t, Scramble(g, nil), len(g))
}

func TestFit(t *testing.T) {
	tests := []struct {
		in   image.Rectangle
		size int
		want image.Rectangle
	}{
		{image.Rect(0, 0, 10, 5), 64, image.Rect(0, 0, 10, 5)},
		{image.Rect(0, 0, 128, 32), 64, image.Rect(0, 0, 64, 16)},
		{image.Rect(0, 0, 32, 128), 64, image.Rect(0, 0, 16, 64)},
		{image.Rect(0, 0, 1000, 1), 10, image.Rect(0, 0, 10, 1)},
		{image.Rect(5, 5, 15, 10), 64, image.Rect(0, 0, 10, 5)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fit(tt.in, tt.size), tt.in.String())
	}
}

func TestThumbnail(t *testing.T) {
	table := codec.NewTable(alphabet.Reference, 0)
	var text string
	for i := 0; i < 40; i++ {
		text += "abcdefghijklmnopqrstuvwxyz0123456789.,;:!?()[]{}\n"
	}
	g, err := pximage.Render(text+"end", table)
	require.NoError(t, err)

	pm, err := Thumbnail(g.Image(), Options{Size: 32, Colors: 8})
	require.NoError(t, err)
	assert.Equal(t, 32, pm.Bounds().Dx())
	assert.LessOrEqual(t, len(pm.Palette), 8)

	b := new(bytes.Buffer)
	require.NoError(t, EncodeThumbnail(b, g.Image(), Options{}))

	m, err := png.Decode(b)
	require.NoError(t, err)
	assert.LessOrEqual(t, m.Bounds().Dx(), DefaultSize)
	assert.LessOrEqual(t, m.Bounds().Dy(), DefaultSize)

	_, err = Thumbnail(image.NewNRGBA(image.Rectangle{}), Options{})
	assert.Error(t, err)
}
