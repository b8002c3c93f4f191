package image

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"math/rand"
	"strings"
	"testing"

	"github.com/bodgit/pixcrypt/alphabet"
	"github.com/bodgit/pixcrypt/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomText(rng *rand.Rand, n int) string {
	a := alphabet.Reference
	runes := make([]rune, n)
	for i := range runes {
		switch v := rng.Intn(a.Size() + 4); {
		case v >= a.Size():
			runes[i] = '\n'
		default:
			runes[i] = a.At(v)
		}
	}
	return string(runes)
}

func TestRoundTrip(t *testing.T) {
	tab := codec.NewTable(alphabet.Reference, 0)

	g, err := Render("hi.\nbye", tab)
	require.NoError(t, err)
	require.Len(t, g, 2)
	assert.Len(t, g[0], 4)
	assert.Equal(t, Sentinel, g[0][3])
	assert.Len(t, g[1], 3)

	text, st := g.Text(tab)
	assert.Equal(t, "hi.\nbye", text)
	assert.Equal(t, Stats{Pixels: 7, Symbols: 6, LineBreaks: 1}, st)
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		tab := codec.NewTable(alphabet.Reference, rng.Uint32())
		in := randomText(rng, 1+rng.Intn(300))

		g, err := Render(in, tab)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, g, PNG))

		back, err := Decode(&buf)
		require.NoError(t, err)

		out, st := back.Text(tab)
		require.Equal(t, in, out)
		assert.Zero(t, st.Dropped)
	}
}

func TestFormats(t *testing.T) {
	tab := codec.NewTable(alphabet.Reference, 7)

	for _, f := range []Format{PNG, BMP, TIFF} {
		t.Run(f.String(), func(t *testing.T) {
			for _, in := range []string{"a\nbc\ndef", "hello\nab", "short\nlonger line\nmid"} {
				g, err := Render(in, tab)
				require.NoError(t, err)

				var buf bytes.Buffer
				err = Encode(&buf, g, f)
				if f == BMP && len(g[len(g)-1]) < g.Bounds().Dx() {
					// No alpha, so padding after the last line would decode
					// as a line break
					assert.ErrorIs(t, err, ErrPadding, in)
					continue
				}
				require.NoError(t, err, in)

				back, err := Decode(&buf)
				require.NoError(t, err)

				out, st := back.Text(tab)
				assert.Equal(t, in, out)
				assert.Equal(t, strings.Count(in, "\n"), st.LineBreaks)
			}
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("x/doc_encrypted.PNG")
	require.NoError(t, err)
	assert.Equal(t, PNG, f)

	f, err = FormatFromPath("doc.tiff")
	require.NoError(t, err)
	assert.Equal(t, TIFF, f)
	assert.Equal(t, ".tif", f.Extension())

	_, err = FormatFromPath("doc.jpg")
	assert.True(t, errors.Is(err, ErrFormat))
}

func TestDecodeRejectsJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))

	_, err := Decode(&buf)
	assert.Equal(t, ErrLossy, err)
}

func TestLenientDecode(t *testing.T) {
	tab := codec.NewTable(alphabet.Reference, 0)
	g, err := Render("abc", tab)
	require.NoError(t, err)

	// Replace 'b' with a color that is not in the table
	g[0][1] = codec.RGB(1, 1, 1)
	_, ok := tab.SymbolFor(g[0][1])
	require.False(t, ok)

	text, st := g.Text(tab)
	assert.Equal(t, "ac", text)
	assert.Equal(t, 1, st.Dropped)
	assert.Equal(t, 2, st.Symbols)
}

func TestSentinelTruncation(t *testing.T) {
	tab := codec.NewTable(alphabet.Reference, 0)
	a, _ := tab.ColorFor('a')
	b, _ := tab.ColorFor('b')

	g := Grid{
		{a, Sentinel, b, b, codec.RGB(9, 9, 9)},
		{b, a},
	}

	text, st := g.Text(tab)
	assert.Equal(t, "a\nba", text)
	assert.Equal(t, 3, st.Truncated)
	assert.Equal(t, 1, st.LineBreaks)
	assert.Zero(t, st.Dropped)
}

func TestTransparentPadding(t *testing.T) {
	tab := codec.NewTable(alphabet.Reference, 0)
	g, err := Render("abcd\nx", tab)
	require.NoError(t, err)

	m := g.Image()
	assert.Equal(t, image.Rect(0, 0, 5, 2), m.Bounds())
	assert.Zero(t, m.NRGBAAt(1, 1).A)

	back := FromImage(m)
	assert.Equal(t, g, back)
}

func TestRenderErrors(t *testing.T) {
	tab := codec.NewTable(alphabet.Reference, 0)

	_, err := Render("", tab)
	assert.Equal(t, ErrEmpty, err)

	_, err = Render("ok\nnot OK", tab)
	var ue *UnmappedError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, UnmappedError{Rune: 'O', Line: 2, Column: 5}, *ue)

	assert.Equal(t, ErrEmpty, Encode(new(bytes.Buffer), Grid{}, PNG))
}

func TestRenderNormalises(t *testing.T) {
	tab := codec.NewTable(alphabet.Reference, 0)
	g, err := Render("a\r\nö", tab)
	require.NoError(t, err)

	text, _ := g.Text(tab)
	assert.Equal(t, "a\nö", text)
}

func TestCSS(t *testing.T) {
	tab := codec.NewTable(alphabet.Reference, 99)
	g, err := Render("hello\nworld!", tab)
	require.NoError(t, err)

	b := g.Bounds()
	back, err := FromCSS(b.Dx(), b.Dy(), g.CSS())
	require.NoError(t, err)
	assert.Equal(t, g, back)

	back, err = FromCSS(2, 1, [][]string{{"rgb(0, 0, 0)", "transparent"}})
	require.NoError(t, err)
	assert.Equal(t, Grid{{Sentinel}}, back)

	_, err = FromCSS(1, 1, [][]string{{"#000", "#000"}})
	assert.Error(t, err)
	_, err = FromCSS(1, 1, [][]string{{"#000"}, {"#000"}})
	assert.Error(t, err)
	_, err = FromCSS(1, 1, [][]string{{"nope"}})
	assert.Error(t, err)
}
