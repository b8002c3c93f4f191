package token

import (
	"bytes"
	"fmt"
	"image/png"
	"io"

	"github.com/bodgit/pixcrypt/alphabet"
	"github.com/bodgit/pixcrypt/codec"
	"github.com/fxamacker/cbor/v2"
)

// Decode reads a token strip from r and rebuilds the color table for a.
//
// Position i is always paired with a.At(i) and the last pixel with space,
// whatever the strip width. If the strip carries a pxKy chunk it must match
// a exactly and describe this strip, otherwise ErrAmbiguous is returned.
func Decode(r io.Reader, a *alphabet.Alphabet) (*codec.Table, Info, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxSize))
	if err != nil {
		return nil, Info{}, err
	}

	data, err := findChunk(b, chunkType)
	if err != nil {
		return nil, Info{}, err
	}

	m, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, Info{}, fmt.Errorf("token: %w", err)
	}

	bounds := m.Bounds()
	if bounds.Dy() != 1 {
		return nil, Info{}, errNotStrip
	}
	if bounds.Dx() < 2 {
		return nil, Info{}, ErrShort
	}

	colors := make([]codec.Color, 0, bounds.Dx())
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		colors = append(colors, codec.Model(m.At(x, bounds.Min.Y)))
	}

	t := codec.FromColors(a, colors)
	info := Info{
		Width:      len(colors),
		Duplicates: t.Duplicates(),
	}

	if data == nil {
		return t, info, nil
	}

	var k key
	if err := cbor.Unmarshal(data, &k); err != nil {
		return nil, info, fmt.Errorf("%w: unreadable key chunk: %v", ErrAmbiguous, err)
	}
	info.Version = k.Version

	if err := verify(k, a, colors); err != nil {
		return nil, info, err
	}
	if info.Duplicates > 0 {
		return nil, info, fmt.Errorf("%w: %d repeated colors", ErrAmbiguous, info.Duplicates)
	}
	info.Verified = true

	return t, info, nil
}

func verify(k key, a *alphabet.Alphabet, colors []codec.Color) error {
	fp := a.Fingerprint()
	switch {
	case k.Version != a.Version():
		return fmt.Errorf("%w: token alphabet %q, have %q", ErrAmbiguous, k.Version, a.Version())
	case !bytes.Equal(k.Fingerprint, fp[:]):
		return fmt.Errorf("%w: alphabet %q order differs", ErrAmbiguous, k.Version)
	case k.Length != len(colors) || k.Length != a.Size():
		return fmt.Errorf("%w: strip is %d pixels, key says %d, alphabet needs %d", ErrAmbiguous, len(colors), k.Length, a.Size())
	case !bytes.Equal(k.Sum, stripSum(colors)):
		return fmt.Errorf("%w: strip colors altered", ErrAmbiguous)
	}
	return nil
}

// FromCSS builds a table from the color strings returned by the token
// delivery service, in the same order as a strip.
func FromCSS(colors []string, a *alphabet.Alphabet) (*codec.Table, error) {
	if len(colors) < 2 {
		return nil, ErrShort
	}

	parsed := make([]codec.Color, len(colors))
	for i, s := range colors {
		c, err := codec.ParseColor(s)
		if err != nil {
			return nil, fmt.Errorf("token: pixel %d: %w", i, err)
		}
		parsed[i] = c
	}

	return codec.FromColors(a, parsed), nil
}
