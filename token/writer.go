package token

import (
	"bytes"
	"image"
	"image/png"
	"io"

	"github.com/bodgit/pixcrypt/codec"
)

// Image returns the strip for t without any metadata
func Image(t *codec.Table) *image.NRGBA {
	colors := t.Colors()
	m := image.NewNRGBA(image.Rect(0, 0, len(colors), 1))
	for x, c := range colors {
		m.SetNRGBA(x, 0, c.NRGBA())
	}
	return m
}

// Encode writes t to w as a PNG strip with a pxKy chunk describing the
// alphabet it was built for.
func Encode(w io.Writer, t *codec.Table) error {
	if t.Len() < 2 {
		return ErrShort
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, Image(t)); err != nil {
		return err
	}

	a := t.Alphabet()
	fp := a.Fingerprint()
	data, err := encMode.Marshal(key{
		Version:     a.Version(),
		Fingerprint: fp[:],
		Length:      t.Len(),
		Sum:         stripSum(t.Colors()),
	})
	if err != nil {
		return err
	}

	b, err := insertChunk(buf.Bytes(), chunkType, data)
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}
