/*
Package token implements the token image encoder and decoder.

A token is a PNG exactly one pixel high. Pixel i holds the color of slot i of
the alphabet and the final pixel holds the color of space, so the strip is
alphabet length plus one pixels wide. The strip is the only way to recover
the color table used for a main image.

Reading a strip back relies on both sides using the same alphabet order. To
make a mismatch detectable, Encode also writes a private ancillary chunk,
pxKy, containing a CBOR map with the alphabet version, the alphabet
fingerprint, the strip length and a BLAKE3 sum of the strip colors. Decode
checks it when present and returns ErrAmbiguous on any disagreement. Tokens
without the chunk decode exactly as before and are reported as unverified.
*/
package token

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

const (
	chunkType = "pxKy"
	maxSize   = 1 << 20
)

var (
	// ErrAmbiguous is returned when a token cannot be trusted to decode
	// correctly with the given alphabet
	ErrAmbiguous = errors.New("token: ambiguous decode")
	// ErrShort is returned for a strip with fewer than two pixels
	ErrShort = errors.New("token: strip too short")

	errNotStrip  = errors.New("token: image is not one pixel high")
	errSignature = errors.New("token: not a PNG file")
	errChecksum  = errors.New("token: chunk checksum mismatch")
	errTruncated = errors.New("token: truncated chunk")
)

// Info describes a decoded token
type Info struct {
	Width      int
	Verified   bool   // the pxKy chunk was present and matched
	Version    string // alphabet version recorded in the chunk, if any
	Duplicates int    // colors assigned to more than one slot
}

// key is the pxKy chunk payload
type key struct {
	Version     string `cbor:"1,keyasint"`
	Fingerprint []byte `cbor:"2,keyasint"`
	Length      int    `cbor:"3,keyasint"`
	Sum         []byte `cbor:"4,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("token: CBOR encoder initialization failed: " + err.Error())
	}
}
