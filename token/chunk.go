package token

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/bodgit/pixcrypt/codec"
	"github.com/zeebo/blake3"
)

var signature = []byte("\x89PNG\r\n\x1a\n")

// Signature plus the fixed size IHDR chunk
const ihdrEnd = 8 + 4 + 4 + 13 + 4

func writeChunk(w io.Writer, typ string, data []byte) error {
	var tmp [4]byte

	binary.BigEndian.PutUint32(tmp[:], uint32(len(data)))
	if _, err := w.Write(tmp[:]); err != nil {
		return err
	}

	h := crc32.NewIEEE()
	mw := io.MultiWriter(w, h)
	if _, err := io.WriteString(mw, typ); err != nil {
		return err
	}
	if _, err := mw.Write(data); err != nil {
		return err
	}

	binary.BigEndian.PutUint32(tmp[:], h.Sum32())
	_, err := w.Write(tmp[:])
	return err
}

// insertChunk returns a copy of the PNG b with the chunk placed straight
// after IHDR
func insertChunk(b []byte, typ string, data []byte) ([]byte, error) {
	if len(b) < ihdrEnd || !bytes.Equal(b[:len(signature)], signature) {
		return nil, errSignature
	}

	out := bytes.NewBuffer(make([]byte, 0, len(b)+len(data)+12))
	out.Write(b[:ihdrEnd])
	if err := writeChunk(out, typ, data); err != nil {
		return nil, err
	}
	out.Write(b[ihdrEnd:])

	return out.Bytes(), nil
}

// findChunk returns the data of the first chunk of the given type, or nil if
// there is none before IEND
func findChunk(b []byte, typ string) ([]byte, error) {
	if len(b) < len(signature) || !bytes.Equal(b[:len(signature)], signature) {
		return nil, errSignature
	}

	for off := len(signature); ; {
		if len(b)-off < 12 {
			return nil, errTruncated
		}
		length := int(binary.BigEndian.Uint32(b[off:]))
		if length < 0 || length > len(b)-off-12 {
			return nil, errTruncated
		}

		name := string(b[off+4 : off+8])
		end := off + 8 + length
		if name == typ {
			if crc32.ChecksumIEEE(b[off+4:end]) != binary.BigEndian.Uint32(b[end:]) {
				return nil, fmt.Errorf("%w: %v", ErrAmbiguous, errChecksum)
			}
			return b[off+8 : end], nil
		}
		if name == "IEND" {
			return nil, nil
		}
		off = end + 4
	}
}

func stripSum(colors []codec.Color) []byte {
	b := make([]byte, 0, len(colors)*3)
	for _, c := range colors {
		b = append(b, byte(c>>16), byte(c>>8), byte(c))
	}
	sum := blake3.Sum256(b)
	return sum[:]
}
