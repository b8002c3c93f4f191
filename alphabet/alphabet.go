/*
Package alphabet defines the ordered symbol set shared by the main image and
the token image.

The order of the symbols is significant: position i of a token strip holds
the color of the i-th symbol, so both sides of an exchange must agree on the
exact same list. An Alphabet therefore carries a version and a fingerprint
that can be embedded in a token and checked when it is read back.

Two symbols are reserved and never appear in the list. Space always occupies
the slot after the last symbol and line break is never encoded as a color at
all; it is represented by the black sentinel pixel.
*/
package alphabet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
)

const (
	// Space is the reserved symbol stored in the final token slot
	Space = ' '
	// LineBreak is the reserved symbol represented by the sentinel pixel
	LineBreak = '\n'
)

var (
	errEmpty    = errors.New("alphabet: no symbols")
	errReserved = errors.New("alphabet: reserved symbol in list")
)

// Reference is the symbol order used by every token issued so far.
var Reference = MustNew("v1", []rune{
	'.', ',', ';', ':', '!', '?', '\'', '"', '+', '-', '*', '/', '=', '<', '>',
	'(', ')', '[', ']', '{', '}', '@', '#', '$', '%', '^', '&', '_', '~', '`', '|', '\\',
	'9', '8', '7', '6', '5', '4', '3', '2', '1', '0',
	'z', 'y', 'x', 'w', 'v', 'u', 't', 's', 'r', 'q', 'p', 'o', 'n', 'm', 'l', 'k', 'j', 'i', 'h', 'g', 'f', 'e', 'd', 'c', 'b', 'a',
	'ö', 'ä', 'å',
})

// Alphabet is an immutable, versioned, ordered list of distinct symbols
type Alphabet struct {
	version string
	symbols []rune
	index   map[rune]int
	sum     [32]byte
}

// New returns an Alphabet with the given version and symbol order. The list
// must be non-empty, free of duplicates and must not contain Space or
// LineBreak.
func New(version string, symbols []rune) (*Alphabet, error) {
	if len(symbols) == 0 {
		return nil, errEmpty
	}

	a := &Alphabet{
		version: version,
		symbols: append([]rune(nil), symbols...),
		index:   make(map[rune]int, len(symbols)+1),
	}

	for i, r := range a.symbols {
		if r == Space || r == LineBreak {
			return nil, errReserved
		}
		if j, ok := a.index[r]; ok {
			return nil, fmt.Errorf("alphabet: %q repeated at %d and %d", r, j, i)
		}
		a.index[r] = i
	}
	a.index[Space] = len(a.symbols)

	b := append([]byte(version), 0)
	a.sum = blake3.Sum256(append(b, string(a.symbols)...))

	return a, nil
}

// MustNew is like New but panics on error
func MustNew(version string, symbols []rune) *Alphabet {
	a, err := New(version, symbols)
	if err != nil {
		panic(err)
	}
	return a
}

// Version returns the version label
func (a *Alphabet) Version() string {
	return a.version
}

// Len returns the number of symbols, excluding Space
func (a *Alphabet) Len() int {
	return len(a.symbols)
}

// Size returns the number of slots in a color table, which is Len plus one
// for Space.
func (a *Alphabet) Size() int {
	return len(a.symbols) + 1
}

// At returns the symbol at slot i. The final slot is Space.
func (a *Alphabet) At(i int) rune {
	if i == len(a.symbols) {
		return Space
	}
	return a.symbols[i]
}

// Index returns the slot of r, or false if r has no slot. LineBreak never
// has a slot.
func (a *Alphabet) Index(r rune) (int, bool) {
	i, ok := a.index[r]
	return i, ok
}

// Contains reports whether every rune of s either has a slot or is a line
// break.
func (a *Alphabet) Contains(s string) bool {
	for _, r := range s {
		if _, ok := a.index[r]; !ok && r != LineBreak {
			return false
		}
	}
	return true
}

// Fingerprint returns the BLAKE3 digest of the version and symbol order
func (a *Alphabet) Fingerprint() [32]byte {
	return a.sum
}

// Equal reports whether both alphabets share version and order
func (a *Alphabet) Equal(b *Alphabet) bool {
	return a.sum == b.sum
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Normalize converts s to NFC and folds CRLF and CR line endings to LF so
// that precomposed accented letters such as 'ö' match their slot.
func Normalize(s string) string {
	return newlines.Replace(norm.NFC.String(s))
}
