/*
Package codec implements the mapping between alphabet slots and colors.

Colors are not random. Slot i under key k is assigned

	((i+1) * multiplier + k) mod (2^24 - 1) + 1

which is injective over every possible slot and can never produce black, the
value reserved for the line break sentinel. A key of zero gives the reference
colors; the encryption service chooses a different key for every session.

A Table holds the colors for one alphabet in slot order together with the
reverse lookup used when decoding.
*/
package codec

import (
	"github.com/bodgit/pixcrypt/alphabet"
)

const (
	modulus    = 1<<24 - 1
	multiplier = 0x9e3779 // coprime with the modulus
)

// Derive returns the color for slot i under key
func Derive(i int, key uint32) Color {
	v := (uint64(i+1)*multiplier + uint64(key)) % modulus
	return Color(v + 1)
}

// Table maps between the slots of an alphabet and their colors
type Table struct {
	alphabet   *alphabet.Alphabet
	colors     []Color
	symbols    map[Color]rune
	duplicates int
}

// NewTable derives the full color table for a under key
func NewTable(a *alphabet.Alphabet, key uint32) *Table {
	colors := make([]Color, a.Size())
	for i := range colors {
		colors[i] = Derive(i, key)
	}
	return FromColors(a, colors)
}

// FromColors builds a table from colors given in slot order. If there are
// fewer colors than slots the trailing slots are left unmapped, except Space
// which always takes the last color given. Extra colors before the last are
// ignored. When two slots share a color the later slot wins the reverse
// lookup.
func FromColors(a *alphabet.Alphabet, colors []Color) *Table {
	t := &Table{
		alphabet: a,
		colors:   make([]Color, 0, a.Size()),
		symbols:  make(map[Color]rune, a.Size()),
	}
	if len(colors) == 0 {
		return t
	}

	n := len(colors) - 1
	if n > a.Len() {
		n = a.Len()
	}
	for i := 0; i < n; i++ {
		t.add(colors[i], a.At(i))
	}
	t.add(colors[len(colors)-1], alphabet.Space)

	return t
}

func (t *Table) add(c Color, r rune) {
	if _, ok := t.symbols[c]; ok {
		t.duplicates++
	}
	t.symbols[c] = r
	t.colors = append(t.colors, c)
}

// Alphabet returns the alphabet the table was built for
func (t *Table) Alphabet() *alphabet.Alphabet {
	return t.alphabet
}

// Len returns the number of colors held, which is the token strip length
func (t *Table) Len() int {
	return len(t.colors)
}

// Colors returns a copy of the colors in slot order, Space last
func (t *Table) Colors() []Color {
	return append([]Color(nil), t.colors...)
}

// Duplicates returns how many colors were assigned to more than one slot
func (t *Table) Duplicates() int {
	return t.duplicates
}

// ColorFor returns the color assigned to r
func (t *Table) ColorFor(r rune) (Color, bool) {
	i, ok := t.alphabet.Index(r)
	if !ok {
		return 0, false
	}
	if r == alphabet.Space {
		if len(t.colors) == 0 {
			return 0, false
		}
		return t.colors[len(t.colors)-1], true
	}
	if i >= len(t.colors)-1 {
		return 0, false
	}
	return t.colors[i], true
}

// SymbolFor returns the symbol for c, or false if c is not in the table.
// Black is never reported as a symbol.
func (t *Table) SymbolFor(c Color) (rune, bool) {
	if c == Black {
		return 0, false
	}
	r, ok := t.symbols[c]
	return r, ok
}

// Equal reports whether both tables map the same alphabet to the same
// colors in the same order
func (t *Table) Equal(o *Table) bool {
	if !t.alphabet.Equal(o.alphabet) || len(t.colors) != len(o.colors) {
		return false
	}
	for i := range t.colors {
		if t.colors[i] != o.colors[i] {
			return false
		}
	}
	return true
}
