package codec

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is a 24-bit RGB value packed as 0x00RRGGBB
type Color uint32

// Black is the line break sentinel. Derive never returns it.
const Black Color = 0x000000

var errBadColor = errors.New("codec: unrecognised color")

// RGB returns a Color from its components
func RGB(r, g, b uint8) Color {
	return Color(r)<<16 | Color(g)<<8 | Color(b)
}

// Model converts any color.Color to a Color, discarding alpha
func Model(c color.Color) Color {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return RGB(n.R, n.G, n.B)
}

// RGBA implements color.Color as a fully opaque color
func (c Color) RGBA() (r, g, b, a uint32) {
	return color.NRGBA{R: uint8(c >> 16), G: uint8(c >> 8), B: uint8(c), A: 0xff}.RGBA()
}

// NRGBA returns c as an opaque color.NRGBA
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: uint8(c >> 16), G: uint8(c >> 8), B: uint8(c), A: 0xff}
}

// Hex returns c in #rrggbb form
func (c Color) Hex() string {
	return fmt.Sprintf("#%06x", uint32(c)&0xffffff)
}

func (c Color) String() string {
	return c.Hex()
}

// ParseColor parses a CSS-style color string as produced by the encryption
// service: "#rrggbb", "#rgb" or "rgb(r, g, b)".
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "#"):
		c, err := colorful.Hex(strings.ToLower(s))
		if err != nil {
			return 0, fmt.Errorf("%w %q", errBadColor, s)
		}
		return RGB(c.RGB255()), nil
	case strings.HasPrefix(s, "rgb("):
		var r, g, b int
		if _, err := fmt.Sscanf(strings.ReplaceAll(s, " ", ""), "rgb(%d,%d,%d)", &r, &g, &b); err != nil {
			return 0, fmt.Errorf("%w %q", errBadColor, s)
		}
		for _, v := range []int{r, g, b} {
			if v < 0 || v > 0xff {
				return 0, fmt.Errorf("%w %q", errBadColor, s)
			}
		}
		return RGB(uint8(r), uint8(g), uint8(b)), nil
	default:
		return 0, fmt.Errorf("%w %q", errBadColor, s)
	}
}
