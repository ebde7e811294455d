// Package background holds the background treatment drawn behind a cutout.
package background

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/chaos-io/bgremover/resolve"
)

type Mode int

const (
	Transparent Mode = iota
	SolidColor
	Image
	Blur
)

func (m Mode) String() string {
	switch m {
	case Transparent:
		return "transparent"
	case SolidColor:
		return "color"
	case Image:
		return "image"
	case Blur:
		return "blur"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Treatment 背景处理方式，同一时刻只有一种生效。零值为 Transparent。
type Treatment struct {
	mode  Mode
	color color.NRGBA
	image *resolve.Reference
	blur  float64
}

func NewColor(c color.Color) Treatment {
	nc := color.NRGBAModel.Convert(c).(color.NRGBA)
	if nc.A == 0 {
		return Treatment{}
	}
	return Treatment{mode: SolidColor, color: nc}
}

func NewImage(ref *resolve.Reference) Treatment {
	return Treatment{mode: Image, image: ref}
}

func NewBlur(amount float64) Treatment {
	return Treatment{mode: Blur, blur: amount}
}

func (t Treatment) Mode() Mode                { return t.mode }
func (t Treatment) Color() color.NRGBA        { return t.color }
func (t Treatment) Image() *resolve.Reference { return t.image }
func (t Treatment) BlurAmount() float64       { return t.blur }

func (t Treatment) Equal(o Treatment) bool {
	return t.mode == o.mode && t.color == o.color && t.image.Same(o.image) && t.blur == o.blur
}

func (t Treatment) String() string {
	switch t.mode {
	case SolidColor:
		return "color(" + FormatColor(t.color) + ")"
	case Image:
		return "image(" + t.image.String() + ")"
	case Blur:
		return "blur(" + strconv.FormatFloat(t.blur, 'f', -1, 64) + ")"
	default:
		return t.mode.String()
	}
}

// ParseColor 解析 "#RGB"、"#RRGGBB"、"#RRGGBBAA" 或 "transparent"
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "transparent") {
		return color.NRGBA{}, nil
	}
	hex, ok := strings.CutPrefix(s, "#")
	if !ok {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func FormatColor(c color.NRGBA) string {
	if c.A == 0 {
		return "transparent"
	}
	if c.A == 0xff {
		return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02X%02X%02X%02X", c.R, c.G, c.B, c.A)
}
