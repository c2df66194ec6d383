package utils

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Palette lists colours as hex strings ("ff641b" or "#ff641b"). Interpolate
// blends between consecutive colours when building a gradient.
type Palette struct {
	Interpolate bool     `json:"interpolate" yaml:"interpolate"`
	Colours     []string `json:"colours" yaml:"colours"`
}

// ParseHexColour accepts RRGGBB or RRGGBBAA with an optional leading '#'.
func ParseHexColour(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 && len(h) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %v", s, err)
	}
	if len(h) == 6 {
		return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}, nil
	}
	return color.RGBA{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

func (p *Palette) RGBA() ([]color.RGBA, error) {
	out := make([]color.RGBA, len(p.Colours))
	for i, c := range p.Colours {
		rgba, err := ParseHexColour(c)
		if err != nil {
			return nil, err
		}
		out[i] = rgba
	}
	return out, nil
}

// Class palettes, one colour per class starting at class 1.
func SeverityPalette() *Palette {
	return &Palette{Colours: []string{"ffffff", "0ae042", "fff70b", "ffaf38", "ff641b", "a41fd6"}}
}

func FrequencyPalette() *Palette {
	return &Palette{Colours: []string{"ffffff", "0ef100", "f6ff7e", "f7b857", "ff0000", "c40000"}}
}

// NBRPalette renders continuous NBR between 0.2 and 0.8.
func NBRPalette() *Palette {
	return &Palette{Interpolate: true, Colours: []string{"#ffffb2", "#fecc5c", "#fd8d3c", "#f03b20", "#bd0026"}}
}
