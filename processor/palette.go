package processor

import (
	"fmt"
	"image/color"

	"github.com/bimalab/fireregime/utils"
)

// InterpolateUint8 interpolates the value of a
// byte between two numbers 'a' and 'b' by
// especifying a length and a position 'i'
// along that length.
func InterpolateUint8(a, b uint8, i, sectionLength int) uint8 {
	return uint8(int(a) + i*(int(b)-int(a))/sectionLength)
}

// InterpolateColor returns an RGBA color where
// the R, G, B, and A components have been
// interpolated from the 'a' and 'b' colors
func InterpolateColor(a, b color.RGBA, i, sectionLength int) color.RGBA {
	return color.RGBA{InterpolateUint8(a.R, b.R, i, sectionLength),
		InterpolateUint8(a.G, b.G, i, sectionLength),
		InterpolateUint8(a.B, b.B, i, sectionLength),
		255}
}

// GradientRGBAPalette returns a palette of 256 colors
// creating an interpolation that goes though
// a list of provided colours.
func GradientRGBAPalette(palette *utils.Palette) ([]color.RGBA, error) {
	if palette == nil {
		return nil, nil
	}
	colours, err := palette.RGBA()
	if err != nil {
		return nil, err
	}
	if len(colours) < 2 {
		return nil, fmt.Errorf("palette needs at least 2 colours, got %d", len(colours))
	}

	ramp := make([]color.RGBA, 256)

	if palette.Interpolate {
		bins := len(colours) - 1
		sectionLength := 256 / bins
		bonus := 256 - (sectionLength * bins)
		bonusArr := make([]int, bins)
		for i := 0; i < bonus; i++ {
			bonusArr[i] = 1
		}

		index := 0
		for section, upperColour := range colours[1:] {
			for i := 0; i < sectionLength+bonusArr[section]; i++ {
				ramp[index] = InterpolateColor(colours[section], upperColour, i, sectionLength)
				index++
			}
		}
	} else {
		bins := len(colours)
		sectionLength := 256 / bins
		bonus := 256 - (sectionLength * bins)
		bonusArr := make([]int, bins)
		for i := 0; i < bonus; i++ {
			bonusArr[i] = 1
		}

		index := 0
		for section, colour := range colours {
			for i := 0; i < sectionLength+bonusArr[section]; i++ {
				ramp[index] = colour
				index++
			}
		}
	}

	return ramp, nil
}

// ClassRGBAPalette assigns the i-th colour to class minClass+i.
func ClassRGBAPalette(palette *utils.Palette, minClass, maxClass uint8) (map[uint8]color.RGBA, error) {
	colours, err := palette.RGBA()
	if err != nil {
		return nil, err
	}
	if n := int(maxClass) - int(minClass) + 1; len(colours) < n {
		return nil, fmt.Errorf("palette has %d colours for %d classes", len(colours), n)
	}
	out := make(map[uint8]color.RGBA, len(colours))
	for c := int(minClass); c <= int(maxClass); c++ {
		out[uint8(c)] = colours[c-int(minClass)]
	}
	return out, nil
}
