package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/bimalab/fireregime/utils"
)

// ByteNoData marks transparent pixels in stretched bands.
const ByteNoData = 0xFF

// StretchParams maps [Min, Max] linearly onto [0, 254].
type StretchParams struct {
	Min float64
	Max float64
}

// NBRStretch and RGBStretch are the display ranges of the severity
// quicklooks.
var (
	NBRStretch = StretchParams{Min: 0.2, Max: 0.8}
	RGBStretch = StretchParams{Min: 0.019, Max: 0.19}
)

// StretchBand converts a band to bytes, clamping to the stretch range.
// Invalid pixels become ByteNoData.
func StretchBand(b *MaskedBand, params StretchParams) ([]uint8, error) {
	if params.Max <= params.Min {
		return nil, fmt.Errorf("invalid stretch [%v, %v]", params.Min, params.Max)
	}
	out := make([]uint8, len(b.Data))
	span := params.Max - params.Min
	for i, v := range b.Data {
		if !b.Valid[i] {
			out[i] = ByteNoData
			continue
		}
		if v < params.Min {
			v = params.Min
		}
		if v > params.Max {
			v = params.Max
		}
		out[i] = uint8((v - params.Min) * 254.0 / span)
	}
	return out, nil
}

// EncodeClassPNG renders a class map with one colour per class. No-data is
// transparent.
func EncodeClassPNG(cm *ClassMap, palette *utils.Palette) ([]byte, error) {
	colours, err := ClassRGBAPalette(palette, cm.MinClass, cm.MaxClass)
	if err != nil {
		return nil, err
	}
	canvas := image.NewRGBA(image.Rect(0, 0, cm.Grid.Width, cm.Grid.Height))
	for y := 0; y < cm.Grid.Height; y++ {
		for x := 0; x < cm.Grid.Width; x++ {
			i := y*cm.Grid.Width + x
			if cm.Valid[i] {
				canvas.Set(x, y, colours[cm.Classes[i]])
			}
		}
	}

	buf := new(bytes.Buffer)
	err = png.Encode(buf, canvas)
	return buf.Bytes(), err
}

// EncodePNG renders one band through a gradient palette or three bands as
// RGB.
func EncodePNG(r *Raster, palette *utils.Palette, params StretchParams, bands ...string) ([]byte, error) {
	grid := r.Grid
	canvas := image.NewRGBA(image.Rect(0, 0, grid.Width, grid.Height))

	stretched := make([][]uint8, len(bands))
	for ib, ns := range bands {
		b, err := r.Band(ns)
		if err != nil {
			return nil, err
		}
		stretched[ib], err = StretchBand(b, params)
		if err != nil {
			return nil, err
		}
	}

	switch len(bands) {
	case 1:
		plt, err := GradientRGBAPalette(palette)
		if err != nil {
			return nil, err
		}
		if plt == nil {
			return nil, fmt.Errorf("single band PNG needs a palette")
		}
		data := stretched[0]
		for x := 0; x < grid.Width; x++ {
			for y := 0; y < grid.Height; y++ {
				if data[y*grid.Width+x] != ByteNoData {
					canvas.Set(x, y, plt[data[y*grid.Width+x]])
				}
			}
		}

	case 3:
		rasterR, rasterG, rasterB := stretched[0], stretched[1], stretched[2]
		var start int
		for i := 0; i < grid.Size(); i++ {
			if rasterR[i] != ByteNoData || rasterG[i] != ByteNoData || rasterB[i] != ByteNoData {
				start = i * 4
				canvas.Pix[start] = rasterR[i]
				canvas.Pix[start+1] = rasterG[i]
				canvas.Pix[start+2] = rasterB[i]
				canvas.Pix[start+3] = 0xff
			}
		}

	default:
		return nil, fmt.Errorf("Cannot encode other than 1 or 3 bands into a PNG: Received %d", len(bands))
	}

	buf := new(bytes.Buffer)
	err := png.Encode(buf, canvas)
	return buf.Bytes(), err
}

// legendSwatch is used by the sidecar to describe class colours.
type legendSwatch struct {
	Class uint8
	Label string
	Hex   string
}

func legendSwatches(cm *ClassMap, palette *utils.Palette) ([]legendSwatch, error) {
	colours, err := ClassRGBAPalette(palette, cm.MinClass, cm.MaxClass)
	if err != nil {
		return nil, err
	}
	var out []legendSwatch
	for c := int(cm.MinClass); c <= int(cm.MaxClass); c++ {
		out = append(out, legendSwatch{Class: uint8(c), Label: cm.Labels[uint8(c)], Hex: hexColour(colours[uint8(c)])})
	}
	return out, nil
}

func hexColour(c color.RGBA) string {
	return fmt.Sprintf("%02x%02x%02x", c.R, c.G, c.B)
}
