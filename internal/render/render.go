// Package render turns lidar points into screen-space draw commands.
package render

import (
	"image/color"

	"github.com/shaunagostinho/lidardash/internal/ld19"
)

// DrawPoint is one pixel to plot, relative to the canvas centre.
type DrawPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R uint8   `json:"r"`
	G uint8   `json:"g"`
	B uint8   `json:"b"`
}

// Options controls the projection.
type Options struct {
	// Scale is millimetres per pixel. Zero means 10.
	Scale float64
	// ConfidenceFull is the confidence value drawn fully green. Zero means 200.
	ConfidenceFull float64
}

func (o Options) withDefaults() Options {
	if o.Scale <= 0 {
		o.Scale = 10
	}
	if o.ConfidenceFull <= 0 {
		o.ConfidenceFull = 200
	}
	return o
}

// ConfidenceColor ramps from red (no confidence) to green (full). Values
// above full clamp to green.
func ConfidenceColor(confidence uint8, full float64) color.RGBA {
	if full <= 0 {
		full = 200
	}
	ratio := float64(confidence) / full
	if ratio > 1 {
		ratio = 1
	}
	green := uint8(255 * ratio)
	return color.RGBA{R: 255 - green, G: green, B: 0, A: 0xff}
}

// FromPoints projects points onto the canvas plane.
func FromPoints(pts []ld19.Point, opts Options) []DrawPoint {
	opts = opts.withDefaults()
	out := make([]DrawPoint, 0, len(pts))
	for _, pt := range pts {
		if pt.Distance == 0 {
			// no return
			continue
		}
		x, y := pt.Cartesian()
		c := ConfidenceColor(pt.Confidence, opts.ConfidenceFull)
		out = append(out, DrawPoint{
			X: x / opts.Scale,
			Y: y / opts.Scale,
			R: c.R,
			G: c.G,
			B: c.B,
		})
	}
	return out
}
