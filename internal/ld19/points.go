package ld19

import "math"

// Point is one angular measurement derived from a Sample.
type Point struct {
	Angle      float64 `json:"angle"`    // degrees, normally [0, 360]
	Distance   uint32  `json:"distance"` // mm
	Confidence uint8   `json:"confidence"`
}

// Points spreads the packet's samples evenly over the arc from StartAngle to
// EndAngle, in sample order. An arc that crosses 0 deg is handled by adding a
// full turn before taking the span modulo 360. Results above 360 deg get a
// single 360 deg correction, not a full normalisation.
func (p *Packet) Points() []Point {
	n := len(p.Samples)
	if n == 0 {
		return nil
	}

	start := float64(p.StartAngle) / 100
	end := float64(p.EndAngle) / 100
	span := math.Mod(end+360-start, 360)
	step := span / float64(n)

	pts := make([]Point, n)
	for i, s := range p.Samples {
		angle := start + step*float64(i)
		if angle > 360 {
			angle -= 360
		}
		pts[i] = Point{
			Angle:      angle,
			Distance:   uint32(s.Distance),
			Confidence: s.Confidence,
		}
	}
	return pts
}

// Cartesian returns the point's position in millimetres with 0 deg along +X.
func (pt Point) Cartesian() (x, y float64) {
	rad := pt.Angle * math.Pi / 180
	d := float64(pt.Distance)
	return d * math.Cos(rad), d * math.Sin(rad)
}
