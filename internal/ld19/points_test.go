package ld19

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anglesOf(pts []Point) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Angle
	}
	return out
}

func TestPointsInterpolation(t *testing.T) {
	tests := []struct {
		name       string
		start, end uint16
		n          int
		want       []float64
	}{
		{
			name:  "non-wrapping quarter turn",
			start: 0, end: 9000, n: 3,
			want: []float64{0, 30, 60},
		},
		{
			name:  "wraps through zero",
			start: 35000, end: 2000, n: 4,
			want: []float64{350, 357.5, 5, 12.5},
		},
		{
			name:  "exactly 360 is not corrected",
			start: 35000, end: 1000, n: 4,
			want: []float64{350, 355, 360, 5},
		},
		{
			name:  "out of range start gets one correction only",
			start: 40000, end: 41000, n: 2,
			want: []float64{40, 45},
		},
		{
			name:  "equal start and end collapse to one angle",
			start: 12345, end: 12345, n: 3,
			want: []float64{123.45, 123.45, 123.45},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]Sample, tt.n)
			p, err := NewPacket(3600, tt.start, tt.end, 0, samples)
			require.NoError(t, err)

			got := anglesOf(p.Points())
			require.Len(t, got, len(tt.want))
			assert.InDeltaSlice(t, tt.want, got, 1e-9)
		})
	}
}

func TestPointsPreserveSampleOrder(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(mustFrame(t))
	res := NewDecoder(nil).Decode(&buf)
	require.Equal(t, StatusPacket, res.Status)

	pkt := res.Packet
	pts := pkt.Points()
	require.Len(t, pts, len(pkt.Samples))

	for i, s := range pkt.Samples {
		assert.Equal(t, uint32(s.Distance), pts[i].Distance)
		assert.Equal(t, s.Confidence, pts[i].Confidence)
		if i > 0 {
			assert.Greater(t, pts[i].Angle, pts[i-1].Angle)
		}
	}
	assert.InDelta(t, 324.27, pts[0].Angle, 1e-9)
}

func TestPointsDoNotAliasPacket(t *testing.T) {
	p, err := NewPacket(0, 0, 9000, 0, []Sample{{Distance: 500, Confidence: 10}})
	require.NoError(t, err)

	a := p.Points()
	a[0].Distance = 1
	b := p.Points()
	assert.Equal(t, uint32(500), b[0].Distance)
	assert.Equal(t, uint16(500), p.Samples[0].Distance)
}

func TestPointsEmptyPacket(t *testing.T) {
	p, err := NewPacket(0, 100, 200, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, p.Points())
}

func TestPointsWideDistance(t *testing.T) {
	p, err := NewPacket(0, 0, 100, 0, []Sample{{Distance: 0xffff, Confidence: 1}})
	require.NoError(t, err)
	pt := p.Points()[0]
	assert.Equal(t, uint32(65535), pt.Distance)
	assert.Equal(t, uint64(65535*65535), uint64(pt.Distance)*uint64(pt.Distance))
}

func TestPointCartesian(t *testing.T) {
	x, y := Point{Angle: 0, Distance: 1000}.Cartesian()
	assert.InDelta(t, 1000, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)

	x, y = Point{Angle: 90, Distance: 1000}.Cartesian()
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 1000, y, 1e-9)

	x, y = Point{Angle: 225, Distance: 2000}.Cartesian()
	assert.InDelta(t, -1414.2135623, x, 1e-6)
	assert.InDelta(t, -1414.2135623, y, 1e-6)
}
