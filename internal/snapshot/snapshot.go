package snapshot

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/shaunagostinho/lidardash/internal/ld19"
	"github.com/shaunagostinho/lidardash/internal/render"
)

// ErrNoPoints is returned by Save before any scan data has been recorded.
var ErrNoPoints = errors.New("snapshot: no points recorded")

// Recorder keeps the points of the most recent packets and renders them to a
// PNG scatter plot on demand.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	enabled  bool
	width    vg.Length
	height   vg.Length
	confFull float64

	ring  [][]ld19.Point
	next  int
	count int
}

// Config holds snapshot configuration.
type Config struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	Dir            string  `yaml:"dir" json:"dir"`
	Packets        int     `yaml:"packets" json:"packets"`
	WidthIn        float64 `yaml:"width_in" json:"widthIn"`
	HeightIn       float64 `yaml:"height_in" json:"heightIn"`
	ConfidenceFull float64 `yaml:"-" json:"-"`
}

// New creates a Recorder.
func New(cfg Config) *Recorder {
	if cfg.Dir == "" {
		cfg.Dir = "/var/lib/lidardash/snapshots"
	}
	if cfg.Packets <= 0 {
		cfg.Packets = 1000 // ~2.7 revolutions at 10 Hz
	}
	if cfg.WidthIn <= 0 {
		cfg.WidthIn = 8
	}
	if cfg.HeightIn <= 0 {
		cfg.HeightIn = 8
	}
	return &Recorder{
		dir:      cfg.Dir,
		enabled:  cfg.Enabled,
		width:    vg.Length(cfg.WidthIn) * vg.Inch,
		height:   vg.Length(cfg.HeightIn) * vg.Inch,
		confFull: cfg.ConfidenceFull,
		ring:     make([][]ld19.Point, cfg.Packets),
	}
}

// IsEnabled reports whether a final snapshot should be written on shutdown.
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Add records the points of one packet, evicting the oldest packet when full.
func (r *Recorder) Add(pts []ld19.Point) {
	if len(pts) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.next] = pts
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
}

// Points returns the recorded points, oldest packet first.
func (r *Recorder) Points() []ld19.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ld19.Point
	start := (r.next - r.count + len(r.ring)) % len(r.ring)
	for i := 0; i < r.count; i++ {
		out = append(out, r.ring[(start+i)%len(r.ring)]...)
	}
	return out
}

// Save renders the recorded points into dir/lidar_<timestamp>.png and returns
// the file path.
func (r *Recorder) Save(now time.Time) (string, error) {
	pts := r.Points()
	if len(pts) == 0 {
		return "", ErrNoPoints
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	p, err := r.plot(pts)
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("lidar_%s.png", now.Format("2006-01-02_150405"))
	path := filepath.Join(r.dir, filename)
	if err := p.Save(r.width, r.height, path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}

	log.Printf("[snapshot] wrote %d points to %s", len(pts), path)
	return path, nil
}

func (r *Recorder) plot(pts []ld19.Point) (*plot.Plot, error) {
	xys := make(plotter.XYs, 0, len(pts))
	colors := make([]draw.GlyphStyle, 0, len(pts))
	maxRange := 0.0
	for _, pt := range pts {
		if pt.Distance == 0 {
			continue
		}
		x, y := pt.Cartesian()
		x, y = x/1000, y/1000
		xys = append(xys, plotter.XY{X: x, Y: y})
		colors = append(colors, draw.GlyphStyle{
			Color:  render.ConfidenceColor(pt.Confidence, r.confFull),
			Radius: vg.Points(1),
			Shape:  draw.CircleGlyph{},
		})
		maxRange = math.Max(maxRange, math.Max(math.Abs(x), math.Abs(y)))
	}
	if len(xys) == 0 {
		return nil, ErrNoPoints
	}

	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, fmt.Errorf("scatter: %w", err)
	}
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle { return colors[i] }

	p := plot.New()
	p.Title.Text = fmt.Sprintf("LD19 scan (%d points)", len(xys))
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	// Square axes so the room keeps its shape.
	lim := math.Ceil(maxRange*10)/10 + 0.1
	p.X.Min, p.X.Max = -lim, lim
	p.Y.Min, p.Y.Max = -lim, lim
	p.Add(plotter.NewGrid(), scatter)
	return p, nil
}
