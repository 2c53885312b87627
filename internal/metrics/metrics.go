package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PacketsDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lidardash_packets_decoded_total",
		Help: "Frames that passed the checksum and were decoded",
	})
	FramesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lidardash_frames_rejected_total",
		Help: "Complete frames dropped because of a checksum mismatch",
	})
	BytesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lidardash_bytes_discarded_total",
		Help: "Bytes skipped while resynchronising on the frame header",
	})
	PointsProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lidardash_points_total",
		Help: "Interpolated points handed to the display",
	})
	TransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lidardash_transport_errors_total",
		Help: "Fatal read errors from the lidar byte source",
	}, []string{"provider"})
	RotationSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lidardash_rotation_speed_dps",
		Help: "Last reported rotation speed in degrees per second",
	})
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lidardash_ws_clients",
		Help: "Connected WebSocket clients",
	})
	ReadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lidardash_packet_read_seconds",
		Help:    "Time spent in one ReadPacket call that produced a packet",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})
)

func ObserveReadLatency(start time.Time) {
	ReadLatency.Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
