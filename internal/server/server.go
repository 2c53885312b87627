package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/lidardash/internal/ld19"
	"github.com/shaunagostinho/lidardash/internal/lidar"
	"github.com/shaunagostinho/lidardash/internal/metrics"
	"github.com/shaunagostinho/lidardash/internal/render"
	"github.com/shaunagostinho/lidardash/internal/snapshot"
)

// maxPendingPoints bounds the batch between broadcasts; about four
// revolutions of an LD19.
const maxPendingPoints = 20000

// Server reads packets from the lidar provider and broadcasts scan points to
// WebSocket clients.
type Server struct {
	cfg     *Config
	prov    lidar.Provider
	webFS   fs.FS
	rec     *snapshot.Recorder
	backoff Backoff

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	// Points decoded since the last broadcast
	pendingMu sync.Mutex
	pending   []ld19.Point
	last      *PacketSummary
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Points    []render.DrawPoint `json:"points,omitempty"`
	Packet    *PacketSummary     `json:"packet,omitempty"`
	Config    *DisplayConfig     `json:"config,omitempty"`
	Connected bool               `json:"connected"`
	Stamp     int64              `json:"stamp"` // Unix ms
}

// PacketSummary describes the newest packet in a frame.
type PacketSummary struct {
	Speed      uint16  `json:"speed"`      // deg/s
	StartAngle float64 `json:"startAngle"` // deg
	EndAngle   float64 `json:"endAngle"`   // deg
	Timestamp  uint16  `json:"timestamp"`  // ms, wraps at 65536
	Samples    int     `json:"samples"`
}

// StatsData is the /api/stats payload.
type StatsData struct {
	Provider  string     `json:"provider"`
	Connected bool       `json:"connected"`
	Clients   int        `json:"clients"`
	Decoder   ld19.Stats `json:"decoder"`
}

// New creates a new Server.
func New(cfg *Config, prov lidar.Provider, webFS fs.FS) *Server {
	return &Server{
		cfg:     cfg,
		prov:    prov,
		webFS:   webFS,
		backoff: DefaultBackoff,
		rec: snapshot.New(snapshot.Config{
			Enabled:        cfg.Snapshot.Enabled,
			Dir:            cfg.Snapshot.Dir,
			Packets:        cfg.Snapshot.Packets,
			WidthIn:        cfg.Snapshot.WidthIn,
			HeightIn:       cfg.Snapshot.HeightIn,
			ConfidenceFull: cfg.Display.ConfidenceFull,
		}),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes without starting any loops.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)

	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, metrics.Handler())
	}
	return mux
}

// Run starts the HTTP server and the read/broadcast loops. It returns once
// ctx is cancelled and the server has shut down, or as soon as the listener
// fails, with that error.
func (s *Server) Run(ctx context.Context) error {
	// Loops stop on shutdown or when the listener fails.
	loopCtx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.readLoop(loopCtx) }()
	go func() { defer wg.Done(); s.broadcastLoop(loopCtx) }()

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-loopCtx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	} else {
		log.Printf("[server] listener failed: %v", err)
	}
	stop()

	wg.Wait()
	s.finalSnapshot()
	return err
}

func (s *Server) finalSnapshot() {
	if !s.rec.IsEnabled() {
		return
	}
	if _, err := s.rec.Save(time.Now()); err != nil {
		log.Printf("[snapshot] final snapshot failed: %v", err)
	}
}

// readLoop owns the provider connection: it connects with backoff, pulls
// packets until the stream dies, then reconnects.
func (s *Server) readLoop(ctx context.Context) {
	name := s.prov.Name()
	defer s.prov.Close()

	for ctx.Err() == nil {
		if !s.prov.IsConnected() {
			if !connectWithRetry(ctx, name, s.prov, s.backoff) {
				return
			}
		}

		p, err := s.prov.ReadPacket()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[%s] stream lost: %v", name, err)
			s.prov.Close()
			continue
		}
		if p == nil {
			// read timeout, sensor quiet
			continue
		}
		s.ingest(p)
	}
}

func (s *Server) ingest(p *ld19.Packet) {
	pts := p.Points()
	metrics.PointsProduced.Add(float64(len(pts)))
	s.rec.Add(pts)

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = append(s.pending, pts...)
	if over := len(s.pending) - maxPendingPoints; over > 0 {
		s.pending = append(s.pending[:0], s.pending[over:]...)
	}
	s.last = &PacketSummary{
		Speed:      p.Speed,
		StartAngle: float64(p.StartAngle) / 100,
		EndAngle:   float64(p.EndAngle) / 100,
		Timestamp:  p.Timestamp,
		Samples:    len(p.Samples),
	}
}

// takePending drains the points gathered since the last call.
func (s *Server) takePending() ([]ld19.Point, *PacketSummary) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	pts, last := s.pending, s.last
	s.pending = nil
	s.last = nil
	return pts, last
}

func (s *Server) broadcastLoop(ctx context.Context) {
	hz := s.cfg.DisplaySnapshot().BroadcastHz
	if hz <= 0 {
		hz = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush sends pending points to every client. Nothing is sent when no packet
// arrived since the previous flush.
func (s *Server) flush() {
	pts, last := s.takePending()
	if last == nil {
		return
	}
	disp := s.cfg.DisplaySnapshot()
	s.broadcast(Frame{
		Points: render.FromPoints(pts, render.Options{
			Scale:          disp.Scale,
			ConfidenceFull: disp.ConfidenceFull,
		}),
		Packet:    last,
		Connected: s.prov.IsConnected(),
		Stamp:     time.Now().UnixMilli(),
	})
}

func (s *Server) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Initial config goes first so the client can size its canvas
	disp := s.cfg.DisplaySnapshot()
	cfgFrame := Frame{
		Config:    &disp,
		Connected: s.prov.IsConnected(),
		Stamp:     time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(cfgFrame); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	metrics.WSClients.Inc()

	log.Printf("[ws] client connected (%d total)", n)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects close)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			close(client.send)
			n := len(s.clients)
			s.clientsMu.Unlock()
			metrics.WSClients.Dec()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Broadcast updated display settings
		disp := s.cfg.DisplaySnapshot()
		s.broadcast(Frame{Config: &disp, Connected: s.prov.IsConnected(), Stamp: time.Now().UnixMilli()})

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, http.StatusOK, StatsData{
		Provider:  s.prov.Name(),
		Connected: s.prov.IsConnected(),
		Clients:   s.clientCount(),
		Decoder:   s.prov.Stats(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	path, err := s.rec.Save(time.Now())
	switch {
	case errors.Is(err, snapshot.ErrNoPoints):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		log.Printf("[snapshot] save failed: %v", err)
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "path": path})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
