package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/lidardash/internal/ld19"
	"github.com/shaunagostinho/lidardash/internal/snapshot"
)

// fakeProvider hands out queued packets. A queued error kills the stream.
type fakeProvider struct {
	mu         sync.Mutex
	connected  bool
	connects   int
	failFirst  int // Connect calls that fail before one succeeds
	queue      []any
	closeCalls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("no such port")
	}
	f.connected = true
	return nil
}

func (f *fakeProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.connected = false
	return nil
}

func (f *fakeProvider) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeProvider) ReadPacket() (*ld19.Packet, error) {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	item := f.queue[0]
	f.queue = f.queue[1:]
	f.mu.Unlock()

	switch v := item.(type) {
	case *ld19.Packet:
		return v, nil
	case error:
		return nil, v
	}
	return nil, nil
}

func (f *fakeProvider) Stats() ld19.Stats {
	return ld19.Stats{Packets: 7, Rejected: 1}
}

func (f *fakeProvider) state() (connects, closes int, queued int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.closeCalls, len(f.queue)
}

func testPacket(t *testing.T, start, end uint16) *ld19.Packet {
	t.Helper()
	samples := make([]ld19.Sample, 4)
	for i := range samples {
		samples[i] = ld19.Sample{Distance: 1000, Confidence: 200}
	}
	p, err := ld19.NewPacket(3600, start, end, 1234, samples)
	require.NoError(t, err)
	return p
}

func newTestServer(t *testing.T, prov *fakeProvider) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), "config.yaml")
	cfg.Snapshot.Dir = filepath.Join(t.TempDir(), "shots")
	s := New(cfg, prov, fstest.MapFS{
		"index.html": {Data: []byte("<canvas></canvas>")},
	})
	s.backoff = Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: 3}
	return s
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestServesEmbeddedUI(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, &fakeProvider{}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/index.html")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "canvas")
}

func TestWebSocketReceivesConfigThenPoints(t *testing.T) {
	s := newTestServer(t, &fakeProvider{connected: true})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	first := readFrame(t, conn)
	require.NotNil(t, first.Config)
	assert.Equal(t, 800, first.Config.SizePx)
	assert.True(t, first.Connected)

	require.Eventually(t, func() bool { return s.clientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// 0° to 90° over four samples at 1 m
	s.ingest(testPacket(t, 0, 9000))
	s.flush()

	f := readFrame(t, conn)
	require.Len(t, f.Points, 4)
	require.NotNil(t, f.Packet)
	assert.Equal(t, uint16(3600), f.Packet.Speed)
	assert.InDelta(t, 90.0, f.Packet.EndAngle, 1e-9)
	assert.Equal(t, 4, f.Packet.Samples)

	// scale 10 mm/px puts the first sample 100 px along +x
	assert.InDelta(t, 100, f.Points[0].X, 1e-9)
	assert.InDelta(t, 0, f.Points[0].Y, 1e-9)
	assert.Equal(t, uint8(255), f.Points[0].G)
}

func TestFlushWithoutPacketsSendsNothing(t *testing.T) {
	s := newTestServer(t, &fakeProvider{})
	s.flush()
	pts, last := s.takePending()
	assert.Nil(t, pts)
	assert.Nil(t, last)
}

func TestPendingPointsAreBounded(t *testing.T) {
	s := newTestServer(t, &fakeProvider{})
	p := testPacket(t, 0, 9000)
	for i := 0; i < maxPendingPoints/4+10; i++ {
		s.ingest(p)
	}
	pts, last := s.takePending()
	assert.Len(t, pts, maxPendingPoints)
	assert.NotNil(t, last)
}

func TestConfigGetAndPatch(t *testing.T) {
	s := newTestServer(t, &fakeProvider{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/config", "application/json",
		strings.NewReader(`{"display":{"scale":5}}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got Config
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 5.0, got.Display.Scale)
	assert.Equal(t, 800, got.Display.SizePx, "untouched fields survive the merge")

	_, err = os.Stat(s.cfg.path)
	assert.NoError(t, err, "config persisted")
}

func TestConfigRejectsBadJSON(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, &fakeProvider{}).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{"display":`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, &fakeProvider{connected: true}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got StatsData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "fake", got.Provider)
	assert.True(t, got.Connected)
	assert.Equal(t, uint64(7), got.Decoder.Packets)
	assert.Equal(t, uint64(1), got.Decoder.Rejected)
}

func TestSnapshotEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeProvider{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/snapshot", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	s.ingest(testPacket(t, 0, 9000))
	resp, err = http.Post(ts.URL+"/api/snapshot", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.FileExists(t, body["path"])
	assert.Equal(t, ".png", filepath.Ext(body["path"]))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeProvider{})
	s.ingest(testPacket(t, 0, 9000))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "lidardash_points_total")
}

func TestMetricsDisabled(t *testing.T) {
	s := newTestServer(t, &fakeProvider{})
	s.cfg.Metrics.Enabled = false
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReadLoopReconnectsAfterStreamError(t *testing.T) {
	prov := &fakeProvider{
		failFirst: 2,
		queue: []any{
			testPacket(t, 0, 9000),
			errors.New("device unplugged"),
			testPacket(t, 9000, 18000),
		},
	}
	s := newTestServer(t, prov)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.readLoop(ctx); close(done) }()

	require.Eventually(t, func() bool {
		_, _, queued := prov.state()
		return queued == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	connects, closes, _ := prov.state()
	assert.Equal(t, 4, connects, "two failures, first connect, reconnect")
	assert.GreaterOrEqual(t, closes, 2, "closed after the error and on exit")

	pts, last := s.takePending()
	assert.Len(t, pts, 8)
	require.NotNil(t, last)
	assert.InDelta(t, 180.0, last.EndAngle, 1e-9)
}

func TestConnectWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prov := &fakeProvider{failFirst: 100}
	assert.False(t, connectWithRetry(ctx, "fake", prov, Backoff{Initial: time.Millisecond, Max: time.Millisecond}))
}

func TestRunShutsDownAndWritesFinalSnapshot(t *testing.T) {
	prov := &fakeProvider{queue: []any{testPacket(t, 0, 9000)}}
	s := newTestServer(t, prov)
	s.cfg.Server.ListenAddr = "127.0.0.1:0"
	s.rec = newEnabledRecorder(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, _, queued := prov.state()
		return queued == 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	matches, err := filepath.Glob(filepath.Join(s.cfg.Snapshot.Dir, "lidar_*.png"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRunReturnsWhenListenFails(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	prov := &fakeProvider{}
	s := newTestServer(t, prov)
	s.cfg.Server.ListenAddr = busy.Addr().String()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), busy.Addr().String())
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept going after the listener failed")
	}
	assert.False(t, prov.IsConnected(), "provider closed with the read loop")
}

func newEnabledRecorder(t *testing.T, s *Server) *snapshot.Recorder {
	t.Helper()
	return snapshot.New(snapshot.Config{Enabled: true, Dir: s.cfg.Snapshot.Dir, Packets: 10})
}
