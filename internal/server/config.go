package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	// Sensor
	Lidar LidarConfig `yaml:"lidar" json:"lidar"`

	// Display preferences
	Display DisplayConfig `yaml:"display" json:"display"`

	// PNG export
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`

	// Prometheus
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type LidarConfig struct {
	Type          string `yaml:"type" json:"type"`          // "ld19" or "demo"
	PortPath      string `yaml:"port_path" json:"portPath"` // e.g. /dev/serial0
	BaudRate      int    `yaml:"baud_rate" json:"baudRate"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`
}

type DisplayConfig struct {
	Scale          float64 `yaml:"scale" json:"scale"`                    // mm per pixel
	SizePx         int     `yaml:"size_px" json:"sizePx"`                 // square canvas edge
	ConfidenceFull float64 `yaml:"confidence_full" json:"confidenceFull"` // confidence drawn fully green
	BroadcastHz    int     `yaml:"broadcast_hz" json:"broadcastHz"`
}

type SnapshotConfig struct {
	Enabled  bool    `yaml:"enabled" json:"enabled"` // write a PNG on shutdown
	Dir      string  `yaml:"dir" json:"dir"`
	Packets  int     `yaml:"packets" json:"packets"` // recent packets kept for the image
	WidthIn  float64 `yaml:"width_in" json:"widthIn"`
	HeightIn float64 `yaml:"height_in" json:"heightIn"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Lidar: LidarConfig{
			Type:          "demo",
			PortPath:      "/dev/serial0",
			BaudRate:      230400,
			ReadTimeoutMs: 200,
		},
		Display: DisplayConfig{
			Scale:          10,
			SizePx:         800,
			ConfidenceFull: 200,
			BroadcastHz:    10,
		},
		Snapshot: SnapshotConfig{
			Enabled:  false,
			Dir:      "/var/lib/lidardash/snapshots",
			Packets:  1000,
			WidthIn:  8,
			HeightIn: 8,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// .env next to the config wins over one in CWD; real env wins over both
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: LIDAR_TYPE, LIDAR_PORT, LIDAR_BAUD, LISTEN_ADDR, DISPLAY_SCALE,
// SNAPSHOT_ENABLED, SNAPSHOT_DIR, SNAPSHOT_PACKETS, METRICS_ENABLED
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LIDAR_TYPE"); v != "" {
		c.Lidar.Type = v
	}
	if v := os.Getenv("LIDAR_PORT"); v != "" {
		c.Lidar.PortPath = v
	}
	if v := os.Getenv("LIDAR_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Lidar.BaudRate = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("DISPLAY_SCALE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			c.Display.Scale = n
		}
	}
	if v := os.Getenv("SNAPSHOT_ENABLED"); v != "" {
		c.Snapshot.Enabled = truthy(v)
	}
	if v := os.Getenv("SNAPSHOT_DIR"); v != "" {
		c.Snapshot.Dir = v
	}
	if v := os.Getenv("SNAPSHOT_PACKETS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Snapshot.Packets = n
		}
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = truthy(v)
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/lidardash/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// DisplaySnapshot returns a copy of the display settings.
func (c *Config) DisplaySnapshot() DisplayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Display
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
