package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaunagostinho/lidardash/internal/lidar"
	"github.com/shaunagostinho/lidardash/internal/server"
	"github.com/shaunagostinho/lidardash/web"
)

func main() {
	configPath := flag.String("config", "/etc/lidardash/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated scan instead of the sensor")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	portPath := flag.String("port", "", "Override serial port (e.g. /dev/ttyUSB0)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] lidardash starting")

	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Lidar.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *portPath != "" {
		cfg.Lidar.PortPath = *portPath
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var prov lidar.Provider
	switch cfg.Lidar.Type {
	case "ld19":
		prov = lidar.NewLD19(lidar.LD19Config{
			PortPath:      cfg.Lidar.PortPath,
			BaudRate:      cfg.Lidar.BaudRate,
			ReadTimeoutMs: cfg.Lidar.ReadTimeoutMs,
		})
	default:
		prov = lidar.NewDemo()
	}
	log.Printf("[main] lidar provider: %s", prov.Name())

	// The server connects the provider with backoff in the background, so the
	// dashboard is reachable while the sensor is still missing.
	srv := server.New(cfg, prov, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
		os.Exit(1)
	}
}
