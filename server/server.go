package server

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"driftserver/config"
	"driftserver/ignore"
	"driftserver/index"
	"driftserver/sharelink"
)

// Run wires the index, watcher, share-link store, and transport together and
// starts the HTTP server.
func Run(cfg *config.Config) error {
	matcher, err := ignore.NewMatcher(cfg.IgnorePatterns)
	if err != nil {
		return fmt.Errorf("ignore patterns: %w", err)
	}

	store := index.NewStore(index.Options{
		Root:     cfg.Root,
		Ignore:   matcher,
		ReadOnly: cfg.ReadOnly,
	})
	if err := index.Init(store); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	watcher := index.NewWatcher(store, cfg.PollingInterval)
	if err := watcher.Start(); err != nil {
		log.Printf("watcher: could not start: %v", err)
	}

	links, err := sharelink.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("share links: %w", err)
	}
	defer links.Close()

	// Load persisted transfer statistics before any handler runs.
	InitStats(cfg.StatsDir)

	hub := NewUpdateHub()
	store.Subscribe(hub)

	shaper := NewShaper(cfg.BandwidthLimit)

	mux := http.NewServeMux()
	registerRoutes(mux, store, links, hub, shaper, OpenGate{})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logStartup(cfg, store, addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,

		// ReadHeaderTimeout caps how long the server waits for a client to
		// finish sending HTTP headers, disconnecting clients that trickle
		// headers one byte at a time.
		ReadHeaderTimeout: 20 * time.Second,

		// IdleTimeout reclaims goroutines and file descriptors from
		// keep-alive connections that stopped sending requests.
		IdleTimeout: 120 * time.Second,

		// WriteTimeout is intentionally absent: downloads and archive
		// streams can legitimately run for hours, and the shaper already
		// keeps slow readers from holding unlimited resources.
	}
	return srv.ListenAndServe()
}

// logStartup prints a structured summary of the active configuration.
func logStartup(cfg *config.Config, store *index.Store, addr string) {
	sep := "-------------------------------------------"
	log.Println(sep)
	log.Printf("  %s", cfg.Title)
	log.Println(sep)
	log.Printf("  %-18s %s", "Address:", "http://"+addr)
	log.Printf("  %-18s %s", "Root:", cfg.Root)

	if d, ok := store.Get("/"); ok {
		log.Printf("  %-18s %s", "Indexed:", humanize.Bytes(uint64(d.Size)))
	}

	if cfg.PollingInterval > 0 {
		log.Printf("  %-18s polling every %s", "Watcher:", cfg.PollingInterval)
	} else {
		log.Printf("  %-18s kernel events", "Watcher:")
	}

	if len(cfg.IgnorePatterns) > 0 {
		log.Printf("  %-18s %v", "Ignoring:", cfg.IgnorePatterns)
	}

	if cfg.ReadOnly {
		log.Printf("  %-18s %s", "Mode:", "read-only")
	}

	if cfg.BandwidthLimit > 0 {
		log.Printf("  %-18s %s/s", "Bandwidth limit:", humanize.Bytes(uint64(cfg.BandwidthLimit)))
	} else {
		log.Printf("  %-18s %s", "Bandwidth limit:", "unlimited")
	}
	log.Println(sep)
}
