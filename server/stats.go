package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// StatsSnapshot is the public view of the transfer counters.
type StatsSnapshot struct {
	Downloads       int64
	Uploads         int64
	BytesDownloaded int64
	BytesUploaded   int64
}

// persistedStats is the on-disk JSON structure.
type persistedStats struct {
	Downloads       int64 `json:"downloads"`
	Uploads         int64 `json:"uploads"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
	BytesUploaded   int64 `json:"bytes_uploaded"`
}

var transferStats struct {
	mu   sync.Mutex
	data persistedStats
	path string
}

// InitStats resolves the stats file path, loads any existing counters, and
// keeps the path for future writes. A missing file is created immediately
// with zero counters so permission problems surface at startup rather than
// silently at the first transfer.
func InitStats(statsDir string) {
	filePath := filepath.Join(statsDir, "drift-stats.json")

	transferStats.mu.Lock()
	defer transferStats.mu.Unlock()

	transferStats.path = filePath

	raw, err := os.ReadFile(filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("stats: could not read %s: %v", filePath, err)
			return
		}
		if err := writeStatsFile(filePath, persistedStats{}); err != nil {
			log.Printf("stats: could not create %s: %v", filePath, err)
		}
		return
	}

	if err := json.Unmarshal(raw, &transferStats.data); err != nil {
		log.Printf("stats: could not parse %s: %v; resetting counters", filePath, err)
		transferStats.data = persistedStats{}
	}
}

// RecordDownload adds one download of n bytes and persists asynchronously so
// the response is never delayed by disk I/O.
func RecordDownload(n int64) {
	transferStats.mu.Lock()
	transferStats.data.Downloads++
	transferStats.data.BytesDownloaded += n
	snap := transferStats.data
	path := transferStats.path
	transferStats.mu.Unlock()

	go saveStats(path, snap)
}

// RecordUpload adds one upload of n bytes.
func RecordUpload(n int64) {
	transferStats.mu.Lock()
	transferStats.data.Uploads++
	transferStats.data.BytesUploaded += n
	snap := transferStats.data
	path := transferStats.path
	transferStats.mu.Unlock()

	go saveStats(path, snap)
}

// GetStats returns a point-in-time snapshot of the counters.
func GetStats() StatsSnapshot {
	transferStats.mu.Lock()
	defer transferStats.mu.Unlock()
	return StatsSnapshot{
		Downloads:       transferStats.data.Downloads,
		Uploads:         transferStats.data.Uploads,
		BytesDownloaded: transferStats.data.BytesDownloaded,
		BytesUploaded:   transferStats.data.BytesUploaded,
	}
}

func saveStats(filePath string, data persistedStats) {
	if err := writeStatsFile(filePath, data); err != nil {
		log.Printf("stats: %v", err)
	}
}

// writeMu serializes the async persist goroutines so the fixed temp name
// cannot collide.
var writeMu sync.Mutex

// writeStatsFile atomically replaces filePath with the encoded counters:
// the JSON lands in a sibling temp file first and is renamed into place, so
// the stats file is never observable half-written.
func writeStatsFile(filePath string, data persistedStats) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filePath, err)
	}
	return nil
}
