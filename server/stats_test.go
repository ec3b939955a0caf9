package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStatsPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drift-stats.json")

	if err := writeStatsFile(path, persistedStats{Downloads: 3, BytesDownloaded: 99}); err != nil {
		t.Fatalf("writeStatsFile: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after rename")
	}

	InitStats(dir)
	got := GetStats()
	if got.Downloads != 3 || got.BytesDownloaded != 99 {
		t.Errorf("reloaded stats = %+v", got)
	}
}

func TestStatsCorruptFileResets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "drift-stats.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	InitStats(dir)
	if got := GetStats(); got.Downloads != 0 || got.Uploads != 0 {
		t.Errorf("counters not reset: %+v", got)
	}
}
