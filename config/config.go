// Package config handles all server configuration.
// CLI flags take precedence; environment variables are used as fallback.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Config holds the complete server configuration.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port int
	// Root is the directory served as the virtual filesystem root.
	Root string
	// Title is the branding name shown in the startup log.
	Title string
	// PollingInterval, when non-zero, switches the watcher from kernel
	// events to polling at this interval. The same interval applies to
	// regular and binary files.
	PollingInterval time.Duration
	// IgnorePatterns is the glob list of paths excluded from the index.
	IgnorePatterns []string
	// ReadOnly rejects every mutation before it reaches disk.
	ReadOnly bool
	// BandwidthLimit is the total transfer cap in bytes per second.
	// 0 means unlimited.
	BandwidthLimit float64
	// DBPath is the sqlite file holding share links.
	DBPath string
	// StatsDir is the directory in which the transfer statistics file is
	// stored. Defaults to the current working directory when empty.
	StatsDir string
}

// globList is a custom flag.Value that can be set multiple times.
type globList []string

func (g *globList) String() string {
	return strings.Join(*g, ", ")
}

func (g *globList) Set(value string) error {
	*g = append(*g, value)
	return nil
}

// Load parses flags and environment variables, returning a validated Config.
func Load() (*Config, error) {
	var ignores globList
	portFlag     := flag.Int("port", 0, "HTTP port to listen on (env: DRIFT_PORT, default: 8989)")
	rootFlag     := flag.String("root", "", "Directory to serve as the virtual root (env: DRIFT_ROOT)")
	titleFlag    := flag.String("title", "", "Branding title (env: DRIFT_TITLE, default: driftserver)")
	pollFlag     := flag.String("polling-interval", "", "Watcher polling interval in ms; 0 uses kernel events (env: DRIFT_POLLING_INTERVAL, default: 0)")
	readonlyFlag := flag.String("readonly", "", "Reject all mutations: true or false (env: DRIFT_READONLY, default: false)")
	bwFlag       := flag.String("bandwidth", "", "Total transfer cap, e.g. 10mbps, 500kbps, 1gbps (env: DRIFT_BANDWIDTH, default: unlimited)")
	dbFlag       := flag.String("db", "", "Path of the share-link database (env: DRIFT_DB, default: <stats-dir>/drift.db)")
	statsDirFlag := flag.String("stats-dir", "", "Directory for the statistics file (env: DRIFT_STATS_DIR, default: current working directory)")
	flag.Var(&ignores, "ignore", "Glob pattern to exclude from the index (repeatable; env: DRIFT_IGNORE, colon-separated)")
	flag.Parse()

	// --- port ---
	port := *portFlag
	if port == 0 {
		if v := os.Getenv("DRIFT_PORT"); v != "" {
			p, err := strconv.Atoi(v)
			if err != nil || p < 1 || p > 65535 {
				return nil, fmt.Errorf("invalid DRIFT_PORT value %q", v)
			}
			port = p
		} else {
			port = 8989
		}
	}

	// --- root ---
	root := *rootFlag
	if root == "" {
		root = os.Getenv("DRIFT_ROOT")
	}
	if root == "" && flag.NArg() > 0 {
		root = flag.Arg(0)
	}
	if root == "" {
		return nil, fmt.Errorf("a root directory must be specified via -root flag, DRIFT_ROOT env var, or positional argument")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("root %q: %w", root, err)
	}
	root = abs
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", root)
	}

	// --- title ---
	title := *titleFlag
	if title == "" {
		if v := os.Getenv("DRIFT_TITLE"); v != "" {
			title = v
		} else {
			title = "driftserver"
		}
	}

	// --- polling interval ---
	pollRaw := *pollFlag
	if pollRaw == "" {
		pollRaw = os.Getenv("DRIFT_POLLING_INTERVAL")
	}
	var polling time.Duration
	if pollRaw != "" {
		ms, err := strconv.Atoi(pollRaw)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid polling interval %q: must be a non-negative millisecond count", pollRaw)
		}
		polling = time.Duration(ms) * time.Millisecond
	}

	// --- ignore patterns ---
	if len(ignores) == 0 {
		if v := os.Getenv("DRIFT_IGNORE"); v != "" {
			for _, g := range strings.Split(v, ":") {
				g = strings.TrimSpace(g)
				if g != "" {
					ignores = append(ignores, g)
				}
			}
		}
	}

	// --- readonly ---
	readonly := parseBoolFlag(*readonlyFlag, "DRIFT_READONLY", false)

	// --- bandwidth ---
	bwRaw := *bwFlag
	if bwRaw == "" {
		bwRaw = os.Getenv("DRIFT_BANDWIDTH")
	}
	var bandwidthBps float64
	if bwRaw != "" {
		bps, err := parseBandwidth(bwRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid bandwidth %q: %w", bwRaw, err)
		}
		bandwidthBps = bps
	}

	// --- stats-dir ---
	statsDir := *statsDirFlag
	if statsDir == "" {
		if v := os.Getenv("DRIFT_STATS_DIR"); v != "" {
			statsDir = v
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("could not determine current working directory: %w", err)
			}
			statsDir = cwd
		}
	}

	// --- db ---
	dbPath := *dbFlag
	if dbPath == "" {
		dbPath = os.Getenv("DRIFT_DB")
	}
	if dbPath == "" {
		dbPath = filepath.Join(statsDir, "drift.db")
	}

	return &Config{
		Port:            port,
		Root:            root,
		Title:           title,
		PollingInterval: polling,
		IgnorePatterns:  []string(ignores),
		ReadOnly:        readonly,
		BandwidthLimit:  bandwidthBps,
		DBPath:          dbPath,
		StatsDir:        statsDir,
	}, nil
}

// parseBoolFlag resolves a boolean option from a CLI string flag value, with
// fallback to an environment variable and then a compile-time default.
func parseBoolFlag(flagVal, envKey string, defaultVal bool) bool {
	if flagVal != "" {
		if b, ok := parseBoolString(flagVal); ok {
			return b
		}
	}
	if v := os.Getenv(envKey); v != "" {
		if b, ok := parseBoolString(v); ok {
			return b
		}
	}
	return defaultVal
}

// parseBoolString converts a human-readable boolean string to a bool.
func parseBoolString(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "on":
		return true, true
	case "0", "f", "false", "no", "off":
		return false, true
	}
	return false, false
}

// parseBandwidth converts a human-readable bandwidth string to bytes per
// second. Accepted units (case-insensitive): bps, kbps, mbps, gbps.
// A bare number is treated as bits per second, the same as bps.
func parseBandwidth(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("no numeric value found")
	}
	numStr := s[:i]
	unit := strings.ToLower(strings.TrimFunc(s[i:], unicode.IsSpace))

	val, err := strconv.ParseFloat(numStr, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("invalid number %q", numStr)
	}

	switch unit {
	case "", "bps":
		return val / 8, nil
	case "kbps":
		return val * 1_000 / 8, nil
	case "mbps":
		return val * 1_000_000 / 8, nil
	case "gbps":
		return val * 1_000_000_000 / 8, nil
	default:
		return 0, fmt.Errorf("unknown unit %q (accepted: bps, kbps, mbps, gbps)", unit)
	}
}
