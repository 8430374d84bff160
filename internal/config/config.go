// Package config loads the server's configuration from the process
// environment per spec.md §6, following the shape of the original
// implementation's config module (original_source/src/config.rs)
// while using the env var names and defaults spec.md specifies.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is every externally-tunable setting the server reads at
// startup.
type Config struct {
	Token string

	DBPath string
	Host   string
	Port   int
	// SSLPort, SSLCert and SSLKey together gate the TLS (h2) listener;
	// TLS is active only when SSLCert and SSLKey are both set.
	SSLPort int
	SSLCert string
	SSLKey  string

	// CompressionLevel is the ZSTD level, clamped to [0,9] by
	// blob.NewCodec; 0 disables compression.
	CompressionLevel int
	// CacheCapacityBytes sizes the store's page cache / initial mmap.
	CacheCapacityBytes int64
	// FlushIntervalMs is accepted for configuration-surface
	// compatibility; see SPEC_FULL.md §4.3 for why bbolt's per-commit
	// fsync is not loosened to honor it.
	FlushIntervalMs int64
}

// FromEnv loads a Config from the process environment. It fails fast
// if TOKEN is unset, matching spec.md §6: "Startup fails fast if
// TOKEN is unset."
func FromEnv() (Config, error) {
	token := os.Getenv("TOKEN")
	if token == "" {
		return Config{}, fmt.Errorf("config: TOKEN environment variable must be set")
	}

	port, err := parseIntDefault("PORT", 3000)
	if err != nil {
		return Config{}, err
	}
	sslPort, err := parseIntDefault("SSL_PORT", 3443)
	if err != nil {
		return Config{}, err
	}
	compressionLevel, err := parseIntDefault("COMPRESSION_LEVEL", 1)
	if err != nil {
		return Config{}, err
	}

	cacheCapacity := int64(1073741824)
	if s := os.Getenv("KV_CACHE_CAPACITY"); s != "" {
		n, ok := parseSize(s)
		if !ok {
			return Config{}, fmt.Errorf("config: KV_CACHE_CAPACITY=%q is not a valid size", s)
		}
		cacheCapacity = n
	}

	flushInterval, err := parseInt64Default("KV_FLUSH_INTERVAL_MS", 1000)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Token:              token,
		DBPath:             envDefault("DB_PATH", "./kv_db"),
		Host:               envDefault("HOST", "0.0.0.0"),
		Port:               port,
		SSLPort:            sslPort,
		SSLCert:            os.Getenv("SSL_CERT"),
		SSLKey:             os.Getenv("SSL_KEY"),
		CompressionLevel:   compressionLevel,
		CacheCapacityBytes: cacheCapacity,
		FlushIntervalMs:    flushInterval,
	}, nil
}

// TLSEnabled reports whether both the cert and key paths are set.
func (c Config) TLSEnabled() bool {
	return c.SSLCert != "" && c.SSLKey != ""
}

func envDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func parseIntDefault(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", name, v)
	}
	return n, nil
}

func parseInt64Default(name string, def int64) (int64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", name, v)
	}
	return n, nil
}

// parseSize parses a byte count, optionally suffixed with K/M/G
// (case-insensitive), matching original_source's parse_size exactly:
// whitespace is trimmed, a fractional number is rejected.
func parseSize(s string) (int64, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}

	numStr := s
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		numStr, mult = s[:len(s)-1], 1024
	case strings.HasSuffix(s, "M"):
		numStr, mult = s[:len(s)-1], 1024*1024
	case strings.HasSuffix(s, "G"):
		numStr, mult = s[:len(s)-1], 1024*1024*1024
	}

	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n * mult, true
}
