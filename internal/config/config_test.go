package config

import "testing"

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"256", 256, true},
		{"1024", 1024, true},
		{"1K", 1024, true},
		{"1M", 1024 * 1024, true},
		{"1G", 1024 * 1024 * 1024, true},
		{"1k", 1024, true},
		{"1m", 1024 * 1024, true},
		{"1g", 1024 * 1024 * 1024, true},
		{" 512M ", 512 * 1024 * 1024, true},
		{"", 0, false},
		{"invalid", 0, false},
		{"1.5M", 0, false},
	}
	for _, c := range cases {
		got, ok := parseSize(c.in)
		if ok != c.ok {
			t.Errorf("parseSize(%q) ok = %v, wanted %v", c.in, ok, c.ok)
			continue
		}
		if ok && got != c.want {
			t.Errorf("parseSize(%q) = %d, wanted %d", c.in, got, c.want)
		}
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("TOKEN", "test-token")
	t.Setenv("COMPRESSION_LEVEL", "")
	t.Setenv("KV_CACHE_CAPACITY", "")
	t.Setenv("KV_FLUSH_INTERVAL_MS", "")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() err = %v", err)
	}
	if c.DBPath != "./kv_db" {
		t.Errorf("DBPath = %q, wanted ./kv_db", c.DBPath)
	}
	if c.Port != 3000 || c.SSLPort != 3443 {
		t.Errorf("Port/SSLPort = %d/%d, wanted 3000/3443", c.Port, c.SSLPort)
	}
	if c.CompressionLevel != 1 {
		t.Errorf("CompressionLevel = %d, wanted 1", c.CompressionLevel)
	}
	if c.CacheCapacityBytes != 1073741824 {
		t.Errorf("CacheCapacityBytes = %d, wanted 1073741824", c.CacheCapacityBytes)
	}
	if c.TLSEnabled() {
		t.Errorf("TLSEnabled() = true, wanted false with no cert/key set")
	}
}

func TestFromEnv_MissingTokenFailsFast(t *testing.T) {
	t.Setenv("TOKEN", "")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("FromEnv() err = nil, wanted error for missing TOKEN")
	}
}

func TestFromEnv_CacheCapacitySuffix(t *testing.T) {
	t.Setenv("TOKEN", "test-token")
	t.Setenv("KV_CACHE_CAPACITY", "256M")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() err = %v", err)
	}
	if c.CacheCapacityBytes != 256*1024*1024 {
		t.Errorf("CacheCapacityBytes = %d, wanted %d", c.CacheCapacityBytes, 256*1024*1024)
	}
}
