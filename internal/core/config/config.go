// Package config reads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type LogCfg struct {
	Level   string
	Console bool
	SampleN int
}

type VectorCfg struct {
	Dir                string
	DefaultCRS         string
	Capacity           int
	SerializedCapacity int
	EvictBatch         int
	Preload            bool
	DefaultSimplify    float64
	Watch              bool
	WatchDebounce      time.Duration
}

type Config struct {
	Addr   string
	Log    LogCfg
	Vector VectorCfg

	// RedisAddr enables the shared response store when set.
	RedisAddr          string
	SharedTTL          time.Duration
	SharedTTLOverrides map[string]time.Duration
	CacheOpTimeout     time.Duration
}

func FromEnv() Config {
	cfg := Config{
		Addr: getenv("ADDR", ":8090"),
		Log: LogCfg{
			Level:   getenv("LOG_LEVEL", "info"),
			Console: getbool("LOG_CONSOLE", false),
			SampleN: getint("LOG_SAMPLE_N", 0),
		},
		Vector: VectorCfg{
			Dir:                getenv("VECTOR_DATA_DIR", "data/vector"),
			DefaultCRS:         getenv("VECTOR_DEFAULT_CRS", "EPSG:4326"),
			Capacity:           getint("VECTOR_CACHE_CAPACITY", 50),
			SerializedCapacity: getint("VECTOR_SERIALIZED_CAPACITY", 50),
			EvictBatch:         getint("VECTOR_CACHE_EVICT_BATCH", 10),
			Preload:            getbool("VECTOR_PRELOAD", true),
			DefaultSimplify:    getfloat("VECTOR_DEFAULT_SIMPLIFY", 0),
			Watch:              getbool("VECTOR_WATCH", false),
			WatchDebounce:      getduration("VECTOR_WATCH_DEBOUNCE", 500*time.Millisecond),
		},
		RedisAddr:          strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		SharedTTL:          getduration("SHARED_CACHE_TTL", 10*time.Minute),
		SharedTTLOverrides: parseDurationMap(getenv("SHARED_CACHE_TTL_OVERRIDES", "")),
		CacheOpTimeout:     getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
	}
	cfg.Validate()
	return cfg
}

// Validate clamps values that would leave the cache unusable.
func (c *Config) Validate() {
	v := &c.Vector
	if v.Capacity < 1 {
		v.Capacity = 1
	}
	if v.SerializedCapacity < 1 {
		v.SerializedCapacity = 1
	}
	if v.EvictBatch < 1 {
		v.EvictBatch = 1
	}
	if v.EvictBatch > v.Capacity {
		v.EvictBatch = v.Capacity
	}
	if v.DefaultSimplify < 0 {
		v.DefaultSimplify = 0
	}
	if v.WatchDebounce <= 0 {
		v.WatchDebounce = 500 * time.Millisecond
	}
	if c.CacheOpTimeout <= 0 {
		c.CacheOpTimeout = 250 * time.Millisecond
	}
	if c.SharedTTL <= 0 {
		c.SharedTTL = 10 * time.Minute
	}
}

// SharedTTLFor returns the shared store TTL of a layer id.
func (c Config) SharedTTLFor(layerID string) time.Duration {
	if d, ok := c.SharedTTLOverrides[layerID]; ok && d > 0 {
		return d
	}
	return c.SharedTTL
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "bbt.gpkg/areas=5m,other.geojson/other=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	parts := strings.SplitSeq(s, ",")
	for p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
