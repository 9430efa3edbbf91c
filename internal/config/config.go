package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	TileURL         string
	TileUserAgent   string
	TileCacheDir    string
	TileConcurrency int
	TileTimeout     time.Duration
	TileMaxRetries  int
	MapMaxZoom      int
	MapMaxTiles     int
	RedisAddr       string
	RedisPassword   string
	TileCacheTTL    time.Duration
	DatabaseURL     string
	NATSURL         string
	NATSSubject     string
	LogNATSSubjects bool
	MetricsAddr     string
	FFmpegPath      string
	LogLevel        string
}

const DefaultTileURL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		TileURL:       getenvDefault("TILE_URL", DefaultTileURL),
		TileUserAgent: getenvDefault("TILE_USER_AGENT", "geomixtrail/0.1"),
		TileCacheDir:  os.Getenv("TILE_CACHE_DIR"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		NATSURL:       os.Getenv("NATS_URL"),
		NATSSubject:   getenvDefault("NATS_SUBJECT_PREFIX", "geomixtrail.render"),
		MetricsAddr:   os.Getenv("METRICS_ADDR"),
		FFmpegPath:    getenvDefault("FFMPEG_PATH", "ffmpeg"),
		LogLevel:      strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
	}
	if !strings.Contains(cfg.TileURL, "{z}") || !strings.Contains(cfg.TileURL, "{x}") || !strings.Contains(cfg.TileURL, "{y}") {
		return nil, fmt.Errorf("invalid TILE_URL: %q (needs {z}, {x} and {y})", cfg.TileURL)
	}

	var err error
	if cfg.TileConcurrency, err = positiveInt("TILE_FETCH_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	ms, err := positiveInt("TILE_TIMEOUT_MS", 10000)
	if err != nil {
		return nil, err
	}
	cfg.TileTimeout = time.Duration(ms) * time.Millisecond

	if v := os.Getenv("TILE_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid TILE_MAX_RETRIES: %q", v)
		}
		cfg.TileMaxRetries = n
	} else {
		cfg.TileMaxRetries = 3
	}

	if cfg.MapMaxZoom, err = positiveInt("MAP_MAX_ZOOM", 18); err != nil {
		return nil, err
	}
	if cfg.MapMaxZoom > 22 {
		return nil, fmt.Errorf("invalid MAP_MAX_ZOOM: %d (max 22)", cfg.MapMaxZoom)
	}
	if cfg.MapMaxTiles, err = positiveInt("MAP_MAX_TILES", 16); err != nil {
		return nil, err
	}
	sec, err := positiveInt("TILE_CACHE_TTL_SEC", 7*24*3600)
	if err != nil {
		return nil, err
	}
	cfg.TileCacheTTL = time.Duration(sec) * time.Second

	// Postgres source: prefer DATABASE_URL / PG_DSN, else build from PG* vars when PGDATABASE is set
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	cfg.DatabaseURL = dsn

	// Debug logging for NATS progress subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q", cfg.LogLevel)
	}
	return cfg, nil
}

// RequireDatabase returns the DSN or an error naming the variables to set.
func (c *Config) RequireDatabase() (string, error) {
	if c.DatabaseURL == "" {
		return "", errors.New("DATABASE_URL, PG_DSN or PGDATABASE must be set to read from postgres")
	}
	return c.DatabaseURL, nil
}

func positiveInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("%", "%25", "@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
