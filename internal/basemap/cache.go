package basemap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache stores encoded tile bytes by "z/x/y" key. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
}

func tileKey(z, x, y uint32) string { return fmt.Sprintf("%d/%d/%d", z, x, y) }

// MemoryCache keeps tiles for the life of the process.
type MemoryCache struct {
	m sync.Map
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.m.Load(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, data []byte) error {
	c.m.Store(key, data)
	return nil
}

// RedisCache shares tiles between runs and hosts.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache returns nil when addr is empty.
func NewRedisCache(addr, password string, ttl time.Duration) *RedisCache {
	if addr == "" {
		return nil
	}
	return NewRedisCacheFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), ttl)
}

func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "geomixtrail:tile:", ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, data []byte) error {
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

// DirCache mirrors the tile server layout on disk: root/z/x/y.
type DirCache struct {
	root string
}

func NewDirCache(root string) *DirCache { return &DirCache{root: root} }

func (c *DirCache) path(key string) string { return filepath.Join(c.root, filepath.FromSlash(key)) }

func (c *DirCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(c.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *DirCache) Put(_ context.Context, key string, data []byte) error {
	p := c.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tile-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Layer is a named cache inside a Layered stack.
type Layer struct {
	Name  string
	Cache Cache
}

// Layered looks caches up fastest first and backfills the faster layers on a
// hit further down. Cache failures are logged and treated as misses.
type Layered struct {
	layers []Layer
	logger *zap.Logger
}

// NewLayered drops layers whose cache is nil.
func NewLayered(logger *zap.Logger, layers ...Layer) *Layered {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Layered{logger: logger}
	for _, ly := range layers {
		if ly.Cache == nil || isNilCache(ly.Cache) {
			continue
		}
		l.layers = append(l.layers, ly)
	}
	return l
}

func isNilCache(c Cache) bool {
	switch v := c.(type) {
	case *RedisCache:
		return v == nil
	case *DirCache:
		return v == nil
	case *MemoryCache:
		return v == nil
	}
	return false
}

// Names lists the active layers in lookup order.
func (l *Layered) Names() []string {
	out := make([]string, len(l.layers))
	for i, ly := range l.layers {
		out[i] = ly.Name
	}
	return out
}

// Lookup returns the tile and the name of the layer that had it.
func (l *Layered) Lookup(ctx context.Context, key string) ([]byte, string, bool) {
	for i, ly := range l.layers {
		data, ok, err := ly.Cache.Get(ctx, key)
		if err != nil {
			l.logger.Warn("tile cache read failed", zap.String("layer", ly.Name), zap.String("tile", key), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		for _, up := range l.layers[:i] {
			l.put(ctx, up, key, data)
		}
		return data, ly.Name, true
	}
	return nil, "", false
}

// Store writes the tile to every layer.
func (l *Layered) Store(ctx context.Context, key string, data []byte) {
	for _, ly := range l.layers {
		l.put(ctx, ly, key, data)
	}
}

func (l *Layered) put(ctx context.Context, ly Layer, key string, data []byte) {
	if err := ly.Cache.Put(ctx, key, data); err != nil {
		l.logger.Warn("tile cache write failed", zap.String("layer", ly.Name), zap.String("tile", key), zap.Error(err))
	}
}
