package basemap

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SourceNetwork labels tiles that came from the tile server.
const SourceNetwork = "network"

type FetcherMetrics interface {
	TileFetchedInc(source string)
	TileFetchErrInc()
	TileFetchObserve(d time.Duration)
}

// Fetcher downloads and stitches the tiles covering a bound.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	cache   *Layered
	metrics FetcherMetrics
	logger  *zap.Logger
}

// NewFetcher builds a fetcher. cache, m and logger may be nil.
func NewFetcher(cfg Config, cache *Layered, m FetcherMetrics, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewLayered(logger)
	}
	return &Fetcher{
		cfg:     cfg.withDefaults(),
		client:  &http.Client{},
		cache:   cache,
		metrics: m,
		logger:  logger,
	}
}

// Fetch returns the stitched backdrop for bound. Any tile failure fails the
// whole backdrop with ErrBackdropUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, bound orb.Bound) (*Backdrop, error) {
	box := TileBox(bound, f.cfg)
	tiles := box.Tiles()
	f.logger.Info("fetching backdrop",
		zap.Uint32("zoom", uint32(box.Zoom)),
		zap.Int("tiles", len(tiles)),
		zap.Strings("cache_layers", f.cache.Names()))

	decoded := make([]image.Image, len(tiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, t := range tiles {
		i, t := i, t
		g.Go(func() error {
			img, err := f.tile(gctx, t)
			if err != nil {
				return err
			}
			decoded[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackdropUnavailable, err)
	}

	w, h := box.Size()
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, t := range tiles {
		off := box.Offset(t)
		draw.Draw(canvas, image.Rect(off.X, off.Y, off.X+TileSize, off.Y+TileSize), decoded[i], decoded[i].Bounds().Min, draw.Src)
	}
	return &Backdrop{Image: canvas, Box: box, Bound: Pad(bound, f.cfg.Margin)}, nil
}

func (f *Fetcher) tile(ctx context.Context, t maptile.Tile) (image.Image, error) {
	key := tileKey(uint32(t.Z), t.X, t.Y)
	if data, src, ok := f.cache.Lookup(ctx, key); ok {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err == nil {
			f.observeSource(src)
			return img, nil
		}
		f.logger.Warn("cached tile is corrupt, refetching", zap.String("tile", key), zap.String("layer", src), zap.Error(err))
	}

	start := time.Now()
	data, err := f.download(ctx, t)
	if f.metrics != nil {
		f.metrics.TileFetchObserve(time.Since(start))
	}
	if err != nil {
		if f.metrics != nil {
			f.metrics.TileFetchErrInc()
		}
		return nil, fmt.Errorf("tile %s: %w", key, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if f.metrics != nil {
			f.metrics.TileFetchErrInc()
		}
		return nil, fmt.Errorf("tile %s: decode: %w", key, err)
	}
	f.observeSource(SourceNetwork)
	f.cache.Store(ctx, key, data)
	return img, nil
}

func (f *Fetcher) observeSource(src string) {
	if f.metrics != nil {
		f.metrics.TileFetchedInc(src)
	}
}

// download retries transient failures with exponential backoff. Client
// errors other than 429 are not retried.
func (f *Fetcher) download(ctx context.Context, t maptile.Tile) ([]byte, error) {
	url := TileURL(f.cfg.TileURL, t)
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.cfg.RetryInitial
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(f.cfg.MaxRetries)), ctx)

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		rctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(rctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", f.cfg.UserAgent)
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}
	notify := func(err error, next time.Duration) {
		f.logger.Debug("tile fetch retry",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// TileURL fills the {z}, {x} and {y} placeholders of a tile template.
func TileURL(template string, t maptile.Tile) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	)
	return r.Replace(template)
}
