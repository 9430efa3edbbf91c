package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"geomixtrail/internal/basemap"
	"geomixtrail/internal/config"
	"geomixtrail/internal/db"
	"geomixtrail/internal/metrics"
	"geomixtrail/internal/palette"
	"geomixtrail/internal/render"
	"geomixtrail/internal/track"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const inputPostgres = "postgres"

// app carries the parsed flags and the process-wide dependencies built from
// them in PersistentPreRunE.
type app struct {
	input           string
	table           string
	schema          string
	orderBy         string
	pgDatabase      string
	profilePath     string
	pointDistance   float64
	color           string
	category        string
	palette         []string
	width           int
	height          int
	noMap           bool
	mapTransparency float64
	verbose         bool
	quiet           bool

	cfg     *config.Config
	profile *config.Profile
	log     *zap.Logger
	metrics *metrics.Collector
	stderr  io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	defaults := render.DefaultOptions()

	root := &cobra.Command{
		Use:   "geomixtrail",
		Short: "Render GPS tracks over a map as an image or a video",
		Long: `geomixtrail reads GPS samples from CSV, GPX or a Postgres table, thins each
route to a minimum point spacing and draws the routes over map tiles.

Routes can be colored by a numeric column (e.g. Speed) through a palette.
Static output is PNG, JPEG or SVG; video output is H.264 through ffmpeg.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.input, "input", "i", "", `CSV or GPX file, or "postgres" to read --table`)
	f.StringVar(&a.table, "table", "gps_points", "Postgres table holding the samples")
	f.StringVar(&a.schema, "schema", "public", "Postgres schema of --table")
	f.StringVar(&a.orderBy, "order-by", "date", "Postgres column that orders samples within the table")
	f.StringVar(&a.pgDatabase, "pg-database", "", "override the database name of the configured DSN")
	f.StringVar(&a.profilePath, "profile", "", "YAML render profile")
	f.Float64Var(&a.pointDistance, "point-distance", track.DefaultPointDistanceMeters, "minimum distance in meters between retained points")
	f.StringVar(&a.color, "color", "red", "line color (name or #rrggbb)")
	f.StringVar(&a.category, "category", "", "numeric column used to color points")
	f.StringSliceVar(&a.palette, "palette", nil, "comma-separated colors for --category (default palette if empty)")
	f.IntVar(&a.width, "width", defaults.Width, "output width in pixels")
	f.IntVar(&a.height, "height", defaults.Height, "output height in pixels")
	f.BoolVar(&a.noMap, "no-map", false, "draw on a blank background, no tiles are fetched")
	f.Float64Var(&a.mapTransparency, "map-transparency", defaults.MapTransparency, "map opacity between 0 and 1")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "development logging at debug level")
	f.BoolVarP(&a.quiet, "quiet", "q", false, "no progress bar")
	_ = root.MarkPersistentFlagRequired("input")

	root.AddCommand(newImageCmd(a), newVideoCmd(a), newInspectCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg
	a.stderr = cmd.ErrOrStderr()

	if a.log, err = newLogger(cfg.LogLevel, a.verbose); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	if a.profilePath != "" {
		prof, err := config.LoadProfile(a.profilePath)
		if err != nil {
			return err
		}
		a.profile = prof
		a.applyProfile(cmd)
		a.log.Debug("profile loaded", zap.String("path", a.profilePath))
	}

	if cfg.MetricsAddr != "" {
		a.metrics = metrics.NewCollector(a.pointDistance)
		srv := a.metrics.Serve(cfg.MetricsAddr, a.log)
		go func() {
			<-cmd.Context().Done()
			_ = srv.Close()
		}()
	}
	return nil
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

func changed(cmd *cobra.Command, name string) bool {
	fl := cmd.Flag(name)
	return fl != nil && fl.Changed
}

// applyProfile copies profile values into flags the user did not set.
func (a *app) applyProfile(cmd *cobra.Command) {
	p := a.profile
	if p.Width > 0 && !changed(cmd, "width") {
		a.width = p.Width
	}
	if p.Height > 0 && !changed(cmd, "height") {
		a.height = p.Height
	}
	if p.BgMap != nil && !changed(cmd, "no-map") {
		a.noMap = !*p.BgMap
	}
	if p.MapTransparency != nil && !changed(cmd, "map-transparency") {
		a.mapTransparency = *p.MapTransparency
	}
	if p.Color != "" && !changed(cmd, "color") {
		a.color = p.Color
	}
	if len(p.Palette) > 0 && !changed(cmd, "palette") {
		a.palette = p.Palette
	}
	if p.Category != "" && !changed(cmd, "category") {
		a.category = p.Category
	}
	if p.PointDistanceMeters != nil && !changed(cmd, "point-distance") {
		a.pointDistance = *p.PointDistanceMeters
	}
}

// loadSet reads the input, decimates it and applies the coloring flags.
func (a *app) loadSet(ctx context.Context) (*track.Set, error) {
	opts := track.DefaultOptions()
	opts.MinPointDistanceMeters = a.pointDistance
	opts.Logger = a.log
	if a.color != "" {
		c, err := palette.Parse(a.color)
		if err != nil {
			return nil, fmt.Errorf("%w: --color: %v", track.ErrInvalidInput, err)
		}
		opts.DefaultColor = c
	}

	var (
		set *track.Set
		err error
	)
	if strings.EqualFold(a.input, inputPostgres) {
		set, err = a.loadPostgres(ctx, opts)
	} else {
		set, err = track.Load(a.input, opts)
	}
	if err != nil {
		return nil, err
	}

	if a.category != "" {
		pal := palette.Default()
		if len(a.palette) > 0 {
			if pal, err = palette.ParseAll(a.palette); err != nil {
				return nil, fmt.Errorf("%w: --palette: %v", track.ErrInvalidInput, err)
			}
		}
		if err := set.SetColorsByCategory(a.category, pal); err != nil {
			return nil, err
		}
	}
	if a.metrics != nil {
		a.metrics.ObserveSet(set.SampleCount(), set.TotalPoints(), set.Len())
	}
	a.log.Info("tracks loaded",
		zap.String("input", a.input),
		zap.Int("samples", set.SampleCount()),
		zap.Int("routes", set.Len()),
		zap.Int("points", set.TotalPoints()),
		zap.Float64("point_distance_m", set.MinPointDistance()))
	return set, nil
}

func (a *app) loadPostgres(ctx context.Context, opts track.Options) (*track.Set, error) {
	dsn, err := a.cfg.RequireDatabase()
	if err != nil {
		return nil, err
	}
	if a.pgDatabase != "" {
		if dsn, err = db.WithDBName(dsn, a.pgDatabase); err != nil {
			return nil, fmt.Errorf("compose DSN: %w", err)
		}
	}
	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	src := db.Source{Schema: a.schema, Table: a.table, OrderBy: a.orderBy}
	if a.category != "" {
		src.Columns = []string{a.category}
	}
	samples, err := db.FetchSamples(ctx, pool, src)
	if err != nil {
		return nil, err
	}
	return track.FromSamples(samples, opts)
}

// renderOptions builds renderer options from the flags and environment.
// The returned cleanup releases caches and connections.
func (a *app) renderOptions() (render.Options, func()) {
	opts := render.DefaultOptions()
	opts.Width, opts.Height = a.width, a.height
	opts.BgMap = !a.noMap
	opts.MapTransparency = a.mapTransparency
	opts.MapConfig = a.mapConfig()
	opts.NewEncoder = render.FFmpeg(a.cfg.FFmpegPath)
	opts.Logger = a.log
	if a.metrics != nil {
		opts.Metrics = renderMetrics{a.metrics}
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if opts.BgMap {
		cache, closeCache := a.tileCache()
		closers = append(closers, closeCache)
		opts.Backdrop = basemap.NewFetcher(opts.MapConfig, cache, wrapFetcherMetrics(a.metrics), a.log)
	}
	return opts, cleanup
}

func (a *app) mapConfig() basemap.Config {
	mc := basemap.DefaultConfig()
	mc.TileURL = a.cfg.TileURL
	mc.UserAgent = a.cfg.TileUserAgent
	mc.MaxZoom = a.cfg.MapMaxZoom
	mc.MaxTiles = a.cfg.MapMaxTiles
	mc.Concurrency = a.cfg.TileConcurrency
	mc.Timeout = a.cfg.TileTimeout
	mc.MaxRetries = a.cfg.TileMaxRetries
	return mc
}

// tileCache stacks memory, Redis and disk caches; Redis and disk only when
// configured.
func (a *app) tileCache() (*basemap.Layered, func()) {
	layers := []basemap.Layer{{Name: "memory", Cache: basemap.NewMemoryCache()}}
	closeFn := func() {}
	if rc := basemap.NewRedisCache(a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.TileCacheTTL); rc != nil {
		layers = append(layers, basemap.Layer{Name: "redis", Cache: rc})
		closeFn = func() {
			if err := rc.Close(); err != nil {
				a.log.Debug("redis close", zap.Error(err))
			}
		}
	}
	if a.cfg.TileCacheDir != "" {
		layers = append(layers, basemap.Layer{Name: "disk", Cache: basemap.NewDirCache(a.cfg.TileCacheDir)})
	}
	l := basemap.NewLayered(a.log, layers...)
	a.log.Debug("tile cache", zap.Strings("layers", l.Names()))
	return l, closeFn
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, track.ErrInvalidInput), errors.Is(err, track.ErrParse),
		errors.Is(err, palette.ErrUnknownColor):
		return 2
	case errors.Is(err, basemap.ErrBackdropUnavailable):
		return 3
	case errors.Is(err, render.ErrRender), errors.Is(err, render.ErrEncoding), errors.Is(err, render.ErrIO):
		return 4
	}
	return 1
}
