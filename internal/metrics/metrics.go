package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Collector struct {
	reg *prometheus.Registry

	SamplesLoaded prometheus.Counter
	PointsKept    prometheus.Counter
	Routes        prometheus.Gauge

	TilesFetched  *prometheus.CounterVec // source label: memory|redis|disk|network
	TileFetchErrs prometheus.Counter

	FramesEncoded prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TileFetchDuration prometheus.Histogram
	RenderDuration    *prometheus.HistogramVec // kind label: image|video
	PublishDuration   prometheus.Histogram

	PointDistance prometheus.Gauge // meters
}

func NewCollector(pointDistance float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		SamplesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geomixtrail_samples_loaded_total",
			Help: "Total input samples read.",
		}),
		PointsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geomixtrail_points_kept_total",
			Help: "Total points retained after decimation.",
		}),
		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geomixtrail_routes",
			Help: "Number of routes in the current track set.",
		}),
		TilesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geomixtrail_tiles_fetched_total",
			Help: "Map tiles obtained, by source.",
		}, []string{"source"}),
		TileFetchErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geomixtrail_tile_fetch_errors_total",
			Help: "Total failed tile downloads after retries.",
		}),
		FramesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geomixtrail_frames_encoded_total",
			Help: "Total video frames sent to the encoder.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geomixtrail_nats_published_total",
			Help: "Total NATS progress events published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geomixtrail_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geomixtrail_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TileFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geomixtrail_tile_fetch_duration_seconds",
			Help:    "Duration of a single tile download including retries.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		RenderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geomixtrail_render_duration_seconds",
			Help:    "Duration of a complete render.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"kind"}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geomixtrail_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PointDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geomixtrail_point_distance_meters",
			Help: "Minimum distance between retained points.",
		}),
	}

	reg.MustRegister(
		c.SamplesLoaded, c.PointsKept, c.Routes,
		c.TilesFetched, c.TileFetchErrs, c.FramesEncoded,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TileFetchDuration, c.RenderDuration, c.PublishDuration,
		c.PointDistance,
	)

	c.PointDistance.Set(pointDistance)

	return c
}

// ObserveSet records the size of a loaded track set.
func (c *Collector) ObserveSet(samples, points, routes int) {
	c.SamplesLoaded.Add(float64(samples))
	c.PointsKept.Add(float64(points))
	c.Routes.Set(float64(routes))
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	return srv
}
