package main

import (
	"time"

	"geomixtrail/internal/basemap"
	"geomixtrail/internal/metrics"
	"geomixtrail/internal/publisher"
)

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func wrapFetcherMetrics(c *metrics.Collector) basemap.FetcherMetrics {
	if c == nil {
		return nil
	}
	return fetchMetrics{c}
}

type fetchMetrics struct{ c *metrics.Collector }

func (f fetchMetrics) TileFetchedInc(source string)     { f.c.TilesFetched.WithLabelValues(source).Inc() }
func (f fetchMetrics) TileFetchErrInc()                 { f.c.TileFetchErrs.Inc() }
func (f fetchMetrics) TileFetchObserve(d time.Duration) { f.c.TileFetchDuration.Observe(d.Seconds()) }

type renderMetrics struct{ c *metrics.Collector }

func (r renderMetrics) FramesAdd(n int) { r.c.FramesEncoded.Add(float64(n)) }
func (r renderMetrics) RenderObserve(kind string, d time.Duration) {
	r.c.RenderDuration.WithLabelValues(kind).Observe(d.Seconds())
}
