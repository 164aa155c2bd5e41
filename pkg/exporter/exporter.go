// Package exporter exposes ByteGrader queue metrics in Prometheus format.
// The exporter observes the same /queue endpoint the poller uses for
// position estimates; the numbers are observability-only and feed nothing
// back into submission or polling behavior.
package exporter

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bytegrader/bgctl/pkg/logging"
	"github.com/bytegrader/bgctl/pkg/models"
	"github.com/bytegrader/bgctl/pkg/retry"
)

// QueueSource is the slice of the grading-server client the exporter
// needs.
type QueueSource interface {
	CheckQueue(ctx context.Context, username string) (*models.QueueMetrics, error)
}

// Exporter periodically scrapes the grading server's queue counters and
// republishes them as Prometheus gauges.
type Exporter struct {
	source   QueueSource
	username string
	interval time.Duration
	logger   *logging.Logger
	retryCfg retry.Config

	queueLength   prometheus.Gauge
	activeJobs    prometheus.Gauge
	maxConcurrent prometheus.Gauge
	scrapesTotal  *prometheus.CounterVec
	lastScrape    prometheus.Gauge
}

// New creates an exporter registering its metrics with reg.
func New(source QueueSource, username string, interval time.Duration, reg prometheus.Registerer, logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.Nop()
	}
	factory := promauto.With(reg)
	return &Exporter{
		source:   source,
		username: username,
		interval: interval,
		logger:   logger,
		retryCfg: retry.Config{
			MaxRetries:     2,
			InitialBackoff: time.Second,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2.0,
		},
		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bytegrader_queue_length",
			Help: "Number of jobs waiting in the grading queue",
		}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bytegrader_active_jobs",
			Help: "Number of jobs currently being graded",
		}),
		maxConcurrent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bytegrader_max_concurrent",
			Help: "Grading concurrency limit advertised by the server",
		}),
		scrapesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bytegrader_queue_scrapes_total",
			Help: "Queue scrapes by result",
		}, []string{"result"}),
		lastScrape: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bytegrader_queue_last_scrape_timestamp_seconds",
			Help: "Unix time of the last successful queue scrape",
		}),
	}
}

// Run scrapes immediately and then on every interval until ctx is
// cancelled.
func (e *Exporter) Run(ctx context.Context) {
	e.scrape(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scrape(ctx)
		}
	}
}

func (e *Exporter) scrape(ctx context.Context) {
	var metrics *models.QueueMetrics
	err := retry.Do(ctx, e.retryCfg, func() error {
		m, err := e.source.CheckQueue(ctx, e.username)
		if err != nil {
			return err
		}
		metrics = m
		return nil
	})
	if err != nil {
		e.scrapesTotal.WithLabelValues("error").Inc()
		e.logger.Warn("queue scrape failed", map[string]interface{}{"error": err.Error()})
		return
	}

	e.queueLength.Set(float64(metrics.QueueLength))
	e.activeJobs.Set(float64(metrics.ActiveJobs))
	e.maxConcurrent.Set(float64(metrics.MaxConcurrent))
	e.lastScrape.SetToCurrentTime()
	e.scrapesTotal.WithLabelValues("success").Inc()

	e.logger.Debug("queue scraped", map[string]interface{}{
		"queue_length":   metrics.QueueLength,
		"active_jobs":    metrics.ActiveJobs,
		"max_concurrent": metrics.MaxConcurrent,
	})
}
