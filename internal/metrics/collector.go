package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventAttemptStarted    EventType = "attempt_started"
	EventResponseCompleted EventType = "response_completed"
	EventTransportFailed   EventType = "transport_failed"
	EventNodeExcluded      EventType = "node_excluded"
	EventNoAvailableNode   EventType = "no_available_node"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Service    string
	Target     string
	Duration   time.Duration
	StatusCode int
}

type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	prom     *promMetrics
	registry *prometheus.Registry
	logger   *slog.Logger
	done     chan struct{}
	once     sync.Once
}

type promMetrics struct {
	attempts          *prometheus.CounterVec
	responses         *prometheus.CounterVec
	transportFailures *prometheus.CounterVec
	exclusions        *prometheus.CounterVec
	noNodes           *prometheus.CounterVec
	responseTime      *prometheus.HistogramVec
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	p := &promMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "Request attempts per service and target.",
		}, []string{"service", "target"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_responses_total",
			Help: "Completed HTTP exchanges per service, target and status code.",
		}, []string{"service", "target", "code"}),
		transportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_transport_failures_total",
			Help: "Attempts that ended without an HTTP response.",
		}, []string{"service", "target"}),
		exclusions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_node_exclusions_total",
			Help: "Nodes excluded for the rest of a call after a non-200 response.",
		}, []string{"service", "target"}),
		noNodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_no_available_node_total",
			Help: "Calls that ran out of candidate nodes.",
		}, []string{"service"}),
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_response_seconds",
			Help:    "Time from send to full response body.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
	}

	reg.MustRegister(p.attempts, p.responses, p.transportFailures, p.exclusions, p.noNodes, p.responseTime)
	return p
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	registry := prometheus.NewRegistry()
	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		metrics:  NewMetrics(),
		prom:     newPromMetrics(registry),
		registry: registry,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Start runs the collector until ctx is cancelled. Done is closed once the
// remaining events have been drained.
func (c *Collector) Start(ctx context.Context) {
	c.once.Do(func() {
		go c.run(ctx)
	})
}

func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventAttemptStarted:
		c.metrics.IncrementAttempts(event.Target)
		c.prom.attempts.WithLabelValues(event.Service, event.Target).Inc()

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Target, event.Duration, event.StatusCode)
		c.prom.responses.WithLabelValues(event.Service, event.Target, strconv.Itoa(event.StatusCode)).Inc()
		c.prom.responseTime.WithLabelValues(event.Service).Observe(event.Duration.Seconds())

	case EventTransportFailed:
		c.metrics.RecordTransportFailure(event.Target)
		c.prom.transportFailures.WithLabelValues(event.Service, event.Target).Inc()

	case EventNodeExcluded:
		c.metrics.RecordExclusion(event.Target)
		c.prom.exclusions.WithLabelValues(event.Service, event.Target).Inc()

	case EventNoAvailableNode:
		c.metrics.RecordNoAvailableNode(event.Service)
		c.prom.noNodes.WithLabelValues(event.Service).Inc()
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}

// Registry exposes the Prometheus registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
