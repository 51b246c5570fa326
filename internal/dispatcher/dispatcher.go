package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/angeloszaimis/dispatcher/config"
	"github.com/angeloszaimis/dispatcher/internal/eventlog"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
	"github.com/angeloszaimis/dispatcher/internal/transport"
)

var (
	// ErrNoAvailableNodes is returned when load balancing finds no
	// candidate node before any attempt produced a response.
	ErrNoAvailableNodes = errors.New("no available node")

	// ErrNoBalancer is returned by New when load balancing is enabled but
	// no Balancer was supplied.
	ErrNoBalancer = errors.New("client load balancing enabled without a balancer")

	// ErrNoGateway is returned by New when load balancing is disabled and
	// the gateway is empty.
	ErrNoGateway = errors.New("gateway required when client load balancing is disabled")
)

// Balancer picks the next node of a service, skipping except. It returns
// "" when no candidate remains.
type Balancer interface {
	GetTarget(ctx context.Context, serviceName string, except map[string]struct{}) (string, error)
}

type Dispatcher struct {
	gateway     string
	tryTimes    int
	loadBalance bool
	nodeScheme  string

	transport transport.Transport
	events    eventlog.Logger
	balancer  Balancer
	logger    *slog.Logger
	collector *metrics.Collector
}

type Option func(*Dispatcher)

func WithLoadBalancer(b Balancer) Option {
	return func(d *Dispatcher) { d.balancer = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dispatcher) { d.collector = c }
}

func New(cfg config.DispatchConfig, t transport.Transport, events eventlog.Logger, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		gateway:     strings.TrimRight(strings.TrimSpace(cfg.Gateway), "/"),
		tryTimes:    config.ClampTryTimes(cfg.TryTimes),
		loadBalance: cfg.ClientLoadBalance,
		nodeScheme:  cfg.NodeScheme,
		transport:   t,
		events:      events,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.nodeScheme == "" {
		d.nodeScheme = "http"
	}
	if d.events == nil {
		d.events = eventlog.Nop{}
	}
	if d.loadBalance && d.balancer == nil {
		return nil, ErrNoBalancer
	}
	if !d.loadBalance && d.gateway == "" {
		return nil, ErrNoGateway
	}

	return d, nil
}

// TryTimes is the effective attempt limit after clamping.
func (d *Dispatcher) TryTimes() int {
	return d.tryTimes
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeNodeFailure
	outcomeTransportError
)

type outcome struct {
	kind       outcomeKind
	statusCode int
	body       string
	err        error
}

func classify(res transport.Response, err error) outcome {
	switch {
	case err != nil:
		return outcome{kind: outcomeTransportError, err: err}
	case res.StatusCode == http.StatusOK:
		return outcome{kind: outcomeSuccess, statusCode: res.StatusCode, body: res.Body}
	default:
		return outcome{kind: outcomeNodeFailure, statusCode: res.StatusCode, body: res.Body}
	}
}

// PerformRequest sends method entrance to serviceName, retrying up to the
// configured number of attempts. See the package documentation for what
// is returned.
func (d *Dispatcher) PerformRequest(ctx context.Context, serviceName, method, entrance string, opts transport.Options) (string, error) {
	requestID := uuid.NewString()
	except := make(map[string]struct{})
	path := formatEntrance(entrance)

	var (
		lastBody  string
		responded bool
	)

	for attempt := 1; attempt <= d.tryTimes; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastBody, err
		}

		node, base, err := d.selectTarget(ctx, serviceName, except)
		if err != nil {
			d.logger.Error("Registry unavailable",
				slog.String("service", serviceName),
				slog.String("request_id", requestID),
				slog.Any("err", err))
			return "", err
		}

		if base == "" {
			d.emit(metrics.MetricEvent{Type: metrics.EventNoAvailableNode, Service: serviceName})
			d.logger.Warn("No available node",
				slog.String("service", serviceName),
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt),
				slog.Int("excluded", len(except)))
			if responded {
				return lastBody, nil
			}
			return "", errors.Wrapf(ErrNoAvailableNodes, "service %q", serviceName)
		}

		event := eventlog.Event{
			Action:    eventlog.ActionRequest,
			RequestID: requestID,
			Service:   serviceName,
			Attempt:   attempt,
			Method:    method,
			URL:       base + path,
			Options:   opts,
		}
		d.events.Write(event)
		d.emit(metrics.MetricEvent{Type: metrics.EventAttemptStarted, Service: serviceName, Target: base})

		start := time.Now()
		res, err := d.transport.Send(ctx, method, event.URL, opts)
		out := classify(res, err)
		elapsed := time.Since(start)

		if out.kind == outcomeTransportError {
			event.Action = eventlog.ActionHTTPException
			event.ExceptionMessage = out.err.Error()
			event.ExceptionTrace = fmt.Sprintf("%+v", out.err)
			d.events.Write(event)
			d.emit(metrics.MetricEvent{Type: metrics.EventTransportFailed, Service: serviceName, Target: base, Duration: elapsed})
			d.logger.Warn("Request attempt failed",
				slog.String("service", serviceName),
				slog.String("url", event.URL),
				slog.Int("attempt", attempt),
				slog.Any("err", out.err))
			continue
		}

		event.Action = eventlog.ActionResponse
		event.StatusCode = out.statusCode
		event.Body = out.body
		d.events.Write(event)
		d.emit(metrics.MetricEvent{
			Type:       metrics.EventResponseCompleted,
			Service:    serviceName,
			Target:     base,
			Duration:   elapsed,
			StatusCode: out.statusCode,
		})

		lastBody = out.body
		responded = true

		if out.kind == outcomeSuccess {
			break
		}

		d.logger.Debug("Non-success response",
			slog.String("service", serviceName),
			slog.String("url", event.URL),
			slog.Int("status", out.statusCode),
			slog.Int("attempt", attempt))

		if d.loadBalance {
			except[node] = struct{}{}
			d.emit(metrics.MetricEvent{Type: metrics.EventNodeExcluded, Service: serviceName, Target: base})
		}
	}

	return lastBody, nil
}

// selectTarget returns the raw node as known to the registry and the
// normalized base URL to send to. An empty base means no candidate.
func (d *Dispatcher) selectTarget(ctx context.Context, serviceName string, except map[string]struct{}) (string, string, error) {
	if !d.loadBalance {
		return d.gateway, d.gateway, nil
	}

	node, err := d.balancer.GetTarget(ctx, serviceName, except)
	if err != nil || node == "" {
		return "", "", err
	}

	return node, formatNode(node, d.nodeScheme), nil
}

func (d *Dispatcher) emit(event metrics.MetricEvent) {
	if d.collector == nil {
		return
	}

	event.Timestamp = time.Now()
	select {
	case d.collector.EventChannel() <- event:
	default:
	}
}

func formatNode(node, scheme string) string {
	node = strings.TrimSpace(node)
	if !strings.Contains(node, "://") {
		node = scheme + "://" + node
	}
	return strings.TrimRight(node, "/")
}

func formatEntrance(entrance string) string {
	return "/" + strings.TrimLeft(entrance, "/ \t\n\r\x00\x0b")
}
