// Package serverinstr meters an HTTP server: accepted and active connections,
// bytes moved per connection, and the outcome of every request.
package serverinstr

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Instrument names.
const (
	MetricConnectionsActive = "server.connections.active"
	MetricConnectionsTotal  = "server.connections.total"
	MetricConnectionsBytes  = "server.connections.bytes"
	MetricRequestsTotal     = "server.requests.total"
	MetricRequestsHandled   = "application.requests.total"
)

// StatusClientClosedRequest is recorded for requests whose response headers
// were never sent.
const StatusClientClosedRequest = 499

const (
	attrDirection = "direction"
	attrStatus    = "status"
)

// ErrServerClosed is returned by ConnectionCount once the server has stopped.
var ErrServerClosed = errors.New("serverinstr: server closed")

// ConnectionCounter reports how many connections a server currently holds.
type ConnectionCounter interface {
	ConnectionCount() (int, error)
}

var (
	directionIn    = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrDirection, "in")))
	directionOut   = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrDirection, "out")))
	directionTotal = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrDirection, "total")))
)

// Option configures an Instrumentor.
type Option func(*Instrumentor)

// WithLogger sets the logger for enumeration failures.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Instrumentor) {
		i.logger = logger
	}
}

// Instrumentor owns the connection and request instruments of one server.
// Per-connection and per-request state lives on the wrapped objects, so an
// Instrumentor is safe for concurrent use.
type Instrumentor struct {
	logger *zap.Logger

	connsTotal metric.Int64Counter
	connsBytes metric.Int64Counter
	requests   metric.Int64Counter
	handled    metric.Int64Counter
	active     metric.Float64ObservableUpDownCounter

	reg metric.Registration
}

// New declares the server instruments on meter. The active connection count
// is read from counter on every collection.
func New(meter metric.Meter, counter ConnectionCounter, opts ...Option) (*Instrumentor, error) {
	if counter == nil {
		return nil, errors.New("connection counter is required")
	}

	i := &Instrumentor{}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = zap.NewNop()
	}

	var err error
	i.connsTotal, err = meter.Int64Counter(MetricConnectionsTotal,
		metric.WithUnit("{connection}"),
		metric.WithDescription("Number of connections accepted by the server"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", MetricConnectionsTotal, err)
	}

	i.connsBytes, err = meter.Int64Counter(MetricConnectionsBytes,
		metric.WithUnit("By"),
		metric.WithDescription("Bytes transferred over closed connections"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", MetricConnectionsBytes, err)
	}

	i.requests, err = meter.Int64Counter(MetricRequestsTotal,
		metric.WithUnit("{request}"),
		metric.WithDescription("Number of requests received"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", MetricRequestsTotal, err)
	}

	i.handled, err = meter.Int64Counter(MetricRequestsHandled,
		metric.WithUnit("{request}"),
		metric.WithDescription("Number of requests completed, by response status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", MetricRequestsHandled, err)
	}

	i.active, err = meter.Float64ObservableUpDownCounter(MetricConnectionsActive,
		metric.WithUnit("{connection}"),
		metric.WithDescription("Number of connections currently open"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", MetricConnectionsActive, err)
	}

	i.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		n, err := counter.ConnectionCount()
		if err != nil {
			i.logger.Debug("connection count unavailable", zap.Error(err))
			o.ObserveFloat64(i.active, math.NaN())
			return nil
		}
		o.ObserveFloat64(i.active, float64(n))
		return nil
	}, i.active)
	if err != nil {
		return nil, fmt.Errorf("failed to register active connections callback: %w", err)
	}

	return i, nil
}

// Close detaches the active connection callback. Synchronous counters keep
// working.
func (i *Instrumentor) Close() error {
	if i.reg == nil {
		return nil
	}
	err := i.reg.Unregister()
	i.reg = nil
	return err
}

func (i *Instrumentor) connectionAccepted() {
	i.connsTotal.Add(context.Background(), 1)
}

func (i *Instrumentor) connectionClosed(in, out int64) {
	ctx := context.Background()
	i.connsBytes.Add(ctx, in, directionIn)
	i.connsBytes.Add(ctx, out, directionOut)
	i.connsBytes.Add(ctx, in+out, directionTotal)
}

func (i *Instrumentor) requestReceived(ctx context.Context) {
	i.requests.Add(ctx, 1)
}

func (i *Instrumentor) requestHandled(ctx context.Context, status int) {
	i.handled.Add(ctx, 1, metric.WithAttributes(attribute.Int(attrStatus, status)))
}
