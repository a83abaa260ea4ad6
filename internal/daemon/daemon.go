// Package daemon runs the procmeterd HTTP service with process and server
// metrics attached.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bc-dunia/procmeter/internal/config"
	"github.com/bc-dunia/procmeter/internal/otel"
	"github.com/bc-dunia/procmeter/internal/procmetrics"
	"github.com/bc-dunia/procmeter/internal/serverinstr"
)

const (
	maxEchoBytes = 1 << 20
	maxSlowDelay = 30 * time.Second
)

// Option configures a Daemon.
type Option func(*Daemon)

// WithMetricOptions passes extra options to the meter provider, such as an
// additional reader.
func WithMetricOptions(opts ...sdkmetric.Option) Option {
	return func(d *Daemon) {
		d.metricOpts = append(d.metricOpts, opts...)
	}
}

// Daemon owns the telemetry providers and the instrumented HTTP server.
type Daemon struct {
	cfg        *config.Config
	logger     *zap.Logger
	metricOpts []sdkmetric.Option

	metrics *otel.Metrics
	tracer  *otel.Tracer
	process *procmetrics.Registration
	server  *serverinstr.Server

	mu       sync.Mutex
	listener net.Listener
	addr     string
	done     chan error
}

// New sets up telemetry and builds the server. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Daemon{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	d.metrics, err = otel.NewMetrics(ctx, cfg.OTelMetrics(), d.metricOpts...)
	if err != nil {
		return nil, err
	}
	otel.SetGlobalMetrics(d.metrics)

	d.tracer, err = otel.NewTracer(ctx, cfg.OTelTracing())
	if err != nil {
		return nil, multierr.Append(err, d.metrics.Shutdown(ctx))
	}
	otel.SetGlobalTracer(d.tracer)

	d.process, err = procmetrics.Register(d.metrics.Meter(),
		procmetrics.WithLogger(logger.Named("procmetrics")),
		procmetrics.WithProbePaths(cfg.ProbePaths()),
	)
	if err != nil {
		return nil, multierr.Combine(err, d.tracer.Shutdown(ctx), d.metrics.Shutdown(ctx))
	}

	d.server, err = serverinstr.Instrument(d.metrics.Meter(), d.newHTTPServer,
		serverinstr.WithLogger(logger.Named("serverinstr")),
	)
	if err != nil {
		return nil, multierr.Combine(err, d.process.Unregister(), d.tracer.Shutdown(ctx), d.metrics.Shutdown(ctx))
	}

	return d, nil
}

func (d *Daemon) newHTTPServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("POST /echo", handleEcho)
	mux.HandleFunc("GET /slow", handleSlow)
	if h := d.metrics.Handler(); h != nil {
		mux.Handle("GET /metrics", h)
	}

	return &http.Server{
		Addr:              d.cfg.Listen,
		Handler:           otel.Middleware(d.tracer)(d.logRequests(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(d.logger.Named("http")),
	}
}

// Start listens on the configured address and serves in the background.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.listener != nil {
		return errors.New("daemon already started")
	}

	ln, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Listen, err)
	}
	d.listener = ln
	d.addr = ln.Addr().String()
	d.done = make(chan error, 1)

	go func() {
		err := d.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		d.done <- err
	}()

	d.logger.Info("listening",
		zap.String("addr", d.addr),
		zap.Bool("open_fds", d.process.Capabilities.OpenFDs),
		zap.Bool("proc_status", d.process.Capabilities.ProcStatus),
		zap.Bool("metrics_export", d.metrics.Enabled()),
		zap.Bool("tracing_export", d.tracer.Enabled()),
	)
	return nil
}

// Done delivers the serve error, nil after a clean stop. It is nil before
// Start.
func (d *Daemon) Done() <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Stop drains connections, detaches callbacks and flushes telemetry.
func (d *Daemon) Stop(ctx context.Context) error {
	err := d.server.Shutdown(ctx)
	err = multierr.Append(err, d.server.Instrumentor().Close())
	err = multierr.Append(err, d.process.Unregister())
	err = multierr.Append(err, d.tracer.Shutdown(ctx))
	err = multierr.Append(err, d.metrics.Shutdown(ctx))
	return err
}

// Addr returns the bound listen address once started.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// URL returns the base HTTP URL once started.
func (d *Daemon) URL() string {
	addr := d.Addr()
	if addr == "" {
		return ""
	}
	return "http://" + addr
}

func (d *Daemon) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		if ce := d.logger.Check(zap.DebugLevel, "request"); ce != nil {
			traceID, _ := otel.TraceIDs(r.Context())
			ce.Write(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("trace_id", traceID),
			)
		}
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func handleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEchoBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}

// handleSlow waits for ?delay= before answering. A client that disconnects
// first gets no response at all.
func handleSlow(w http.ResponseWriter, r *http.Request) {
	delay := 500 * time.Millisecond
	if v := r.URL.Query().Get("delay"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || parsed > maxSlowDelay {
			http.Error(w, "invalid delay", http.StatusBadRequest)
			return
		}
		delay = parsed
	}

	if !sleepWithContext(r.Context(), delay) {
		return
	}
	_, _ = io.WriteString(w, "done\n")
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
