package serverinstr

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, h *metricsHarness, factory func() *http.Server) (*Server, string) {
	t.Helper()

	s, err := Instrument(h.provider.Meter("serverinstr-test"), factory)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()
	t.Cleanup(func() {
		_ = s.Close()
		assert.ErrorIs(t, <-served, http.ErrServerClosed)
		_ = s.Instrumentor().Close()
	})
	return s, "http://" + ln.Addr().String()
}

func TestInstrumentNilFactory(t *testing.T) {
	h := newMetricsHarness(t)
	_, err := Instrument(h.provider.Meter("test"), func() *http.Server { return nil })
	assert.Error(t, err)
}

func TestInstrumentedServerRequests(t *testing.T) {
	h := newMetricsHarness(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "hello")
	})

	s, base := startServer(t, h, func() *http.Server {
		return &http.Server{Handler: mux, ReadHeaderTimeout: time.Second}
	})

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	for _, path := range []string{"/hello", "/nope"} {
		resp, err := client.Get(base + path)
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		require.NoError(t, resp.Body.Close())
	}

	require.Eventually(t, func() bool {
		n, err := s.ConnectionCount()
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got := h.collect(t)
		for _, name := range []string{MetricConnectionsTotal, MetricConnectionsBytes, MetricRequestsHandled} {
			if _, ok := got[name]; !ok {
				return false
			}
		}
		return int64Points(t, got[MetricConnectionsTotal], "")[""] == 2 &&
			len(int64Points(t, got[MetricRequestsHandled], attrStatus)) == 2 &&
			int64Points(t, got[MetricConnectionsBytes], attrDirection)["total"] > 0
	}, 5*time.Second, 10*time.Millisecond)

	got := h.collect(t)
	assert.Equal(t, map[string]int64{"": 2}, int64Points(t, got[MetricRequestsTotal], ""))
	assert.Equal(t, map[string]int64{"200": 1, "404": 1}, int64Points(t, got[MetricRequestsHandled], attrStatus))

	bytes := int64Points(t, got[MetricConnectionsBytes], attrDirection)
	assert.Equal(t, bytes["in"]+bytes["out"], bytes["total"])
	assert.Positive(t, bytes["in"])
	assert.Positive(t, bytes["out"])
}

func TestInstrumentedServerActiveConnections(t *testing.T) {
	h := newMetricsHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var states atomic.Int32

	s, base := startServer(t, h, func() *http.Server {
		return &http.Server{
			Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				close(entered)
				<-release
				w.WriteHeader(http.StatusNoContent)
			}),
			ConnState: func(net.Conn, http.ConnState) { states.Add(1) },
		}
	})

	done := make(chan error, 1)
	go func() {
		resp, err := http.Get(base)
		if err == nil {
			resp.Body.Close()
		}
		done <- err
	}()

	<-entered
	n, err := s.ConnectionCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, activeValue(t, h.collect(t)))

	close(release)
	require.NoError(t, <-done)
	assert.Positive(t, states.Load(), "factory ConnState hook must still run")
}

func TestServerShutdownReportsNaN(t *testing.T) {
	h := newMetricsHarness(t)
	s, err := Instrument(h.provider.Meter("test"), func() *http.Server {
		return &http.Server{Handler: http.NotFoundHandler()}
	})
	require.NoError(t, err)
	defer s.Instrumentor().Close()

	n, err := s.ConnectionCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, err = s.ConnectionCount()
	assert.True(t, errors.Is(err, ErrServerClosed))
	assert.True(t, math.IsNaN(activeValue(t, h.collect(t))))

	assert.ErrorIs(t, s.ListenAndServe(), http.ErrServerClosed)
}

func TestInstrumentDefaultHandler(t *testing.T) {
	h := newMetricsHarness(t)
	s, err := Instrument(h.provider.Meter("test"), func() *http.Server { return &http.Server{} })
	require.NoError(t, err)
	defer s.Instrumentor().Close()

	assert.NotNil(t, s.Handler)
	assert.NotNil(t, s.ConnState)
}
