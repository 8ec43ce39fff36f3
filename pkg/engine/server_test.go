package engine

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/getmockd/fakemesh/pkg/config"
	"github.com/getmockd/fakemesh/pkg/metrics"
	fmtls "github.com/getmockd/fakemesh/pkg/tls"
	"github.com/getmockd/fakemesh/pkg/trace"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	srv     *Server
	pki     *fmtls.PKI
	url     string
	metrics *metrics.Metrics
	done    chan error
}

func testConfig(t *testing.T, pki *fmtls.PKI) *config.ServerConfig {
	t.Helper()
	cfg := config.DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.DataDir = t.TempDir()
	cfg.CACert = pki.CACertPath
	cfg.Cert = pki.ServerCertPath
	cfg.Key = pki.ServerKeyPath
	return cfg
}

func startServer(t *testing.T, app http.Handler, mutate func(*config.ServerConfig), opts ...ServerOption) *testServer {
	t.Helper()

	pki, err := fmtls.GeneratePKI(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig(t, pki)
	if mutate != nil {
		mutate(cfg)
	}

	m := metrics.NewNop()
	srv, err := New(cfg, app, append([]ServerOption{WithMetrics(m)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	require.Equal(t, StateListening, srv.State())

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	ts := &testServer{
		srv:     srv,
		pki:     pki,
		url:     "https://" + srv.Addr().String(),
		metrics: m,
		done:    done,
	}
	t.Cleanup(func() { ts.stop(t) })
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	if ts.srv.State() == StateStopped {
		return
	}
	require.NoError(t, ts.srv.Stop(context.Background()))
	select {
	case err := <-ts.done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func (ts *testServer) client(t *testing.T, cert *fmtls.GeneratedCertificate) *http.Client {
	t.Helper()
	tlsCfg, err := ts.pki.ClientTLSConfig(cert)
	require.NoError(t, err)
	tr := &http.Transport{TLSClientConfig: tlsCfg, DisableKeepAlives: true}
	t.Cleanup(tr.CloseIdleConnections)
	return &http.Client{Transport: tr, Timeout: 10 * time.Second}
}

func pingApp(calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hel"))
		_, _ = w.Write([]byte("lo"))
	})
}

// ============================================================================
// Construction and binding
// ============================================================================

func TestNew_StartupFatality(t *testing.T) {
	t.Parallel()

	pki, err := fmtls.GeneratePKI(t.TempDir())
	require.NoError(t, err)

	corrupt := filepath.Join(t.TempDir(), "corrupt.pem")
	require.NoError(t, os.WriteFile(corrupt, []byte("garbage"), 0o600))
	missing := filepath.Join(t.TempDir(), "missing.pem")

	tests := []struct {
		name   string
		mutate func(*config.ServerConfig)
	}{
		{"missing CA", func(c *config.ServerConfig) { c.CACert = missing }},
		{"corrupt CA", func(c *config.ServerConfig) { c.CACert = corrupt }},
		{"missing cert", func(c *config.ServerConfig) { c.Cert = missing }},
		{"corrupt cert", func(c *config.ServerConfig) { c.Cert = corrupt }},
		{"missing key", func(c *config.ServerConfig) { c.Key = missing }},
		{"mismatched key", func(c *config.ServerConfig) { c.Key = pki.ClientKeyPath }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t, pki)
			tt.mutate(cfg)

			srv, err := New(cfg, pingApp(nil))
			require.Error(t, err)
			assert.Nil(t, srv)
			assert.Contains(t, err.Error(), "failed to setup TLS")
		})
	}
}

func TestNew_RequiresArguments(t *testing.T) {
	t.Parallel()

	_, err := New(nil, pingApp(nil))
	require.Error(t, err)

	_, err = New(config.DefaultServerConfig(), nil)
	require.Error(t, err)
}

func TestListen_BindFailure(t *testing.T) {
	t.Parallel()

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	pki, err := fmtls.GeneratePKI(t.TempDir())
	require.NoError(t, err)
	cfg := testConfig(t, pki)
	cfg.Port = occupied.Addr().(*net.TCPAddr).Port

	srv, err := New(cfg, pingApp(nil))
	require.NoError(t, err)

	err = srv.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind 127.0.0.1:"+strconv.Itoa(cfg.Port))
	assert.Equal(t, StateUnstarted, srv.State())
	assert.Nil(t, srv.Addr())

	require.ErrorIs(t, srv.Serve(), ErrNotListening)
	require.Error(t, srv.ListenAndServe())
	assert.Equal(t, StateUnstarted, srv.State())
}

func TestLifecycle_States(t *testing.T) {
	t.Parallel()

	ts := startServer(t, pingApp(nil), nil)
	require.ErrorIs(t, ts.srv.Listen(), ErrServerRunning)

	ts.stop(t)
	assert.Equal(t, StateStopped, ts.srv.State())
	require.ErrorIs(t, ts.srv.Listen(), ErrServerStopped)
	require.NoError(t, ts.srv.Serve())
	require.NoError(t, ts.srv.Stop(context.Background()))
}

func TestStop_Unstarted(t *testing.T) {
	t.Parallel()

	pki, err := fmtls.GeneratePKI(t.TempDir())
	require.NoError(t, err)
	srv, err := New(testConfig(t, pki), pingApp(nil))
	require.NoError(t, err)

	require.NoError(t, srv.Stop(context.Background()))
	assert.Equal(t, StateStopped, srv.State())
}

func TestStop_ListenWithoutServe(t *testing.T) {
	t.Parallel()

	pki, err := fmtls.GeneratePKI(t.TempDir())
	require.NoError(t, err)
	srv, err := New(testConfig(t, pki), pingApp(nil))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	addr := srv.Addr().String()

	require.NoError(t, srv.Stop(context.Background()))

	_, err = net.DialTimeout("tcp", addr, time.Second)
	require.Error(t, err)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unstarted", StateUnstarted.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}

// ============================================================================
// Mutual TLS
// ============================================================================

func TestMutualTLS_ValidClient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := startServer(t, pingApp(&calls), nil)

	resp, err := ts.client(t, ts.pki.Client).Get(ts.url + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HTTP/1.1", resp.Proto)
	assert.Equal(t, "hello", string(body))
	assert.EqualValues(t, 1, calls.Load())
}

func TestMutualTLS_Rejections(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := startServer(t, pingApp(&calls), nil)

	t.Run("no client certificate", func(t *testing.T) {
		_, err := ts.client(t, nil).Get(ts.url + "/ping")
		require.Error(t, err)
	})

	t.Run("certificate from unknown CA", func(t *testing.T) {
		_, err := ts.client(t, ts.pki.Rogue).Get(ts.url + "/ping")
		require.Error(t, err)
	})

	assert.Zero(t, calls.Load())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(ts.metrics.HandshakeFailures) >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMutualTLS_HandshakeIsolation(t *testing.T) {
	t.Parallel()

	const n = 8
	const bad = 3

	var calls atomic.Int32
	ts := startServer(t, pingApp(&calls), nil)

	noCertCfg, err := ts.pki.ClientTLSConfig(nil)
	require.NoError(t, err)
	good := ts.client(t, ts.pki.Client)

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i == bad {
				conn, err := tls.Dial("tcp", ts.srv.Addr().String(), noCertCfg)
				if err == nil {
					// TLS 1.3 reports the missing certificate on first read.
					_, _ = conn.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\n\r\n"))
					_, err = conn.Read(make([]byte, 1))
					_ = conn.Close()
				}
				errs[i] = err
				return
			}
			resp, err := good.Get(ts.url + "/ping")
			if err == nil {
				var body []byte
				body, err = io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				if err == nil && string(body) != "hello" {
					err = fmt.Errorf("unexpected body %q", body)
				}
			}
			errs[i] = err
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if i == bad {
			assert.Error(t, err, "connection without certificate must fail")
			continue
		}
		assert.NoError(t, err, "connection %d", i)
	}
	assert.EqualValues(t, n-1, calls.Load())

	// The listener keeps accepting.
	resp, err := ts.client(t, ts.pki.Client).Get(ts.url + "/ping")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, StateListening, ts.srv.State())
}

// ============================================================================
// Debug tracing
// ============================================================================

func TestDebugTrace_PingScenario(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	ts := startServer(t, pingApp(nil), func(c *config.ServerConfig) { c.Debug = true },
		WithTraceSink(trace.NewSink(&out)))

	req, err := http.NewRequest(http.MethodGet, ts.url+"/ping", nil)
	require.NoError(t, err)
	req.Header.Set("X-Test", "1")

	resp, err := ts.client(t, ts.pki.Client).Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "hello", string(body))

	got := out.String()
	order := []string{
		"GET /ping\n",
		"x-test: 1\n",
		"\n200 OK\n",
		"Content-Type: text/plain\n\n",
		"hello\n",
	}
	pos := 0
	for _, want := range order {
		idx := bytes.Index([]byte(got[pos:]), []byte(want))
		require.GreaterOrEqual(t, idx, 0, "missing %q after offset %d in %q", want, pos, got)
		pos += idx + len(want)
	}
	assert.Equal(t, len(got), pos, "trace ends with the trailing blank line")
}

func TestDebugTrace_Disabled(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	ts := startServer(t, pingApp(nil), nil, WithTraceSink(trace.NewSink(&out)))

	resp, err := ts.client(t, ts.pki.Client).Get(ts.url + "/ping")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Empty(t, out.String())
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestDebugTrace_SinkFailureIsolated(t *testing.T) {
	t.Parallel()

	ts := startServer(t, pingApp(nil), func(c *config.ServerConfig) { c.Debug = true },
		WithTraceSink(trace.NewSink(brokenWriter{})))

	_, err := ts.client(t, ts.pki.Client).Get(ts.url + "/ping")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.TraceSinkErrors))
	assert.Equal(t, StateListening, ts.srv.State())
}

// ============================================================================
// Graceful drain
// ============================================================================

func TestStop_DrainsInFlight(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("first,"))
		http.NewResponseController(w).Flush()
		close(started)
		<-release
		_, _ = w.Write([]byte("second"))
	})
	ts := startServer(t, app, nil)

	type result struct {
		body string
		err  error
	}
	got := make(chan result, 1)
	c := ts.client(t, ts.pki.Client)
	go func() {
		resp, err := c.Get(ts.url + "/slow")
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		got <- result{body: string(b), err: err}
	}()
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- ts.srv.Stop(context.Background()) }()

	// New connections are refused once Stop begins.
	require.Eventually(t, func() bool {
		_, err := net.DialTimeout("tcp", ts.srv.Addr().String(), 100*time.Millisecond)
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-stopped:
		t.Fatal("Stop returned while a request was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	r := <-got
	require.NoError(t, r.err)
	assert.Equal(t, "first,second", r.body)
	require.NoError(t, <-stopped)
	require.NoError(t, <-ts.done)
}

func TestStop_DrainTimeout(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	})
	ts := startServer(t, app, func(c *config.ServerConfig) { c.DrainTimeout = 50 * time.Millisecond })

	c := ts.client(t, ts.pki.Client)
	go func() {
		resp, err := c.Get(ts.url + "/hang")
		if err == nil {
			_ = resp.Body.Close()
		}
	}()
	<-started

	err := ts.srv.Stop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, <-ts.done)
}

func TestLifecycle_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pki, err := fmtls.GeneratePKI(t.TempDir())
	require.NoError(t, err)

	srv, err := New(testConfig(t, pki), pingApp(nil))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	tlsCfg, err := pki.ClientTLSConfig(pki.Client)
	require.NoError(t, err)
	tr := &http.Transport{TLSClientConfig: tlsCfg, DisableKeepAlives: true}
	resp, err := (&http.Client{Transport: tr}).Get("https://" + srv.Addr().String() + "/ping")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	tr.CloseIdleConnections()

	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, <-done)
}
