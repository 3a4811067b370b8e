package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/bodylimit"
	"admission-gateway/middleware/cors"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func keygenGroup() RouteGroup {
	return NewGroup("keygen", Route{
		Method:  http.MethodPost,
		Pattern: "/keygen",
		Summary: "start key generation",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := io.Copy(io.Discard, r.Body); err != nil {
				if bodylimit.IsTooLarge(err) {
					bodylimit.WriteTooLarge(w)
					return
				}
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
		}),
	})
}

func TestController_StartServesAndShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewController(testConfig(), WithLogger(quietLogger()), WithRouteGroups(keygenGroup()))
	assert.Equal(t, StateUnconfigured, c.State())
	assert.Nil(t, c.Addr())

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, StateServing, c.State())
	assert.Equal(t, []string{"bodylimit", "cors", "ratelimit"}, c.Stages())

	client := &http.Client{
		Timeout: 2 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	base := "http://" + c.Addr().String()

	resp, err := client.Get(base + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/swagger", resp.Header.Get("Location"))

	resp, err = client.Post(base+"/keygen", "application/json", strings.NewReader(`{"n":3}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelShutdown()
	require.NoError(t, c.Shutdown(shutdownCtx))
	assert.Equal(t, StateStopped, c.State())

	select {
	case err, ok := <-c.Err():
		assert.False(t, ok, "expected closed channel, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve goroutine did not exit")
	}

	assert.ErrorIs(t, c.Shutdown(shutdownCtx), ErrNotServing)
}

func TestController_SecondStartIsAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewController(testConfig(), WithLogger(quietLogger()))
	require.NoError(t, c.Start(ctx))
	defer func() { _ = c.Shutdown(context.Background()) }()

	err := c.Start(ctx)
	require.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, StateServing, c.State())

	assert.ErrorIs(t, c.Register(keygenGroup()), ErrAlreadyStarted)
}

func TestController_BindFailureIsFatal(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.Port = busy.Addr().(*net.TCPAddr).Port

	c := NewController(cfg, WithLogger(quietLogger()))
	err = c.Start(context.Background())

	require.ErrorIs(t, err, ErrBind)
	var be *BindError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(cfg.Port), be.Addr)
	assert.Equal(t, StateFailed, c.State())

	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted, "no way back from failed")
}

func TestController_InvalidConfigFailsBeforeBind(t *testing.T) {
	cfg := testConfig()
	cfg.BodyLimitBytes = 0

	listened := false
	c := NewController(cfg, WithLogger(quietLogger()), WithListenFunc(func(ctx context.Context, network, addr string) (net.Listener, error) {
		listened = true
		return nil, nil
	}))

	err := c.Start(context.Background())
	require.ErrorIs(t, err, ErrConfiguration)
	assert.False(t, listened)
	assert.Equal(t, StateFailed, c.State())
}

func TestController_InvalidRouteGroupFailsStart(t *testing.T) {
	c := NewController(testConfig(), WithLogger(quietLogger()),
		WithRouteGroups(NewGroup("bad", Route{Method: http.MethodGet, Pattern: "nope", Handler: http.NotFoundHandler()})))

	require.ErrorIs(t, c.Start(context.Background()), ErrConfiguration)
	assert.Equal(t, StateFailed, c.State())
}

func TestController_CanceledContextAfterBindFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var ln net.Listener
	c := NewController(testConfig(), WithLogger(quietLogger()), WithListenFunc(func(_ context.Context, network, addr string) (net.Listener, error) {
		var err error
		ln, err = net.Listen(network, addr)
		cancel()
		return ln, err
	}))

	require.ErrorIs(t, c.Start(ctx), context.Canceled)
	assert.Equal(t, StateFailed, c.State())

	_, err := ln.Accept()
	assert.Error(t, err, "listener closed on failure")
}

// allowList = ["example.com"], maxRequests = 3, window = 60s.
func TestController_AdmissionScenario(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	cfg := testConfig()
	cfg.CORSOrigins = cors.NewAllowedOriginSet([]string{"example.com"})
	cfg.RateLimit = domain.Config{MaxRequests: 3, Window: 60 * time.Second}

	stats := infra.NewMemoryStatsStore()
	c := NewController(cfg,
		WithLogger(quietLogger()),
		WithClock(clock.Now),
		WithStats(stats),
		WithRouteGroups(keygenGroup()),
	)
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Shutdown(context.Background()) }()
	h := c.Handler()

	send := func(origin string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/keygen", strings.NewReader("{}"))
		r.RemoteAddr = "203.0.113.5:4000"
		r.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	for i := 1; i <= 3; i++ {
		w := send("https://app.example.com")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		clock.Advance(5 * time.Second)
	}

	w := send("https://app.example.com")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "45", w.Header().Get("Retry-After"))

	// outra identidade, origem negada: sem headers CORS, mas o limite é de outra chave
	r := httptest.NewRequest(http.MethodPost, "/keygen", strings.NewReader("{}"))
	r.RemoteAddr = "198.51.100.9:4000"
	r.Header.Set("Origin", "https://evil.net")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	clock.Advance(60 * time.Second)
	assert.Equal(t, http.StatusOK, send("https://app.example.com").Code, "window reset admits again")

	assert.Equal(t, int64(1), stats.Total().Denied)
}

func TestController_OversizedBodyRejectedBeforeRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.BodyLimitBytes = 8
	cfg.RateLimit = domain.Config{MaxRequests: 1, Window: time.Minute}

	c := NewController(cfg, WithLogger(quietLogger()), WithRouteGroups(keygenGroup()))
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Shutdown(context.Background()) }()
	h := c.Handler()

	big := httptest.NewRequest(http.MethodPost, "/keygen", strings.NewReader(strings.Repeat("x", 9)))
	big.RemoteAddr = "10.0.0.1:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, big)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	exact := httptest.NewRequest(http.MethodPost, "/keygen", strings.NewReader(strings.Repeat("x", 8)))
	exact.RemoteAddr = "10.0.0.1:1"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, exact)
	assert.Equal(t, http.StatusOK, w.Code, "413 did not consume the only rate-limit slot")
}

func TestController_WildcardAllowsAnyOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigins = cors.NewAllowedOriginSet([]string{"*"})

	c := NewController(cfg, WithLogger(quietLogger()), WithRouteGroups(keygenGroup()))
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Shutdown(context.Background()) }()

	for _, origin := range []string{"", "null", "https://evil.net"} {
		r := httptest.NewRequest(http.MethodPost, "/keygen", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		c.Handler().ServeHTTP(w, r)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"), "origin %q", origin)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "serving", StateServing.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestController_StreamedBodyOverLimitIs413(t *testing.T) {
	cfg := testConfig()
	cfg.BodyLimitBytes = 10

	c := NewController(cfg, WithLogger(quietLogger()), WithRouteGroups(keygenGroup()))
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Shutdown(context.Background()) }()

	r := httptest.NewRequest(http.MethodPost, "/keygen", strings.NewReader(strings.Repeat("x", 1000)))
	r.ContentLength = -1
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestController_StatsUseRoutePatterns(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	cfg := testConfig()
	cfg.RateLimit = domain.Config{MaxRequests: 1_000_000, Window: time.Minute}

	c := NewController(cfg, WithLogger(quietLogger()), WithStats(stats), WithRouteGroups(
		keygenGroup(),
		NewGroup("p2p", Route{Method: http.MethodGet, Pattern: "/p2p/{peer}", Handler: text("peer")}),
	))
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Shutdown(context.Background()) }()
	h := c.Handler()

	for i := 0; i < 2000; i++ {
		get(t, h, http.MethodGet, "/nope-"+strconv.Itoa(i))
		get(t, h, http.MethodGet, "/p2p/peer-"+strconv.Itoa(i))
	}
	r := httptest.NewRequest(http.MethodPost, "/keygen", strings.NewReader("{}"))
	h.ServeHTTP(httptest.NewRecorder(), r)

	routes := stats.ByRoute()
	assert.Len(t, routes, 3, "got %v", routes)
	assert.Equal(t, int64(2000), routes[domain.OtherRoute].Allowed)
	assert.Equal(t, int64(2000), routes["GET /p2p/{peer}"].Allowed)
	assert.Equal(t, int64(1), routes["POST /keygen"].Allowed)
}

func TestController_JanitorOnlyRunsWhileServing(t *testing.T) {
	failed := NewController(testConfig(), WithLogger(quietLogger()),
		WithRouteGroups(NewGroup("bad", Route{Method: http.MethodGet, Pattern: "nope", Handler: http.NotFoundHandler()})))
	require.Error(t, failed.Start(context.Background()))
	assert.Nil(t, failed.memStore, "no store built when routes fail")

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	cfg := testConfig()
	cfg.Port = busy.Addr().(*net.TCPAddr).Port
	bindFailed := NewController(cfg, WithLogger(quietLogger()))
	require.ErrorIs(t, bindFailed.Start(context.Background()), ErrBind)
	require.NotNil(t, bindFailed.memStore)
	assert.False(t, bindFailed.memStore.JanitorRunning())

	c := NewController(testConfig(), WithLogger(quietLogger()))
	require.NoError(t, c.Start(context.Background()))
	require.True(t, c.memStore.JanitorRunning())

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Eventually(t, func() bool { return !c.memStore.JanitorRunning() }, 2*time.Second, 5*time.Millisecond)
}
