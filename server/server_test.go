package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-media/health"
	"github.com/saiset-co/sai-media/logger"
	"github.com/saiset-co/sai-media/types"
	"github.com/saiset-co/sai-media/utils"
)

type fakeCommands struct {
	mu       sync.Mutex
	receiver string
	content  string
	result   *types.CommandResult
	err      error
	panic    bool
}

func (c *fakeCommands) Handle(_ context.Context, receiver, content string) (*types.CommandResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.panic {
		panic("router exploded")
	}
	c.receiver, c.content = receiver, content
	return c.result, c.err
}

func (c *fakeCommands) set(fn func(c *fakeCommands)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

type fakeStore struct {
	types.Store
	mu      sync.Mutex
	status  types.CacheStatus
	cleared bool
}

func (s *fakeStore) Status() types.CacheStatus { return s.status }

func (s *fakeStore) ClearAll() (int, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = true
	return 2, 2048
}

type fixture struct {
	server   *FastHTTPServer
	commands *fakeCommands
	store    *fakeStore
	health   *health.Manager
	client   *fasthttp.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		commands: &fakeCommands{result: &types.CommandResult{Handled: true, Action: types.ActionVideo, Sent: 2}},
		store:    &fakeStore{status: types.CacheStatus{Count: 4, TotalBytes: 100, MaxBytes: 1000, MaxAgeHours: 24}},
		health:   health.NewManager("sai-media", logger.NewNop()),
		client:   &fasthttp.Client{},
	}

	router := NewRouter()
	NewAPI(f.commands, f.store, f.health, logger.NewNop()).Register(router, "/metrics", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("sai_media_up 1")
	})

	f.server = NewHTTPServer(context.Background(), &types.HTTPConfig{Host: "127.0.0.1", Port: 0, ReadTimeout: 5, WriteTimeout: 5}, router, logger.NewNop())
	require.NoError(t, f.server.Start())
	t.Cleanup(func() { _ = f.server.Stop() })

	return f
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) (int, []byte) {
	t.Helper()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://" + f.server.Addr() + path)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	require.NoError(t, f.client.DoTimeout(req, resp, 5*time.Second))
	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, fasthttp.MethodPost, PathMessages, []byte(`{"receiver":"room-1","content":"parse video https://v.douyin.com/x"}`))
	require.Equal(t, fasthttp.StatusOK, status)

	var result types.CommandResult
	require.NoError(t, utils.Unmarshal(body, &result))
	assert.True(t, result.Handled)
	assert.Equal(t, 2, result.Sent)
	f.commands.set(func(c *fakeCommands) {
		assert.Equal(t, "room-1", c.receiver)
		assert.Equal(t, "parse video https://v.douyin.com/x", c.content)
	})
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t)

	status, _ := f.do(t, fasthttp.MethodPost, PathMessages, []byte(`{not json`))
	assert.Equal(t, fasthttp.StatusBadRequest, status)

	status, _ = f.do(t, fasthttp.MethodPost, PathMessages, []byte(`{"content":"media help"}`))
	assert.Equal(t, fasthttp.StatusBadRequest, status)

	f.commands.set(func(c *fakeCommands) { c.err = types.Errorf(types.ErrMessageInvalid, "receiver is empty") })
	status, _ = f.do(t, fasthttp.MethodPost, PathMessages, []byte(`{"receiver":"r","content":"x"}`))
	assert.Equal(t, fasthttp.StatusBadRequest, status)

	f.commands.set(func(c *fakeCommands) { c.err = errors.New("sink down") })
	status, _ = f.do(t, fasthttp.MethodPost, PathMessages, []byte(`{"receiver":"r","content":"x"}`))
	assert.Equal(t, fasthttp.StatusInternalServerError, status)
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.commands.set(func(c *fakeCommands) { c.panic = true })

	status, body := f.do(t, fasthttp.MethodPost, PathMessages, []byte(`{"receiver":"r","content":"x"}`))
	assert.Equal(t, fasthttp.StatusInternalServerError, status)
	assert.Contains(t, string(body), "internal server error")

	f.commands.set(func(c *fakeCommands) { c.panic = false })
	status, _ = f.do(t, fasthttp.MethodGet, PathCacheStatus, nil)
	assert.Equal(t, fasthttp.StatusOK, status)
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, fasthttp.MethodGet, PathCacheStatus, nil)
	require.Equal(t, fasthttp.StatusOK, status)

	var cacheStatus types.CacheStatus
	require.NoError(t, utils.Unmarshal(body, &cacheStatus))
	assert.Equal(t, 4, cacheStatus.Count)

	status, body = f.do(t, fasthttp.MethodDelete, PathCache, nil)
	require.Equal(t, fasthttp.StatusOK, status)

	var cleared ClearResponse
	require.NoError(t, utils.Unmarshal(body, &cleared))
	assert.Equal(t, ClearResponse{Removed: 2, FreedBytes: 2048}, cleared)
	f.store.mu.Lock()
	assert.True(t, f.store.cleared)
	f.store.mu.Unlock()
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	f.health.RegisterChecker("http", health.Running(f.server))

	status, body := f.do(t, fasthttp.MethodGet, PathHealth, nil)
	require.Equal(t, fasthttp.StatusOK, status)

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(body, &report))
	assert.Equal(t, types.StatusHealthy, report.Status)

	f.health.RegisterChecker("broken", func(context.Context) types.HealthCheck { return types.Unhealthy("down") })
	status, _ = f.do(t, fasthttp.MethodGet, PathHealth, nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, status)
}

func TestRoutingMisses(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, fasthttp.MethodGet, "/metrics/", nil)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Equal(t, "sai_media_up 1", string(body))

	status, _ = f.do(t, fasthttp.MethodGet, "/nope", nil)
	assert.Equal(t, fasthttp.StatusNotFound, status)

	status, _ = f.do(t, fasthttp.MethodGet, PathMessages, nil)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, status)
}

func TestLifecycle(t *testing.T) {
	server := NewHTTPServer(context.Background(), &types.HTTPConfig{Host: "127.0.0.1", Port: 0}, NewRouter(), logger.NewNop())

	assert.ErrorIs(t, server.Stop(), types.ErrServerNotRunning)
	require.NoError(t, server.Start())
	assert.True(t, server.IsRunning())
	assert.ErrorIs(t, server.Start(), types.ErrServerAlreadyRunning)
	require.NoError(t, server.Stop())
	assert.False(t, server.IsRunning())
}
