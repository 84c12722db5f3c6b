package resolver

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-media/cache"
	"github.com/saiset-co/sai-media/logger"
	"github.com/saiset-co/sai-media/types"
)

func newUpstream(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()

	var hits atomic.Int32
	var lastURL atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		lastURL.Store(r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, &hits, &lastURL
}

func newTestClient(endpoint string, responseCache types.ResponseCache, breaker *types.CircuitBreakerConfig) *Client {
	if responseCache == nil {
		responseCache = cache.NewNop()
	}
	return New(Config{
		VideoEndpoint: endpoint,
		ImageEndpoint: endpoint,
		Timeout:       2 * time.Second,
		CacheTTL:      time.Minute,
	}, responseCache, breaker, logger.NewNop(), nil)
}

func TestResolveVideo(t *testing.T) {
	srv, _, lastURL := newUpstream(t, http.StatusOK, `{"code":200,"msg":"ok","data":{"title":"Cat video","author":"","url":"https://cdn.example.com/v.mp4","music_url":"https://cdn.example.com/m.mp3"}}`)

	c := newTestClient(srv.URL+"/api/video", nil, nil)

	info, err := c.ResolveVideo(context.Background(), "https://v.douyin.com/abc?x=1&y=2")
	require.NoError(t, err)

	assert.Equal(t, "https://v.douyin.com/abc?x=1&y=2", lastURL.Load())
	assert.Equal(t, "Douyin", info.Platform)
	assert.Equal(t, "Cat video", info.Title)
	assert.Equal(t, types.PlaceholderAuthor, info.Author)
	assert.Equal(t, "https://cdn.example.com/v.mp4", info.URL)
	assert.Equal(t, types.PlaceholderPreview, info.PreviewImage)
	assert.Equal(t, "https://cdn.example.com/m.mp3", info.MusicURL)
	assert.True(t, info.HasMediaURL())
}

func TestResolveVideoWithoutURL(t *testing.T) {
	srv, _, _ := newUpstream(t, http.StatusOK, `{"code":200,"data":{"title":"t"}}`)

	info, err := newTestClient(srv.URL, nil, nil).ResolveVideo(context.Background(), "https://b23.tv/x")
	require.NoError(t, err)

	assert.Equal(t, "Bilibili", info.Platform)
	assert.False(t, info.HasMediaURL())
}

func TestResolveGalleryImageShapes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		images []string
	}{
		{"list", `{"code":200,"data":{"author":"ann","images":["https://i/1.jpg"," ","https://i/2.jpg"]}}`, []string{"https://i/1.jpg", "https://i/2.jpg"}},
		{"single", `{"code":200,"data":{"author":"ann","images":"https://i/only.jpg"}}`, []string{"https://i/only.jpg"}},
		{"missing", `{"code":200,"data":{"author":"ann"}}`, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newUpstream(t, http.StatusOK, tt.body)

			info, err := newTestClient(srv.URL, nil, nil).ResolveGallery(context.Background(), "https://www.xiaohongshu.com/explore/1")
			require.NoError(t, err)

			assert.Equal(t, "Xiaohongshu", info.Platform)
			assert.Equal(t, "ann", info.Author)
			assert.Equal(t, tt.images, info.Images)
		})
	}
}

func TestResolveGalleryCaption(t *testing.T) {
	tests := []struct {
		name string
		body string
		text string
		time string
	}{
		{"object", `{"code":200,"data":{"author":"a","title":"t","images":["https://x/a.jpg"],"text":{"msg":"hello","time":"2024-01-01"}}}`, "hello", "2024-01-01"},
		{"partial object", `{"code":200,"data":{"author":"a","images":["https://x/a.jpg"],"text":{"msg":" hi "}}}`, "hi", ""},
		{"bare string", `{"code":200,"data":{"author":"a","images":["https://x/a.jpg"],"text":"plain"}}`, "plain", ""},
		{"null", `{"code":200,"data":{"author":"a","images":["https://x/a.jpg"],"text":null}}`, "", ""},
		{"missing", `{"code":200,"data":{"images":["https://x/a.jpg"]}}`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newUpstream(t, http.StatusOK, tt.body)

			info, err := newTestClient(srv.URL, nil, nil).ResolveGallery(context.Background(), "https://www.xiaohongshu.com/explore/2")
			require.NoError(t, err)

			assert.Equal(t, []string{"https://x/a.jpg"}, info.Images)
			assert.Equal(t, tt.text, info.Text)
			assert.Equal(t, tt.time, info.Time)
			assert.NotEmpty(t, info.Author)
		})
	}
}

func TestResolveRejectedCode(t *testing.T) {
	srv, _, _ := newUpstream(t, http.StatusOK, `{"code":400,"msg":"link has expired"}`)

	_, err := newTestClient(srv.URL, nil, nil).ResolveVideo(context.Background(), "https://v.kuaishou.com/x")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUpstreamRejected)
	assert.Equal(t, "link has expired", types.UserMessage(err))

	srv2, _, _ := newUpstream(t, http.StatusOK, `{"code":500}`)
	_, err = newTestClient(srv2.URL, nil, nil).ResolveGallery(context.Background(), "https://x")
	assert.Equal(t, defaultRejection, types.UserMessage(err))
}

func TestResolveNotConfigured(t *testing.T) {
	_, err := newTestClient("", nil, nil).ResolveVideo(context.Background(), "https://v.douyin.com/x")
	assert.ErrorIs(t, err, types.ErrResolverNotConfigured)
}

func TestResolveMalformedBody(t *testing.T) {
	srv, _, _ := newUpstream(t, http.StatusOK, `<html>oops</html>`)

	_, err := newTestClient(srv.URL, nil, nil).ResolveVideo(context.Background(), "https://x")
	assert.ErrorIs(t, err, types.ErrUpstreamMalformed)
}

func TestResolveServerErrorWithoutJSON(t *testing.T) {
	srv, _, _ := newUpstream(t, http.StatusBadGateway, `bad gateway`)

	_, err := newTestClient(srv.URL, nil, nil).ResolveVideo(context.Background(), "https://x")
	assert.ErrorIs(t, err, types.ErrNetworkFailure)
}

func TestResolveDroppedConnectionIsTriedOnce(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var accepted atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			buf := make([]byte, 4096)
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _ = conn.Read(buf)
			_ = conn.Close()
		}
	}()

	_, err = newTestClient("http://"+ln.Addr().String()+"/api", nil, nil).ResolveVideo(context.Background(), "https://v.douyin.com/x")
	assert.ErrorIs(t, err, types.ErrNetworkFailure)
	assert.Equal(t, int32(1), accepted.Load())
}

func TestResolveUsesResponseCache(t *testing.T) {
	srv, hits, _ := newUpstream(t, http.StatusOK, `{"code":200,"data":{"url":"https://cdn/v.mp4"}}`)

	memory := cache.NewMemoryCache(context.Background(), logger.NewNop(), &types.ResponseCacheConfig{MaxEntries: 10})
	c := newTestClient(srv.URL, memory, nil)

	for i := 0; i < 3; i++ {
		info, err := c.ResolveVideo(context.Background(), "https://v.douyin.com/cached")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/v.mp4", info.URL)
	}

	assert.Equal(t, int32(1), hits.Load())

	_, err := c.ResolveGallery(context.Background(), "https://v.douyin.com/cached")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestResolveRejectionIsNotCached(t *testing.T) {
	srv, hits, _ := newUpstream(t, http.StatusOK, `{"code":404,"msg":"not found"}`)

	memory := cache.NewMemoryCache(context.Background(), logger.NewNop(), nil)
	c := newTestClient(srv.URL, memory, nil)

	_, _ = c.ResolveVideo(context.Background(), "https://x")
	_, _ = c.ResolveVideo(context.Background(), "https://x")

	assert.Equal(t, int32(2), hits.Load())
}

func TestResolveCircuitBreakerOpens(t *testing.T) {
	srv, hits, _ := newUpstream(t, http.StatusServiceUnavailable, `{"code":503}`)

	c := newTestClient(srv.URL, nil, &types.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		RecoveryTimeout:  60,
		HalfOpenRequests: 1,
	})

	for i := 0; i < 2; i++ {
		_, err := c.ResolveVideo(context.Background(), "https://x")
		assert.ErrorIs(t, err, types.ErrUpstreamRejected)
	}

	_, err := c.ResolveVideo(context.Background(), "https://x")
	assert.ErrorIs(t, err, types.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.ResolveGallery(context.Background(), "https://x")
	assert.ErrorIs(t, err, types.ErrUpstreamRejected)
}

func TestIdentifyPlatform(t *testing.T) {
	tests := map[string]string{
		"https://www.douyin.com/video/1":        "Douyin",
		"https://v.douyin.com/abc/":             "Douyin",
		"https://www.kuaishou.com/short-video/": "Kuaishou",
		"https://zoo.weibo.com/x":               "Oasis",
		"https://weibo.com/123":                 "Weibo",
		"https://kg.quanmin.com/song":           "Quanmin K-Song",
		"https://quanmin.com/v":                 "Quanmin Video",
		"https://www.bilibili.com/video/BV1":    "Bilibili",
		"https://www.acfun.cn/v/ac1":            "AcFun",
		"https://www.xinpianchang.com/a1":       "Xinpianchang",
		"https://example.org/video":             UnknownPlatform,
	}

	for link, want := range tests {
		assert.Equal(t, want, IdentifyPlatform(link), link)
	}
}
