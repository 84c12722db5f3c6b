package client

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-media/logger"
	"github.com/saiset-co/sai-media/types"
)

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	gifHeader = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\xff\xff\xff\x00\x00\x00!\xf9\x04\x01\x00\x00\x00\x00,")
)

func newTestFetcher(t *testing.T, maxRetries int) (*Fetcher, *[]time.Duration) {
	t.Helper()

	f := NewFetcher(FetcherConfig{
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: 250 * time.Millisecond,
		ChunkSize:  1024,
	}, logger.NewNop(), nil)

	var waits []time.Duration
	f.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}

	return f, &waits
}

func TestFetchStreamsWhitelistedImage(t *testing.T) {
	body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0x42}, 5000)...)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, 2)

	stream, err := f.Fetch(context.Background(), srv.URL+"/a.png", types.MediaImage)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, ".png", stream.Extension)
	assert.Equal(t, "image/png", stream.ContentType)
	assert.Equal(t, int64(len(body)), stream.ContentLength)
	assert.Equal(t, srv.URL+"/a.png", stream.SourceURL)

	got, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchStripsContentTypeParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "Video/MP4; charset=binary")
		_, _ = w.Write(bytes.Repeat([]byte{0}, 64))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, 0)

	stream, err := f.Fetch(context.Background(), srv.URL, types.MediaVideo)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, ".mp4", stream.Extension)
}

func TestFetchUnsupportedTypeIsNotRetried(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f, waits := newTestFetcher(t, 3)

	_, err := f.Fetch(context.Background(), srv.URL, types.MediaImage)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnsupportedType)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, *waits)
}

func TestFetchVideoTypeRejectedForImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, 1)

	_, err := f.Fetch(context.Background(), srv.URL, types.MediaImage)
	assert.ErrorIs(t, err, types.ErrUnsupportedType)
}

func TestFetchRetriesServerErrorsUntilSuccess(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write(gifHeader)
	}))
	defer srv.Close()

	f, waits := newTestFetcher(t, 5)

	stream, err := f.Fetch(context.Background(), srv.URL, types.MediaImage)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, *waits)
	assert.Equal(t, ".gif", stream.Extension)
}

func TestFetchExhaustsRetries(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, waits := newTestFetcher(t, 2)

	_, err := f.Fetch(context.Background(), srv.URL, types.MediaVideo)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNetworkFailure)
	assert.Equal(t, int32(3), hits.Load())
	assert.Len(t, *waits, 2)
}

func TestFetchClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, waits := newTestFetcher(t, 4)

	_, err := f.Fetch(context.Background(), srv.URL, types.MediaVideo)
	assert.ErrorIs(t, err, types.ErrNetworkFailure)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, *waits)
}

func TestFetchTooManyRequestsIsRetried(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "video/webm")
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, 1)

	stream, err := f.Fetch(context.Background(), srv.URL, types.MediaVideo)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f, waits := newTestFetcher(t, 2)

	_, err := f.Fetch(context.Background(), url, types.MediaImage)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNetworkFailure)
	assert.Len(t, *waits, 2)
}

// resettingListener accepts connections, reads the request line and drops the
// connection without answering.
func resettingListener(t *testing.T) (string, *atomic.Int32) {
	t.Helper()

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
			go func(conn net.Conn) {
				defer conn.Close()
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				buf := make([]byte, 4096)
				_, _ = conn.Read(buf)
			}(conn)
		}
	}()

	return "http://" + ln.Addr().String(), &accepted
}

func TestFetchDroppedConnectionsRetryExactly(t *testing.T) {
	addr, accepted := resettingListener(t)

	f, waits := newTestFetcher(t, 2)

	_, err := f.Fetch(context.Background(), addr+"/v.mp4", types.MediaVideo)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNetworkFailure)
	assert.Len(t, *waits, 2)
	assert.Equal(t, int32(3), accepted.Load())
}

func TestFetchSniffedTypeOverridesExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, 0)

	stream, err := f.Fetch(context.Background(), srv.URL, types.MediaImage)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, ".png", stream.Extension)
	assert.Equal(t, "image/png", stream.ContentType)

	got, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got)
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/media", http.StatusFound)
	})
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/quicktime")
		_, _ = w.Write([]byte("moov"))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, _ := newTestFetcher(t, 0)

	stream, err := f.Fetch(context.Background(), srv.URL+"/start", types.MediaVideo)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, ".mov", stream.Extension)
}

func TestFetchInvalidKind(t *testing.T) {
	f, _ := newTestFetcher(t, 0)

	_, err := f.Fetch(context.Background(), "http://127.0.0.1/", types.MediaKind("audio"))
	assert.ErrorIs(t, err, types.ErrInvalidMediaKind)
}

func TestFetchAbortsRetryWhenContextDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, 5)
	f.wait = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, srv.URL, types.MediaVideo)
	assert.ErrorIs(t, err, types.ErrNetworkFailure)
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		kind        types.MediaKind
		contentType string
		ext         string
		ok          bool
	}{
		{types.MediaVideo, "video/x-matroska", ".mkv", true},
		{types.MediaVideo, "video/x-flv", ".flv", true},
		{types.MediaImage, "image/pjpeg", ".jpg", true},
		{types.MediaImage, "IMAGE/WEBP", ".webp", true},
		{types.MediaImage, "image/svg+xml", "", false},
		{types.MediaKind("audio"), "audio/mpeg", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			ext, ok := ExtensionFor(tt.kind, tt.contentType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ext, ext)
		})
	}
}
