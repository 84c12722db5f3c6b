package client

import (
	"bufio"
	"context"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/metrics"
	"github.com/saiset-co/sai-media/types"
)

const (
	defaultMaxRedirects = 5
	defaultChunkSize    = 8192
	defaultUserAgent    = "sai-media/1.0"
	sniffLimit          = 3072
)

type FetcherConfig struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	ChunkSize    int
	MaxRedirects int
	UserAgent    string
}

// NewFetcherConfig builds the fetcher settings from the download and cache
// sections of the service configuration.
func NewFetcherConfig(download *types.DownloadConfig, cache *types.MediaCacheConfig) FetcherConfig {
	config := FetcherConfig{
		Timeout:      download.TimeoutDuration(),
		MaxRetries:   download.MaxRetries,
		RetryDelay:   download.RetryDelayDuration(),
		MaxRedirects: defaultMaxRedirects,
	}
	if cache != nil {
		config.ChunkSize = cache.ChunkSize
	}
	return config
}

type Fetcher struct {
	logger  types.Logger
	metrics *metrics.Metrics
	client  *fasthttp.Client
	config  FetcherConfig
	wait    func(ctx context.Context, d time.Duration) error
}

func NewFetcher(config FetcherConfig, logger types.Logger, m *metrics.Metrics) *Fetcher {
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}
	if config.MaxRedirects <= 0 {
		config.MaxRedirects = defaultMaxRedirects
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	httpClient := &fasthttp.Client{
		Name:                   config.UserAgent,
		ReadTimeout:            config.Timeout,
		WriteTimeout:           config.Timeout,
		MaxConnWaitTimeout:     config.Timeout,
		StreamResponseBody:     true,
		DisablePathNormalizing: true,
		ReadBufferSize:         16 * 1024,

		// Retries are counted and paced by Fetch alone.
		MaxIdemponentCallAttempts: 1,
	}

	return &Fetcher{
		logger:  logger,
		metrics: m,
		client:  httpClient,
		config:  config,
		wait:    sleepContext,
	}
}

// Fetch opens a streaming download of url. Transient failures are retried
// with a fixed delay; a rejected content type is never retried.
func (f *Fetcher) Fetch(ctx context.Context, url string, kind types.MediaKind) (*types.MediaStream, error) {
	if !kind.Valid() {
		return nil, types.Errorf(types.ErrInvalidMediaKind, "%q", kind)
	}

	var lastErr error

	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		stream, retryable, err := f.attempt(url, kind)
		if err == nil {
			f.metrics.FetchAttempt(kind, "success")
			if attempt > 0 {
				f.logger.Debug("Fetch succeeded after retry",
					zap.String("url", url),
					zap.Int("attempt", attempt+1))
			}
			return stream, nil
		}

		if !retryable {
			f.metrics.FetchAttempt(kind, "rejected")
			return nil, err
		}

		f.metrics.FetchAttempt(kind, "retryable_failure")
		lastErr = err

		if attempt < f.config.MaxRetries {
			f.logger.Debug("Retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", f.config.RetryDelay),
				zap.Error(lastErr))

			if err := f.wait(ctx, f.config.RetryDelay); err != nil {
				return nil, types.Errorf(types.ErrNetworkFailure, "fetch of %s aborted during retry: %v", url, err)
			}
		}
	}

	f.logger.Warn("Fetch failed",
		zap.String("url", url),
		zap.String("kind", string(kind)),
		zap.Int("attempts", f.config.MaxRetries+1),
		zap.Error(lastErr))

	return nil, types.Errorf(types.ErrNetworkFailure, "all %d attempts failed for %s: %v", f.config.MaxRetries+1, url, lastErr)
}

func (f *Fetcher) attempt(url string, kind types.MediaKind) (*types.MediaStream, bool, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	resp, err := f.doFollowRedirects(req)
	if err != nil {
		return nil, true, types.Errorf(types.ErrNetworkFailure, "%v", err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		releaseResponse(resp)
		return nil, isTransientStatus(status), types.Errorf(types.ErrNetworkFailure, "HTTP %d from %s", status, url)
	}

	contentType := normalizeContentType(string(resp.Header.ContentType()))
	ext, ok := ExtensionFor(kind, contentType)
	if !ok {
		releaseResponse(resp)
		return nil, false, types.Errorf(types.ErrUnsupportedType, "%q is not accepted for %s", contentType, kind)
	}

	body := &responseBody{
		Reader: bufio.NewReaderSize(resp.BodyStream(), f.config.ChunkSize),
		resp:   resp,
	}

	if sniffed, sniffedType, ok := f.sniff(body.Reader, kind); ok && sniffed != ext {
		f.logger.Debug("Content sniffing overrides declared type",
			zap.String("url", url),
			zap.String("declared", contentType),
			zap.String("detected", sniffedType))
		ext = sniffed
		contentType = sniffedType
	}

	contentLength := int64(resp.Header.ContentLength())
	if contentLength < 0 {
		contentLength = -1
	}

	return &types.MediaStream{
		Body:          body,
		SourceURL:     url,
		ContentType:   contentType,
		Extension:     ext,
		ContentLength: contentLength,
	}, false, nil
}

// doFollowRedirects performs req and follows Location headers. Each
// intermediate body stream is closed before the next hop.
func (f *Fetcher) doFollowRedirects(req *fasthttp.Request) (*fasthttp.Response, error) {
	for hop := 0; ; hop++ {
		resp := fasthttp.AcquireResponse()
		if err := f.client.Do(req, resp); err != nil {
			releaseResponse(resp)
			return nil, err
		}

		if !fasthttp.StatusCodeIsRedirect(resp.StatusCode()) {
			return resp, nil
		}

		location := resp.Header.Peek(fasthttp.HeaderLocation)
		if len(location) == 0 {
			return resp, nil
		}
		if hop >= f.config.MaxRedirects {
			releaseResponse(resp)
			return nil, fasthttp.ErrTooManyRedirects
		}

		req.URI().UpdateBytes(location)
		releaseResponse(resp)
	}
}

func (f *Fetcher) sniff(r *bufio.Reader, kind types.MediaKind) (string, string, bool) {
	n := sniffLimit
	if n > r.Size() {
		n = r.Size()
	}

	head, _ := r.Peek(n)
	if len(head) == 0 {
		return "", "", false
	}

	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		detected := normalizeContentType(m.String())
		if ext, ok := ExtensionFor(kind, detected); ok {
			return ext, detected, true
		}
	}

	return "", "", false
}

func isTransientStatus(status int) bool {
	return status >= 500 || status == fasthttp.StatusRequestTimeout || status == fasthttp.StatusTooManyRequests
}

func releaseResponse(resp *fasthttp.Response) {
	_ = resp.CloseBodyStream()
	fasthttp.ReleaseResponse(resp)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type responseBody struct {
	*bufio.Reader
	resp *fasthttp.Response
	once sync.Once
}

func (b *responseBody) Close() error {
	var err error
	b.once.Do(func() {
		err = b.resp.CloseBodyStream()
		fasthttp.ReleaseResponse(b.resp)
	})
	return err
}
