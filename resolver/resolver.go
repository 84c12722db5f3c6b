package resolver

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/metrics"
	"github.com/saiset-co/sai-media/types"
	"github.com/saiset-co/sai-media/utils"
)

const (
	successCode      = 200
	defaultTimeout   = 10 * time.Second
	defaultRejection = "Parsing failed, please check that the link is correct."
)

type Config struct {
	VideoEndpoint string
	ImageEndpoint string
	Timeout       time.Duration
	CacheTTL      time.Duration
}

func NewConfig(endpoints *types.APIEndpoints, resolver *types.ResolverConfig) Config {
	config := Config{}
	if endpoints != nil {
		config.VideoEndpoint = endpoints.Video
		config.ImageEndpoint = endpoints.Image
	}
	if resolver != nil {
		config.Timeout = time.Duration(resolver.Timeout) * time.Second
		if resolver.Cache != nil {
			config.CacheTTL = resolver.Cache.TTL()
		}
	}
	return config
}

// Client calls the upstream parsing API that turns a share link into
// direct media URLs.
type Client struct {
	logger       types.Logger
	metrics      *metrics.Metrics
	client       *fasthttp.Client
	config       Config
	cache        types.ResponseCache
	videoBreaker *CircuitBreaker
	imageBreaker *CircuitBreaker
}

func New(config Config, cache types.ResponseCache, breaker *types.CircuitBreakerConfig, logger types.Logger, m *metrics.Metrics) *Client {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	return &Client{
		logger:  logger,
		metrics: m,
		client: &fasthttp.Client{
			Name:                      "sai-media/1.0",
			ReadTimeout:               config.Timeout,
			WriteTimeout:              config.Timeout,
			MaxIdemponentCallAttempts: 1,
		},
		config:       config,
		cache:        cache,
		videoBreaker: NewCircuitBreaker(breaker, logger, "video"),
		imageBreaker: NewCircuitBreaker(breaker, logger, "image"),
	}
}

type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *T     `json:"data"`
}

type videoPayload struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	URL          string `json:"url"`
	PreviewImage string `json:"preview_image"`
	MusicURL     string `json:"music_url"`
}

type galleryPayload struct {
	Author string      `json:"author"`
	Title  string      `json:"title"`
	Images imageList   `json:"images"`
	Text   galleryText `json:"text"`
}

// galleryText is the {msg, time} caption object. Some upstreams send the
// caption as a bare string instead.
type galleryText struct {
	Msg  string `json:"msg"`
	Time string `json:"time"`
}

func (g *galleryText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*g = galleryText{}
		return nil
	}

	if data[0] == '"' {
		var msg string
		if err := sonic.Unmarshal(data, &msg); err != nil {
			return err
		}
		*g = galleryText{Msg: msg}
		return nil
	}

	type plain galleryText
	var v plain
	if err := sonic.Unmarshal(data, &v); err != nil {
		return err
	}
	*g = galleryText(v)
	return nil
}

// imageList accepts either a single URL string or a list of URLs.
type imageList []string

func (l *imageList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	if data[0] == '"' {
		var single string
		if err := sonic.Unmarshal(data, &single); err != nil {
			return err
		}
		if single == "" {
			*l = nil
			return nil
		}
		*l = imageList{single}
		return nil
	}

	var list []string
	if err := sonic.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

func (c *Client) ResolveVideo(ctx context.Context, link string) (*types.VideoInfo, error) {
	payload, err := resolve[videoPayload](ctx, c, types.MediaVideo, c.config.VideoEndpoint, link)
	if err != nil {
		return nil, err
	}

	data := videoPayload{}
	if payload != nil {
		data = *payload
	}

	return &types.VideoInfo{
		Platform:     IdentifyPlatform(link),
		Title:        orPlaceholder(data.Title, types.PlaceholderTitle),
		Author:       orPlaceholder(data.Author, types.PlaceholderAuthor),
		URL:          strings.TrimSpace(data.URL),
		PreviewImage: orPlaceholder(data.PreviewImage, types.PlaceholderPreview),
		MusicURL:     orPlaceholder(data.MusicURL, types.PlaceholderMusic),
	}, nil
}

func (c *Client) ResolveGallery(ctx context.Context, link string) (*types.GalleryInfo, error) {
	payload, err := resolve[galleryPayload](ctx, c, types.MediaImage, c.config.ImageEndpoint, link)
	if err != nil {
		return nil, err
	}

	data := galleryPayload{}
	if payload != nil {
		data = *payload
	}

	images := make([]string, 0, len(data.Images))
	for _, image := range data.Images {
		if image = strings.TrimSpace(image); image != "" {
			images = append(images, image)
		}
	}

	return &types.GalleryInfo{
		Platform: IdentifyPlatform(link),
		Author:   orPlaceholder(data.Author, types.PlaceholderAuthor),
		Title:    strings.TrimSpace(data.Title),
		Images:   images,
		Text:     strings.TrimSpace(data.Text.Msg),
		Time:     strings.TrimSpace(data.Text.Time),
	}, nil
}

// resolve fetches the upstream response for link, served from the response
// cache when possible, and returns its data section.
func resolve[T any](ctx context.Context, c *Client, kind types.MediaKind, endpoint, link string) (*T, error) {
	if endpoint == "" {
		return nil, types.Errorf(types.ErrResolverNotConfigured, "%s endpoint", kind)
	}

	key := string(kind) + ":" + link

	var env envelope[T]

	body, cached := c.cache.Get(ctx, key)
	if cached {
		if err := utils.Unmarshal(body, &env); err != nil {
			return nil, types.Errorf(types.ErrUpstreamMalformed, "cached response: %v", err)
		}
	} else {
		var status int
		var err error

		body, status, err = c.call(ctx, kind, endpoint, link)
		if err != nil {
			return nil, err
		}

		if err := utils.Unmarshal(body, &env); err != nil {
			c.metrics.ResolverCall(kind, "malformed")
			if status < 200 || status >= 300 {
				return nil, types.Errorf(types.ErrNetworkFailure, "HTTP %d from %s endpoint", status, kind)
			}
			return nil, types.Errorf(types.ErrUpstreamMalformed, "%v", err)
		}
	}

	if env.Code != successCode {
		c.metrics.ResolverCall(kind, "rejected")

		message := strings.TrimSpace(env.Msg)
		if message == "" {
			message = defaultRejection
		}

		c.logger.Info("Resolver rejected link",
			zap.String("kind", string(kind)),
			zap.String("link", link),
			zap.Int("code", env.Code),
			zap.String("msg", message))

		return nil, types.NewUserError(types.Errorf(types.ErrUpstreamRejected, "code %d", env.Code), message)
	}

	if cached {
		c.metrics.ResolverCall(kind, "cache_hit")
		return env.Data, nil
	}

	c.metrics.ResolverCall(kind, "success")
	if err := c.cache.Set(ctx, key, body, c.config.CacheTTL); err != nil {
		c.logger.Warn("Failed to cache resolver response",
			zap.String("key", key),
			zap.Error(err))
	}

	return env.Data, nil
}

func (c *Client) call(ctx context.Context, kind types.MediaKind, endpoint, link string) ([]byte, int, error) {
	breaker := c.breakerFor(kind)
	if !breaker.CanExecute() {
		c.metrics.ResolverCall(kind, "breaker_open")
		return nil, 0, types.Errorf(types.ErrCircuitBreakerOpen, "%s endpoint", kind)
	}

	timeout := c.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		breaker.RecordFailure()
		return nil, 0, types.Errorf(types.ErrNetworkFailure, "%s endpoint: %v", kind, context.DeadlineExceeded)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.URI().QueryArgs().Set("url", link)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	err := c.client.DoTimeout(req, resp, timeout)
	status := resp.StatusCode()

	if isBreakerFailure(status, err) {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}

	if err != nil {
		c.metrics.ResolverCall(kind, "error")
		c.logger.Warn("Resolver request failed",
			zap.String("kind", string(kind)),
			zap.String("link", link),
			zap.Error(err))
		return nil, 0, types.Errorf(types.ErrNetworkFailure, "%s endpoint: %v", kind, err)
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	return body, status, nil
}

func (c *Client) breakerFor(kind types.MediaKind) *CircuitBreaker {
	if kind == types.MediaImage {
		return c.imageBreaker
	}
	return c.videoBreaker
}

func orPlaceholder(value, placeholder string) string {
	if value = strings.TrimSpace(value); value == "" {
		return placeholder
	}
	return value
}
