package sink

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/types"
	"github.com/saiset-co/sai-media/utils"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	userAgent             = "sai-media-webhook/1.0"
	signatureHeader       = "X-Signature"
)

// Message is the JSON document sent for every deliverable. For webhook media
// it travels as the "meta" field of the multipart form.
type Message struct {
	Receiver string `json:"receiver"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// WebhookSink posts deliverables to a chat gateway. Text is sent as JSON;
// media is streamed from the cache as multipart form data.
type WebhookSink struct {
	logger  types.Logger
	opener  types.ArtifactOpener
	client  *fasthttp.Client
	url     string
	secret  string
	headers map[string]string
	timeout time.Duration
}

func NewWebhookSink(config *types.WebhookConfig, opener types.ArtifactOpener, logger types.Logger) (*WebhookSink, error) {
	if config == nil || config.URL == "" {
		return nil, types.Errorf(types.ErrSinkConfigInvalid, "webhook url is empty")
	}
	if opener == nil {
		return nil, types.Errorf(types.ErrSinkConfigInvalid, "artifact opener is nil")
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	return &WebhookSink{
		logger: logger,
		opener: opener,
		client: &fasthttp.Client{
			Name:         userAgent,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		url:     config.URL,
		secret:  config.Secret,
		headers: config.Headers,
		timeout: timeout,
	}, nil
}

func (w *WebhookSink) Send(ctx context.Context, receiver string, item types.Deliverable) error {
	if item.IsMedia() {
		return w.sendMedia(ctx, receiver, item)
	}
	return w.sendText(ctx, receiver, item)
}

func (w *WebhookSink) sendText(ctx context.Context, receiver string, item types.Deliverable) error {
	payload, err := utils.Marshal(messageFor(receiver, item))
	if err != nil {
		return types.WrapError(err, "failed to marshal webhook payload")
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	w.prepare(req, payload)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	return w.do(ctx, req)
}

func (w *WebhookSink) sendMedia(ctx context.Context, receiver string, item types.Deliverable) error {
	artifact := item.Artifact()

	file, err := w.opener.Open(artifact)
	if err != nil {
		return err
	}
	defer file.Close()

	meta, err := utils.Marshal(messageFor(receiver, item))
	if err != nil {
		return types.WrapError(err, "failed to marshal webhook payload")
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeForm(form, receiver, item, meta, file))
	}()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	w.prepare(req, meta)
	req.Header.SetContentType(form.FormDataContentType())
	req.SetBodyStream(pr, -1)

	err = w.do(ctx, req)

	_ = pr.Close()
	<-done

	return err
}

func writeForm(form *multipart.Writer, receiver string, item types.Deliverable, meta []byte, file io.Reader) error {
	artifact := item.Artifact()

	fields := [][2]string{
		{"receiver", receiver},
		{"type", item.Kind().String()},
		{"kind", string(artifact.Kind)},
		{"caption", item.Caption()},
		{"size", strconv.FormatInt(artifact.Size, 10)},
		{"meta", string(meta)},
	}
	for _, field := range fields {
		if err := form.WriteField(field[0], field[1]); err != nil {
			return err
		}
	}

	part, err := form.CreateFormFile("file", filepath.Base(artifact.Path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}

	return form.Close()
}

func (w *WebhookSink) prepare(req *fasthttp.Request, signed []byte) {
	req.SetRequestURI(w.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetUserAgent(userAgent)

	for key, value := range w.headers {
		req.Header.Set(key, value)
	}

	if w.secret != "" {
		req.Header.Set(signatureHeader, "sha256="+Sign(w.secret, signed))
	}
}

func (w *WebhookSink) do(ctx context.Context, req *fasthttp.Request) error {
	timeout := w.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return types.Errorf(types.ErrSinkRejected, "%v", context.DeadlineExceeded)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := w.client.DoTimeout(req, resp, timeout); err != nil {
		w.logger.Warn("Webhook delivery failed",
			zap.String("url", w.url),
			zap.Error(err))
		return types.Errorf(types.ErrSinkRejected, "webhook request failed: %v", err)
	}

	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return types.Errorf(types.ErrSinkRejected, "webhook returned status %d", status)
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
