package sink

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/types"
	"github.com/saiset-co/sai-media/utils"
)

const defaultWebsocketTimeout = 10 * time.Second

// WebsocketSink keeps one connection to a chat gateway. Every deliverable is
// announced by a JSON text frame; media is followed by one binary frame
// carrying the file, streamed from the cache.
type WebsocketSink struct {
	logger  types.Logger
	opener  types.ArtifactOpener
	dialer  *websocket.Dialer
	url     string
	header  http.Header
	timeout time.Duration
	mu      sync.Mutex
	conn    *websocket.Conn
}

func NewWebsocketSink(config *types.WebsocketConfig, opener types.ArtifactOpener, logger types.Logger) (*WebsocketSink, error) {
	if config == nil || config.URL == "" {
		return nil, types.Errorf(types.ErrSinkConfigInvalid, "websocket url is empty")
	}
	if opener == nil {
		return nil, types.Errorf(types.ErrSinkConfigInvalid, "artifact opener is nil")
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultWebsocketTimeout
	}

	header := make(http.Header, len(config.Headers)+1)
	header.Set("User-Agent", userAgent)
	for key, value := range config.Headers {
		header.Set(key, value)
	}

	return &WebsocketSink{
		logger: logger,
		opener: opener,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		url:     config.URL,
		header:  header,
		timeout: timeout,
	}, nil
}

// Send writes item over the gateway connection, dialing it first when there
// is none. A failed write drops the connection; the next Send redials.
func (w *WebsocketSink) Send(ctx context.Context, receiver string, item types.Deliverable) error {
	var file io.ReadCloser
	if item.IsMedia() {
		var err error
		if file, err = w.opener.Open(item.Artifact()); err != nil {
			return err
		}
		defer file.Close()
	}

	meta, err := utils.Marshal(messageFor(receiver, item))
	if err != nil {
		return types.WrapError(err, "failed to marshal websocket payload")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	conn, err := w.connectLocked(ctx)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(w.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	if err := writeFrames(conn, meta, file); err != nil {
		w.logger.Warn("Websocket delivery failed",
			zap.String("url", w.url),
			zap.Error(err))
		_ = conn.Close()
		w.conn = nil
		return types.Errorf(types.ErrSinkRejected, "websocket write failed: %v", err)
	}

	return nil
}

// Close sends a close frame and drops the connection.
func (w *WebsocketSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}

	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *WebsocketSink) connectLocked(ctx context.Context) (*websocket.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	conn, resp, err := w.dialer.DialContext(dialCtx, w.url, w.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, types.Errorf(types.ErrSinkRejected, "failed to dial websocket gateway: %v", err)
	}

	w.conn = conn
	go w.drain(conn)

	w.logger.Info("Connected to websocket gateway", zap.String("url", w.url))
	return conn, nil
}

// drain reads until the connection fails so that control frames are handled
// and a gateway-side close is noticed before the next write.
func (w *WebsocketSink) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			w.mu.Lock()
			if w.conn == conn {
				w.conn = nil
			}
			w.mu.Unlock()
			_ = conn.Close()

			w.logger.Debug("Websocket gateway connection closed", zap.Error(err))
			return
		}
	}
}

func writeFrames(conn *websocket.Conn, meta []byte, file io.Reader) error {
	if err := conn.WriteMessage(websocket.TextMessage, meta); err != nil {
		return err
	}
	if file == nil {
		return nil
	}

	frame, err := conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if _, err := io.Copy(frame, file); err != nil {
		_ = frame.Close()
		return err
	}
	return frame.Close()
}

func messageFor(receiver string, item types.Deliverable) Message {
	if !item.IsMedia() {
		return Message{
			Receiver: receiver,
			Type:     item.Kind().String(),
			Text:     item.Text(),
		}
	}

	artifact := item.Artifact()
	return Message{
		Receiver: receiver,
		Type:     item.Kind().String(),
		Kind:     string(artifact.Kind),
		Caption:  item.Caption(),
		FileName: filepath.Base(artifact.Path),
		Size:     artifact.Size,
	}
}
