package sink

import (
	"context"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/types"
)

const (
	TypeLog       = "log"
	TypeWebhook   = "webhook"
	TypeWebsocket = "websocket"
)

// LogSink writes every deliverable to the service log. It is the default
// when no chat gateway is configured.
type LogSink struct {
	logger types.Logger
}

func NewLogSink(logger types.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Send(_ context.Context, receiver string, item types.Deliverable) error {
	if !item.IsMedia() {
		l.logger.Info("Deliver text",
			zap.String("receiver", receiver),
			zap.String("text", item.Text()))
		return nil
	}

	artifact := item.Artifact()
	l.logger.Info("Deliver media",
		zap.String("receiver", receiver),
		zap.String("kind", string(artifact.Kind)),
		zap.String("file", artifact.Path),
		zap.String("size", humanize.IBytes(uint64(artifact.Size))),
		zap.String("caption", item.Caption()))

	return nil
}

func New(config *types.SinkConfig, opener types.ArtifactOpener, logger types.Logger) (types.Sink, error) {
	if config == nil {
		return NewLogSink(logger), nil
	}

	switch config.Type {
	case "", TypeLog:
		return NewLogSink(logger), nil
	case TypeWebhook:
		webhook, err := NewWebhookSink(config.Webhook, opener, logger)
		if err != nil {
			return nil, err
		}
		return webhook, nil
	case TypeWebsocket:
		gateway, err := NewWebsocketSink(config.Websocket, opener, logger)
		if err != nil {
			return nil, err
		}
		return gateway, nil
	default:
		return nil, types.Errorf(types.ErrSinkTypeUnknown, "%q", config.Type)
	}
}
