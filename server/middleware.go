package server

import (
	"runtime"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/types"
)

const stackBufSize = 16384

func withRecovery(logger types.Logger, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, stackBufSize)
				n := runtime.Stack(buf, false)

				logger.Error("Recovered from panic",
					zap.Any("panic", rec),
					zap.ByteString("method", ctx.Method()),
					zap.ByteString("path", ctx.Path()),
					zap.String("stack", string(buf[:n])))

				writeError(ctx, fasthttp.StatusInternalServerError, "internal server error")
			}
		}()

		next(ctx)
	}
}

func withLogging(logger types.Logger, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()

		next(ctx)

		fields := []zap.Field{
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()),
			zap.Int("status", ctx.Response.StatusCode()),
			zap.Duration("duration", time.Since(start)),
		}

		if requestID := ctx.Request.Header.Peek("X-Request-ID"); len(requestID) > 0 {
			fields = append(fields, zap.ByteString("request_id", requestID))
		}

		switch status := ctx.Response.StatusCode(); {
		case status >= 500:
			logger.Error("Request completed", fields...)
		case status >= 400:
			logger.Warn("Request completed", fields...)
		default:
			logger.Debug("Request completed", fields...)
		}
	}
}
