package server

import (
	"context"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/health"
	"github.com/saiset-co/sai-media/types"
	"github.com/saiset-co/sai-media/utils"
)

const (
	PathMessages    = "/api/v1/messages"
	PathCacheStatus = "/api/v1/cache/status"
	PathCache       = "/api/v1/cache"
	PathHealth      = "/health"
)

type MessageRequest struct {
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

type ClearResponse struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
}

// API holds the handlers behind the HTTP surface.
type API struct {
	logger   types.Logger
	commands types.CommandRouter
	store    types.Store
	health   *health.Manager
}

func NewAPI(commands types.CommandRouter, store types.Store, healthManager *health.Manager, logger types.Logger) *API {
	return &API{
		logger:   logger,
		commands: commands,
		store:    store,
		health:   healthManager,
	}
}

// Register mounts every endpoint. metricsHandler is mounted on metricsPath
// when both are set.
func (a *API) Register(router *Router, metricsPath string, metricsHandler fasthttp.RequestHandler) {
	router.POST(PathMessages, a.handleMessage)
	router.GET(PathCacheStatus, a.handleCacheStatus)
	router.DELETE(PathCache, a.handleCacheClear)
	router.GET(PathHealth, a.handleHealth)

	if metricsPath != "" && metricsHandler != nil {
		router.GET(metricsPath, metricsHandler)
	}
}

func (a *API) handleMessage(ctx *fasthttp.RequestCtx) {
	var req MessageRequest
	if err := utils.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid JSON payload")
		return
	}

	if strings.TrimSpace(req.Receiver) == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "receiver is required")
		return
	}

	// Downloads already underway finish even if the server begins shutting down.
	result, err := a.commands.Handle(context.WithoutCancel(ctx), req.Receiver, req.Content)
	if err != nil {
		if types.IsError(err, types.ErrMessageInvalid) {
			writeError(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error("Message handling failed", zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, types.UserMessage(err))
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, result)
}

func (a *API) handleCacheStatus(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, a.store.Status())
}

func (a *API) handleCacheClear(ctx *fasthttp.RequestCtx) {
	count, freed := a.store.ClearAll()

	a.logger.Info("Cache cleared over HTTP",
		zap.Int("files", count),
		zap.Int64("bytes", freed))

	writeJSON(ctx, fasthttp.StatusOK, ClearResponse{Removed: count, FreedBytes: freed})
}

func (a *API) handleHealth(ctx *fasthttp.RequestCtx) {
	report := a.health.Check(ctx)

	status := fasthttp.StatusOK
	if report.Status != types.StatusHealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	writeJSON(ctx, status, report)
}
