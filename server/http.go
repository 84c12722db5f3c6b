package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-media/types"
	"github.com/saiset-co/sai-media/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const maxRequestBodySize = 1 << 20

type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	router          *Router
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(ctx context.Context, config *types.HTTPConfig, router *Router, logger types.Logger) *FastHTTPServer {
	serverCtx, cancel := context.WithCancel(ctx)

	server := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		router:          router,
		httpConfig:      config,
		shutdownTimeout: 5 * time.Second,
	}

	server.state.Store(StateStopped)

	return server
}

// Start binds the listener synchronously so address errors surface here,
// then serves in the background.
func (h *FastHTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	h.server = &fasthttp.Server{
		Handler:               h.Handler(),
		Name:                  "sai-media",
		ReadTimeout:           seconds(h.httpConfig.ReadTimeout),
		WriteTimeout:          seconds(h.httpConfig.WriteTimeout),
		IdleTimeout:           seconds(h.httpConfig.IdleTimeout),
		MaxRequestBodySize:    maxRequestBodySize,
		TCPKeepalive:          true,
		CloseOnShutdown:       true,
		NoDefaultServerHeader: false,
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		h.setState(StateStopped)
		return types.WrapError(err, "HTTP listener failed")
	}
	h.listener = listener

	go func() {
		if err := h.server.Serve(listener); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.setState(StateStopped)
		}
	}()

	h.setState(StateRunning)

	h.logger.Info("HTTP server started successfully", zap.String("address", listener.Addr().String()))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if h.server == nil {
			return nil
		}
		return h.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			h.logger.Warn("Server stop timeout, some connections may not have closed gracefully")
		default:
			h.logger.Error("Error during server shutdown", zap.Error(err))
		}
	} else {
		h.logger.Info("HTTP server stopped gracefully")
	}

	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

// Addr returns the bound listener address, or "" before Start.
func (h *FastHTTPServer) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return withRecovery(h.logger, withLogging(h.logger, h.router.Handler))
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) bool {
	currentState := h.getState()
	return h.state.CompareAndSwap(currentState, newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, payload interface{}) {
	data, err := utils.Marshal(payload)
	if err != nil {
		ctx.Error("failed to encode response", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(data)
}

func writeError(ctx *fasthttp.RequestCtx, status int, message string) {
	writeJSON(ctx, status, errorResponse{Error: message})
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
