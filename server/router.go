package server

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
)

// Router dispatches on exact method and path. The service exposes a handful
// of fixed endpoints, so there is no pattern matching.
type Router struct {
	mu     sync.RWMutex
	routes map[string]fasthttp.RequestHandler
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]fasthttp.RequestHandler)}
}

func (r *Router) Add(method, path string, handler fasthttp.RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes[routeKey(method, normalizePath(path))] = handler
}

func (r *Router) GET(path string, handler fasthttp.RequestHandler) {
	r.Add(fasthttp.MethodGet, path, handler)
}

func (r *Router) POST(path string, handler fasthttp.RequestHandler) {
	r.Add(fasthttp.MethodPost, path, handler)
}

func (r *Router) DELETE(path string, handler fasthttp.RequestHandler) {
	r.Add(fasthttp.MethodDelete, path, handler)
}

// Routes lists the registered "METHOD:path" keys in sorted order.
func (r *Router) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.routes))
	for key := range r.routes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	path := normalizePathBytes(ctx.Path())

	r.mu.RLock()
	handler := r.routes[routeKey(string(ctx.Method()), string(path))]
	allowed := handler == nil && r.pathKnownLocked(string(path))
	r.mu.RUnlock()

	if handler != nil {
		handler(ctx)
		return
	}

	if allowed {
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeError(ctx, fasthttp.StatusNotFound, "not found")
}

func (r *Router) pathKnownLocked(path string) bool {
	for key := range r.routes {
		if strings.HasSuffix(key, ":"+path) {
			return true
		}
	}
	return false
}

func routeKey(method, path string) string {
	return method + ":" + path
}

func normalizePath(path string) string {
	return string(normalizePathBytes([]byte(path)))
}

func normalizePathBytes(path []byte) []byte {
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = bytes.TrimRight(path, "/")
		if len(path) == 0 {
			return []byte("/")
		}
	}
	if len(path) == 0 {
		return []byte("/")
	}
	return path
}
