package handler

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/angeloszaimis/dispatcher/internal/dispatcher"
	"github.com/angeloszaimis/dispatcher/internal/registry"
	"github.com/angeloszaimis/dispatcher/internal/transport"
)

const maxBodyBytes = 10 << 20

// Dispatcher is satisfied by *dispatcher.Dispatcher.
type Dispatcher interface {
	PerformRequest(ctx context.Context, serviceName, method, entrance string, opts transport.Options) (string, error)
}

// Headers that describe the inbound connection rather than the request.
// Accept-Encoding is left to the transport so it can decompress; the body
// handed back to the caller is always identity-encoded.
var hopHeaders = []string{
	"Accept-Encoding",
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

type DispatchHandler struct {
	logger     *slog.Logger
	dispatcher Dispatcher
}

func NewDispatchHandler(logger *slog.Logger, d Dispatcher) *DispatchHandler {
	return &DispatchHandler{
		logger:     logger,
		dispatcher: d,
	}
}

func (h *DispatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)

	service, entrance, ok := splitPath(r.URL.Path)
	if !ok {
		http.Error(w, "path must be /{service}/{path}", http.StatusNotFound)
		return
	}

	h.logger.Info("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("service", service),
		slog.String("path", entrance),
		slog.String("user_agent", r.UserAgent()))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("Failed to read request body", slog.String("client", clientIP), slog.Any("err", err))
		http.Error(w, "could not read request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := h.dispatcher.PerformRequest(r.Context(), service, r.Method, entrance, optionsFrom(r, body))
	if err != nil {
		status := statusFor(err)
		h.logger.Warn("Dispatch failed",
			slog.String("client", clientIP),
			slog.String("service", service),
			slog.Int("status", status),
			slog.Any("err", err))
		http.Error(w, http.StatusText(status), status)
		return
	}

	h.logger.Info("Dispatched request",
		slog.String("client", clientIP),
		slog.String("service", service),
		slog.Duration("took", time.Since(start)))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, result); err != nil {
		h.logger.Debug("Failed to write response", slog.Any("err", err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, dispatcher.ErrNoAvailableNodes):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// splitPath turns /user/profile/1 into ("user", "/profile/1").
func splitPath(path string) (string, string, bool) {
	service, rest, _ := strings.Cut(strings.TrimLeft(path, "/"), "/")
	if service == "" {
		return "", "", false
	}
	return service, "/" + rest, true
}

func optionsFrom(r *http.Request, body []byte) transport.Options {
	headers := r.Header.Clone()
	for _, h := range hopHeaders {
		headers.Del(h)
	}

	opts := transport.Options{Headers: headers}
	if q := r.URL.Query(); len(q) > 0 {
		opts.Query = q
	}
	if len(body) > 0 {
		opts.Body = string(body)
	}

	return opts
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
