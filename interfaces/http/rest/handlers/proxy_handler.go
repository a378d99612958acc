package handlers

import (
	"io"
	"net/http"

	"github.com/tianshipapa/doubandai/application/services"
	"github.com/tianshipapa/doubandai/domain/proxy"
	"github.com/tianshipapa/doubandai/interfaces/http/rest/middleware"
	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"

	"go.uber.org/zap"
)

// ProxyHandler serves /proxy
type ProxyHandler struct {
	service      *services.ProxyService
	errorHandler *pkgerrors.ErrorHandler
	logger       *zap.Logger
}

// NewProxyHandler creates a new proxy handler
func NewProxyHandler(
	service *services.ProxyService,
	errorHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *ProxyHandler {
	return &ProxyHandler{
		service:      service,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// Serve relays the image named by the url query parameter
func (h *ProxyHandler) Serve(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Serve(r.Context(), services.ProxyRequest{
		Method:   r.Method,
		Target:   r.URL.Query().Get(proxy.TargetParam),
		CacheKey: proxy.CacheKey(r),
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	defer result.Body.Close()

	header := w.Header()
	for k, vs := range result.Header {
		header[k] = vs
	}
	header.Set(middleware.CacheStatusHeader, string(result.CacheStatus))
	w.WriteHeader(result.StatusCode)

	if r.Method == http.MethodHead {
		return
	}
	if n, err := io.Copy(w, result.Body); err != nil {
		h.logger.Debug("Proxy body copy aborted",
			zap.String("requestID", middleware.GetRequestID(r.Context())),
			zap.Int64("bytes", n),
			zap.Error(err),
		)
	}
}
