package handlers

import (
	"net/http"
	"os"

	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"

	"go.uber.org/zap"
)

// NewAssetsHandler serves every path the router does not own from dir.
// Without a directory all such paths answer 404.
func NewAssetsHandler(dir string, errorHandler *pkgerrors.ErrorHandler, logger *zap.Logger) http.Handler {
	if dir == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			errorHandler.HandleStatus(w, r, http.StatusNotFound, "Not Found")
		})
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Warn("Assets directory is not usable", zap.String("dir", dir), zap.Error(err))
	}
	return http.FileServer(http.Dir(dir))
}
