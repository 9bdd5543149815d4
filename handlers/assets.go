package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

// DownloadAsset serves a file named by a download token minted by the
// local signer. The token is the only credential.
func (h *Handler) DownloadAsset(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	path, err := h.assets.Verify(c.Query("token"))
	if err != nil {
		slog.Info("rejected download token", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or expired download link"})
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "File not available"})
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}
