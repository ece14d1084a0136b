package handler

import (
	"context"
	"net/http"
	"time"

	"rigforge/app/logger"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler 存活检查
type HealthHandler struct {
	responder
	db      *gorm.DB
	version string
}

func NewHealthHandler(db *gorm.DB, version string, log *logger.Logger) *HealthHandler {
	return &HealthHandler{responder: responder{log: log}, db: db, version: version}
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	database := "ok"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		database = "unavailable"
	}

	data := gin.H{
		"status":   "ok",
		"database": database,
		"version":  h.version,
		"time":     time.Now().UTC(),
	}
	if database != "ok" {
		data["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, ApiResponse{Code: 503, Message: "数据库不可用", Data: data})
		return
	}
	h.success(c, data, "success")
}
