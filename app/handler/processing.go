package handler

import (
	"net/http"
	"strconv"

	"rigforge/app/logger"
	"rigforge/app/middleware"
	"rigforge/app/service"

	"github.com/gin-gonic/gin"
)

// ProcessingHandler 处理任务相关接口
type ProcessingHandler struct {
	responder
	orchestrator *service.Orchestrator
	preview      *service.PreviewService
}

func NewProcessingHandler(orchestrator *service.Orchestrator, preview *service.PreviewService, log *logger.Logger) *ProcessingHandler {
	return &ProcessingHandler{
		responder:    responder{log: log.Named("processing")},
		orchestrator: orchestrator,
		preview:      preview,
	}
}

// ApplyAnimationRequest 提交任务请求，settings 原样保存
type ApplyAnimationRequest struct {
	CharacterID string         `json:"character_id" binding:"required"`
	AnimationID string         `json:"animation_id" binding:"required"`
	Settings    map[string]any `json:"settings"`
}

// DownloadRequest 下载请求，job_id 也可以放在查询参数中
type DownloadRequest struct {
	JobID string `json:"job_id" form:"job_id"`
}

// ApplyAnimation 提交处理任务，立即返回 pending 状态的任务
func (h *ProcessingHandler) ApplyAnimation(c *gin.Context) {
	var req ApplyAnimationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.error(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	job, err := h.orchestrator.Submit(c.Request.Context(), middleware.UserID(c), service.SubmitRequest{
		CharacterID: req.CharacterID,
		AnimationID: req.AnimationID,
		Settings:    req.Settings,
	})
	if err != nil {
		h.serviceError(c, err)
		return
	}
	h.success(c, job, "任务已提交")
}

// Status 查询任务状态
func (h *ProcessingHandler) Status(c *gin.Context) {
	job, err := h.orchestrator.Status(c.Request.Context(), c.Param("job_id"), middleware.UserID(c))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	h.success(c, job, "success")
}

// Download 为已完成的任务签发限时下载地址
func (h *ProcessingHandler) Download(c *gin.Context) {
	var req DownloadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.error(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
			return
		}
	}
	if req.JobID == "" {
		req.JobID = c.Query("job_id")
	}
	if req.JobID == "" {
		h.error(c, http.StatusBadRequest, 400, "缺少 job_id")
		return
	}

	desc, err := h.orchestrator.Download(c.Request.Context(), req.JobID, middleware.UserID(c))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	h.success(c, desc, "success")
}

// Preview 角色与动画组合的预览
func (h *ProcessingHandler) Preview(c *gin.Context) {
	desc, err := h.preview.Preview(c.Request.Context(), c.Param("character_id"), c.Param("animation_id"), middleware.UserID(c))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	h.success(c, desc, "success")
}

// Jobs 分页列出自己的任务
func (h *ProcessingHandler) Jobs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	result, err := h.orchestrator.List(c.Request.Context(), middleware.UserID(c), c.Query("status"), page, size)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	h.success(c, result, "success")
}

// Cancel 取消任务
func (h *ProcessingHandler) Cancel(c *gin.Context) {
	job, err := h.orchestrator.Cancel(c.Request.Context(), c.Param("job_id"), middleware.UserID(c))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	h.success(c, job, "已请求取消")
}

// QueueStats 各状态任务数量，仅管理员
func (h *ProcessingHandler) QueueStats(c *gin.Context) {
	stats, err := h.orchestrator.QueueStats(c.Request.Context())
	if err != nil {
		h.serviceError(c, err)
		return
	}
	h.success(c, stats, "success")
}
