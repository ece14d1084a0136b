package handler

import (
	"io"
	"mime"
	"net/http"
	"path"

	"rigforge/app/logger"
	"rigforge/app/middleware"
	"rigforge/app/service"

	"github.com/casdoor/oss"
	"github.com/gin-gonic/gin"
)

// FileHandler 提供签名下载和预览海报，不做通用静态文件服务
type FileHandler struct {
	responder
	orchestrator *service.Orchestrator
	preview      *service.PreviewService
	store        oss.StorageInterface
}

func NewFileHandler(orchestrator *service.Orchestrator, preview *service.PreviewService, store oss.StorageInterface, log *logger.Logger) *FileHandler {
	return &FileHandler{
		responder:    responder{log: log.Named("files")},
		orchestrator: orchestrator,
		preview:      preview,
		store:        store,
	}
}

// Download 校验下载令牌后以附件形式返回结果文件
func (h *FileHandler) Download(c *gin.Context) {
	job, err := h.orchestrator.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.serviceError(c, err)
		return
	}

	rc, err := h.store.GetStream(*job.ResultFile)
	if err != nil {
		h.log.Errorf("读取结果文件失败: job_id=%s, key=%s, err=%v", job.ID, *job.ResultFile, err)
		h.error(c, http.StatusNotFound, 404, "处理结果不可用")
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(*job.ResultFile))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": service.ResultFilename(job)}))
	c.Header("Cache-Control", "private, no-store")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.log.Warnf("发送结果文件中断: job_id=%s, err=%v", job.ID, err)
	}
}

// Poster 返回生成的预览海报，调用者必须能看到海报对应的两个资源
func (h *FileHandler) Poster(c *gin.Context) {
	data, err := h.preview.Poster(c.Request.Context(), c.Param("name"), middleware.UserID(c))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/jpeg", data)
}
