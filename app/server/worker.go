package server

import (
	"fmt"

	"rigforge/app/config"
	"rigforge/app/logger"
	"rigforge/app/service"
	"rigforge/app/store"

	"github.com/casdoor/oss"
	"gorm.io/gorm"
)

// Worker 执行引擎加任务回收，可嵌入 HTTP 服务，也可由 worker 命令单独运行
type Worker struct {
	Engine *service.Engine
	Reaper *service.Reaper

	remote *service.RemoteRetargeter
	log    *logger.Logger
}

// NewRetargeter 配置了 renderer_url 时使用外部渲染服务，否则使用内置打包器
func NewRetargeter(cfg config.ProcessingConfig, st oss.StorageInterface) service.Retargeter {
	if cfg.RendererURL != "" {
		return service.NewRemoteRetargeter(cfg.RendererURL, cfg.RendererTimeout, st, cfg.PollInterval)
	}
	return service.NewBundleRetargeter(st, cfg.StepDelay)
}

func NewWorker(cfg *config.Config, db *gorm.DB, st oss.StorageInterface, log *logger.Logger) *Worker {
	jobs := store.NewJobStore(db)
	retargeter := NewRetargeter(cfg.Processing, st)

	w := &Worker{
		Engine: service.NewEngine(jobs, retargeter, cfg.Processing, log),
		Reaper: service.NewReaper(jobs, cfg.Processing.StaleAfter, cfg.Processing.ReapSchedule, log),
		log:    log,
	}
	if remote, ok := retargeter.(*service.RemoteRetargeter); ok {
		w.remote = remote
		log.Infof("使用外部渲染服务: %s", cfg.Processing.RendererURL)
	}
	return w
}

func (w *Worker) Start() error {
	if err := w.Reaper.Start(); err != nil {
		return fmt.Errorf("启动任务回收失败: %w", err)
	}
	w.Engine.Start()
	return nil
}

func (w *Worker) Stop() {
	w.Engine.Stop()
	w.Reaper.Stop()
	if w.remote != nil {
		if err := w.remote.Close(); err != nil {
			w.log.Warnf("关闭渲染服务客户端失败: %v", err)
		}
	}
}
