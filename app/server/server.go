package server

import (
	"context"
	"fmt"
	"net/http"

	"rigforge/app/auth"
	"rigforge/app/config"
	"rigforge/app/database"
	"rigforge/app/handler"
	"rigforge/app/logger"
	"rigforge/app/middleware"
	"rigforge/app/service"
	"rigforge/app/storage"
	"rigforge/app/store"

	"github.com/casdoor/oss"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Version 由 cmd 在启动时写入
var Version = "dev"

// Server 表示 HTTP 服务器
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server
	db     *gorm.DB
	store  oss.StorageInterface
	worker *Worker

	jwtService   *auth.JWTService
	orchestrator *service.Orchestrator
	preview      *service.PreviewService
}

// New 使用全局数据库连接创建服务器
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	return NewWithDB(cfg, log, database.GetDB())
}

func NewWithDB(cfg *config.Config, log *logger.Logger, db *gorm.DB) (*Server, error) {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	st, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:     cfg,
		Logger:     log,
		db:         db,
		store:      st,
		jwtService: auth.NewJWTService(cfg),
	}

	// 未嵌入 worker 时，新任务由独立 worker 进程轮询认领
	var notifier service.Notifier
	if cfg.Processing.Embedded {
		s.worker = NewWorker(cfg, db, st, log)
		notifier = s.worker.Engine
	}

	assets := store.NewAssetStore(db)
	s.orchestrator = service.NewOrchestrator(assets, store.NewJobStore(db), notifier, s.jwtService, cfg.Download.TTL, log)
	s.preview = service.NewPreviewService(assets, st, cfg.Preview, log)

	// 设置路由
	s.setupRoutes()

	return s, nil
}

// Handler 返回路由，供测试直接调用
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Start 启动服务器
func (s *Server) Start() error {
	if s.worker != nil {
		if err := s.worker.Start(); err != nil {
			return err
		}
	}

	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown 先停止接收请求，再停止执行引擎
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	if s.worker != nil {
		s.worker.Stop()
	}

	// 关闭数据库连接
	if cerr := database.Close(); cerr != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", cerr)
	}
	return err
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	authHandler := handler.NewAuthHandler(s.db, s.jwtService, s.Logger)
	processingHandler := handler.NewProcessingHandler(s.orchestrator, s.preview, s.Logger)
	fileHandler := handler.NewFileHandler(s.orchestrator, s.preview, s.store, s.Logger)
	healthHandler := handler.NewHealthHandler(s.db, Version, s.Logger)

	// API路由组
	api := s.gin.Group("/api")
	api.GET("/health", healthHandler.Health)

	// 认证相关路由（不需要JWT验证）
	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// 结果下载由签名令牌授权
	api.GET("/files/download/:token", fileHandler.Download)

	// 需要JWT验证的路由
	protected := api.Group("/")
	protected.Use(middleware.JWTAuth(s.jwtService))
	{
		protected.GET("/me", authHandler.Me)

		// 海报上带有资源名称，按资源可见性校验
		protected.GET("/files/previews/:name", fileHandler.Poster)

		process := protected.Group("/process")
		{
			process.POST("/apply-animation", processingHandler.ApplyAnimation)
			process.GET("/status/:job_id", processingHandler.Status)
			process.POST("/download", processingHandler.Download)
			process.GET("/preview/:character_id/:animation_id", processingHandler.Preview)
			process.GET("/jobs", processingHandler.Jobs)
			process.POST("/cancel/:job_id", processingHandler.Cancel)
			process.GET("/queue", middleware.AdminOnly(), processingHandler.QueueStats)
		}
	}
}
