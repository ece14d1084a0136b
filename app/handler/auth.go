package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"rigforge/app/auth"
	"rigforge/app/logger"
	"rigforge/app/middleware"
	"rigforge/app/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	responder
	db         *gorm.DB
	jwtService *auth.JWTService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(db *gorm.DB, jwtService *auth.JWTService, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		responder:  responder{log: log.Named("auth")},
		db:         db,
		jwtService: jwtService,
	}
}

// LoginRequest 登录请求结构
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应结构
type LoginResponse struct {
	Token    string      `json:"token"`
	User     *model.User `json:"user"`
	ExpireAt int64       `json:"expire_at"`
}

// RegisterRequest 注册请求结构
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required,max=100"`
}

// Login 用户登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.error(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	var user model.User
	if err := h.db.WithContext(c.Request.Context()).Where("email = ?", strings.ToLower(req.Email)).First(&user).Error; err != nil {
		h.error(c, http.StatusUnauthorized, 401, "邮箱或密码错误")
		return
	}

	if !auth.CheckPassword(req.Password, user.Password) {
		h.error(c, http.StatusUnauthorized, 401, "邮箱或密码错误")
		return
	}

	if !user.IsActive {
		h.error(c, http.StatusForbidden, 403, "用户账号已被禁用")
		return
	}

	token, err := h.jwtService.GenerateToken(user.ID, user.Email, user.IsAdmin)
	if err != nil {
		h.log.Errorf("生成令牌失败: %v", err)
		h.error(c, http.StatusInternalServerError, 500, "生成令牌失败")
		return
	}

	// 更新最后登录时间
	now := time.Now()
	user.LastLogin = &now
	h.db.Model(&user).UpdateColumn("last_login", now)

	h.success(c, LoginResponse{
		Token:    token,
		User:     &user,
		ExpireAt: now.Add(h.jwtService.SessionTTL()).Unix(),
	}, "登录成功")
}

// Register 用户注册
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.error(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}
	email := strings.ToLower(req.Email)
	db := h.db.WithContext(c.Request.Context())

	var existing model.User
	err := db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		h.error(c, http.StatusConflict, 409, "邮箱已存在")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		h.serviceError(c, err)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		h.error(c, http.StatusInternalServerError, 500, "密码哈希失败")
		return
	}

	user := model.User{
		Email:    email,
		Name:     req.Name,
		Password: hashed,
		IsActive: true,
	}
	if err := db.Create(&user).Error; err != nil {
		h.log.Errorf("创建用户失败: %v", err)
		h.error(c, http.StatusInternalServerError, 500, "创建用户失败")
		return
	}

	h.success(c, user, "注册成功")
}

// Me 获取当前用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		h.error(c, http.StatusUnauthorized, 401, "未认证")
		return
	}

	var user model.User
	if err := h.db.WithContext(c.Request.Context()).Where("id = ?", userID).First(&user).Error; err != nil {
		h.error(c, http.StatusNotFound, 404, "用户不存在")
		return
	}

	h.success(c, user, "success")
}
