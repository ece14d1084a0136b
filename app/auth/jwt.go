package auth

import (
	"errors"
	"time"

	"rigforge/app/config"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceSession  = "session"
	audienceDownload = "download"
)

// Claims 登录会话声明
type Claims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// DownloadClaims 下载令牌声明，绑定任务和所有者
type DownloadClaims struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTService JWT服务
type JWTService struct {
	config *config.Config
	now    func() time.Time
}

// NewJWTService 创建JWT服务
func NewJWTService(cfg *config.Config) *JWTService {
	return &JWTService{
		config: cfg,
		now:    time.Now,
	}
}

// SessionTTL 会话令牌有效期
func (j *JWTService) SessionTTL() time.Duration {
	return time.Duration(j.config.JWT.ExpireTime) * time.Hour
}

// GenerateToken 生成登录令牌
func (j *JWTService) GenerateToken(userID, email string, isAdmin bool) (string, error) {
	now := j.now()
	claims := Claims{
		UserID:  userID,
		Email:   email,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audienceSession},
			ExpiresAt: jwt.NewNumericDate(now.Add(j.SessionTTL())),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.config.JWT.Issuer,
		},
	}
	return j.sign(claims)
}

// ValidateToken 验证登录令牌
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := j.parse(tokenString, claims, audienceSession); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.New("token missing user")
	}
	return claims, nil
}

// GenerateDownloadToken 为已完成任务生成限时下载令牌
func (j *JWTService) GenerateDownloadToken(jobID, userID string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := DownloadClaims{
		JobID:  jobID,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   jobID,
			Audience:  jwt.ClaimStrings{audienceDownload},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.JWT.Issuer,
		},
	}
	return j.sign(claims)
}

// ValidateDownloadToken 校验下载令牌的签名、有效期和用途
func (j *JWTService) ValidateDownloadToken(tokenString string) (*DownloadClaims, error) {
	claims := &DownloadClaims{}
	if err := j.parse(tokenString, claims, audienceDownload); err != nil {
		return nil, err
	}
	if claims.JobID == "" || claims.UserID == "" {
		return nil, errors.New("token missing job")
	}
	return claims, nil
}

func (j *JWTService) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.config.JWT.Secret))
}

func (j *JWTService) parse(tokenString string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(j.config.JWT.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
