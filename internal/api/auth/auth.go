package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"registrar/internal/model"
	"registrar/internal/session"
	"registrar/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// TokenRevoker 将已注销的令牌加入吊销名单。
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

// LoginLimiter 限制同一邮箱的登录尝试频率。
type LoginLimiter interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

// Handler 提供注册、登录与注销接口。
type Handler struct {
	driver     *store.Driver
	revoker    TokenRevoker
	limiter    LoginLimiter
	jwtSecret  []byte
	tokenTTL   time.Duration
	adminToken string
	logger     *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(driver *store.Driver, revoker TokenRevoker, limiter LoginLimiter,
	jwtSecret string, tokenTTL time.Duration, adminToken string, logger *slog.Logger) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Handler{
		driver:     driver,
		revoker:    revoker,
		limiter:    limiter,
		jwtSecret:  []byte(jwtSecret),
		tokenTTL:   tokenTTL,
		adminToken: strings.TrimSpace(adminToken),
		logger:     logger,
	}
}

type registerRequest struct {
	Username    string `json:"username" binding:"required"`
	Email       string `json:"email" binding:"required"`
	Phone       string `json:"phone"`
	Password    string `json:"password" binding:"required"`
	Role        string `json:"role"`
	AccessToken string `json:"access_token"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type customClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Register 创建新用户。
//
// 默认注册为学生；携带正确的管理访问令牌时才允许注册教师或
// 管理员角色。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := model.RoleStudent
	if req.Role != "" {
		parsed, err := model.ParseRole(req.Role)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if parsed != model.RoleStudent {
			if h.adminToken == "" || strings.TrimSpace(req.AccessToken) != h.adminToken {
				c.JSON(http.StatusForbidden, gin.H{"error": "invalid access token"})
				return
			}
			role = parsed
		}
	}

	svc := session.NewService(h.driver, h.logger)
	err := svc.Register(c.Request.Context(), model.User{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "registered"})
}

// Login 校验用户并返回 JWT。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(c.Request.Context(), email)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limit check failed"})
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
			return
		}
	}

	svc := session.NewService(h.driver, h.logger)
	if err := svc.Login(c.Request.Context(), email, req.Password); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}

	user := svc.Identity()
	token, err := h.issueToken(user.ID, string(user.Role))
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponse{Token: token})
}

// Logout 吊销当前令牌；重复注销同一令牌仍然成功。
func (h *Handler) Logout(c *gin.Context) {
	jti := c.GetString("jti")
	if jti != "" && h.revoker != nil {
		ttl := time.Duration(0)
		if expVal, ok := c.Get("tokenExp"); ok {
			if exp, ok := expVal.(time.Time); ok && !exp.IsZero() {
				ttl = time.Until(exp)
			}
		}
		if err := h.revoker.Revoke(c.Request.Context(), jti, ttl); err != nil {
			if h.logger != nil {
				h.logger.Warn("revoke token failed", slog.String("error", err.Error()))
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "logout failed"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) issueToken(userID int, role string) (string, error) {
	jti, err := randomID()
	if err != nil {
		return "", err
	}
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(userID),
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

func randomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// statusOf 将领域错误映射为 HTTP 状态码。
func statusOf(err error) int {
	var verr *session.ValidationError
	var aerr *session.AuthError
	var perr *session.PermissionError
	var nerr *session.NotFoundError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &aerr):
		return http.StatusUnauthorized
	case errors.As(err, &perr):
		return http.StatusForbidden
	case errors.As(err, &nerr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
