package middleware

import (
	"net/http"
	"strings"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/whisper/chat/auth"
	"github.com/gin-gonic/gin"
)

const (
	// UserIDKey 是上下文中存储用户 ID 的键
	UserIDKey = "user_id"
)

// AuthConfig 认证中间件配置
type AuthConfig struct {
	verifier auth.TokenVerifier
	logger   clog.Logger
}

// NewAuthConfig 创建认证配置
func NewAuthConfig(verifier auth.TokenVerifier, logger clog.Logger) *AuthConfig {
	return &AuthConfig{
		verifier: verifier,
		logger:   logger,
	}
}

// RequireAuth 返回一个需要认证的中间件
// 从请求头或查询参数中获取 token 并验证
func (a *AuthConfig) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := a.extractAndValidate(c)
		if err != nil {
			a.logger.Warn("authentication failed",
				clog.String("client_ip", c.ClientIP()),
				clog.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized: " + err.Error(),
			})
			return
		}

		// 将用户 ID 存入上下文
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// extractAndValidate 从请求中提取并验证 token
func (a *AuthConfig) extractAndValidate(c *gin.Context) (int64, error) {
	// 从请求头获取 token
	token := c.GetHeader("Authorization")
	if token != "" {
		// 支持 "Bearer <token>" 格式
		if strings.HasPrefix(token, "Bearer ") {
			token = strings.TrimPrefix(token, "Bearer ")
		}
	} else {
		// 从查询参数获取 token
		token = c.Query("token")
	}

	if token == "" {
		return 0, ErrMissingToken
	}

	userID, err := a.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		return 0, ErrInvalidToken
	}

	return userID, nil
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	return userID.(int64), true
}

// 错误定义
var (
	ErrMissingToken = &AuthError{Message: "missing authentication token"}
	ErrInvalidToken = &AuthError{Message: "invalid authentication token"}
)

// AuthError 认证错误
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}
