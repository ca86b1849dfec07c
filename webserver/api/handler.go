// Package api 实现 Web 边界的 HTTP 接口：登录与聊天页初始化数据。
package api

import (
	"errors"
	"net/http"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/whisper/chat/auth"
	"github.com/ceyewan/whisper/chat/protocol"
	"github.com/ceyewan/whisper/chat/service"
	"github.com/ceyewan/whisper/repo"
	"github.com/ceyewan/whisper/webserver/middleware"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// Handler 实现 Web 边界的 HTTP API
type Handler struct {
	authn     auth.Authenticator
	users     repo.UserRepo
	directory *service.DirectoryService
	logger    clog.Logger
}

// NewHandler 创建 API Handler
func NewHandler(authn auth.Authenticator, users repo.UserRepo, directory *service.DirectoryService, logger clog.Logger) *Handler {
	if logger == nil {
		logger = clog.Discard()
	}
	return &Handler{
		authn:     authn,
		users:     users,
		directory: directory,
		logger:    logger.WithNamespace("api"),
	}
}

// loginRequest 登录请求体
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// loginResponse 登录响应体
type loginResponse struct {
	Token string               `json:"token"`
	User  protocol.UserSummary `json:"user"`
}

// bootstrapResponse 聊天页初始化数据
type bootstrapResponse struct {
	Token string                   `json:"token"`
	User  protocol.UserSummary     `json:"user"`
	Users []*protocol.ContactEntry `json:"users"`
}

// Login 处理登录请求：bcrypt 校验密码，签发访问令牌。
// 用户名不存在与密码错误返回同样的 401，不泄露账号是否存在。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		h.logger.ErrorContext(ctx, "login lookup failed",
			clog.String("username", req.Username),
			clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if !user.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		h.logger.WarnContext(ctx, "login password mismatch",
			clog.String("username", req.Username),
			clog.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	token, err := h.authn.Issue(ctx, user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue token",
			clog.Int64("user_id", user.ID),
			clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	h.logger.InfoContext(ctx, "user logged in",
		clog.Int64("user_id", user.ID),
		clog.String("username", user.Username))

	c.JSON(http.StatusOK, loginResponse{
		Token: token,
		User: protocol.UserSummary{
			ID:       user.ID,
			Username: user.Username,
		},
	})
}

// Bootstrap 返回聊天页初始化所需的数据：
// 新签发的令牌（交给 WebSocket 握手使用）与完整联系人列表。
func (h *Handler) Bootstrap(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.GetActiveUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.ErrorContext(ctx, "bootstrap user lookup failed",
			clog.Int64("user_id", userID),
			clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	token, err := h.authn.Issue(ctx, user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue token",
			clog.Int64("user_id", user.ID),
			clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	// 空查询即完整联系人列表，和聊天页搜索框为空时的结果一致
	contacts, err := h.directory.Search(ctx, user.ID, "")
	if err != nil {
		h.logger.ErrorContext(ctx, "bootstrap contact list failed",
			clog.Int64("user_id", user.ID),
			clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, bootstrapResponse{
		Token: token,
		User: protocol.UserSummary{
			ID:       user.ID,
			Username: user.Username,
		},
		Users: contacts,
	})
}
