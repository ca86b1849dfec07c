package api

import (
	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/idgen"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/ceyewan/whisper/pkg/health"
	"github.com/ceyewan/whisper/webserver/middleware"
	"github.com/gin-gonic/gin"
)

// Middlewares HTTP 中间件集合
type Middlewares struct {
	Recovery  gin.HandlerFunc
	Logger    gin.HandlerFunc
	GlobalIP  gin.HandlerFunc
	IPBased   gin.HandlerFunc
	UserBased gin.HandlerFunc
	Auth      gin.HandlerFunc
}

// NewMiddlewares 创建所有 HTTP 中间件
func NewMiddlewares(logger clog.Logger, limiter ratelimit.Limiter, idGen idgen.Generator, authCfg *middleware.AuthConfig) *Middlewares {
	rateLimitCfg := middleware.NewRateLimitConfig(limiter, logger)

	return &Middlewares{
		Recovery: middleware.Recovery(logger),
		Logger:   middleware.Logger(logger, idGen),
		GlobalIP: rateLimitCfg.GlobalIP(ratelimit.Limit{Rate: 1000, Burst: 2000}),
		IPBased: rateLimitCfg.IPBased(
			middleware.PredefinedRateLimits.AuthIPLimits,
			middleware.PredefinedRateLimits.DefaultLimit,
		),
		UserBased: rateLimitCfg.UserBased(
			middleware.PredefinedRateLimits.UserLimits,
			middleware.PredefinedRateLimits.DefaultLimit,
		),
		Auth: authCfg.RequireAuth(),
	}
}

// RegisterRoutes 注册路由到 Gin，使用路由分组和中间件
func (h *Handler) RegisterRoutes(router *gin.Engine, m *Middlewares, probe *health.Probe) {
	// 健康检查端点：不经过日志与限流
	router.GET("/health", gin.WrapF(probe.LivenessHandler()))
	router.GET("/ready", gin.WrapF(probe.ReadinessHandler()))

	// 公开路由组（不需要认证）
	publicGroup := router.Group("/api")
	publicGroup.Use(m.Recovery, m.Logger, m.GlobalIP, m.IPBased)
	publicGroup.POST("/login", h.Login)

	// 认证路由组
	authGroup := router.Group("/api")
	authGroup.Use(m.Recovery, m.Logger, m.GlobalIP, m.Auth, m.UserBased)
	authGroup.GET("/bootstrap", h.Bootstrap)
}
