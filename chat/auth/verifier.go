// Package auth 签发与校验访问令牌。
// 令牌为 HS256 JWT，sub 携带用户 ID；校验时会回查用户表，
// 被禁用的账号即使持有未过期令牌也会被拒绝。
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/whisper/repo"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken 令牌非法、过期或对应用户不可用
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier 校验访问令牌并解析出用户 ID
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (int64, error)
}

// TokenIssuer 签发访问令牌
type TokenIssuer interface {
	Issue(ctx context.Context, userID int64) (string, error)
}

// Authenticator 同时实现签发与校验
type Authenticator interface {
	TokenIssuer
	TokenVerifier
}

// Option 配置选项
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

type authenticator struct {
	secret []byte
	ttl    time.Duration
	users  repo.UserRepo
	logger clog.Logger
}

// New 创建 Authenticator
func New(secret string, ttl time.Duration, users repo.UserRepo, opts ...Option) (Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	if users == nil {
		return nil, fmt.Errorf("user repo cannot be nil")
	}

	options := &options{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &authenticator{
		secret: []byte(secret),
		ttl:    ttl,
		users:  users,
		logger: logger.WithNamespace("auth"),
	}, nil
}

// Issue 为用户签发访问令牌
func (a *authenticator) Issue(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("user_id must be positive")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		a.logger.Error("failed to sign token",
			clog.Int64("user_id", userID),
			clog.Error(err))
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify 校验令牌并返回用户 ID。令牌有效但用户不存在或被禁用时同样返回 ErrInvalidToken。
func (a *authenticator) Verify(ctx context.Context, tokenString string) (int64, error) {
	if tokenString == "" {
		return 0, ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		a.logger.Debug("token validation failed", clog.Error(err))
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}

	if _, err := a.users.GetActiveUser(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			a.logger.Warn("token for unknown or disabled user",
				clog.Int64("user_id", userID))
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("failed to verify user: %w", err)
	}

	return userID, nil
}
