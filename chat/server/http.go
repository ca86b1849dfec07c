// Package server 承载聊天服务的 HTTP 入口：WebSocket 握手与健康探针。
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/whisper/chat/ws"
	"github.com/ceyewan/whisper/pkg/health"
)

// HTTPServer HTTP 服务包装器
type HTTPServer struct {
	addr    string
	logger  clog.Logger
	gateway *ws.Gateway
	probe   *health.Probe
	server  *http.Server
}

// NewHTTPServer 创建 HTTP 服务
func NewHTTPServer(addr string, gateway *ws.Gateway, probe *health.Probe, logger clog.Logger) *HTTPServer {
	if logger == nil {
		logger = clog.Discard()
	}
	return &HTTPServer{
		addr:    addr,
		logger:  logger.WithNamespace("http"),
		gateway: gateway,
		probe:   probe,
	}
}

// Start 启动 HTTP 服务，阻塞直到服务退出
func (s *HTTPServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.gateway.HandleWebSocket)
	mux.HandleFunc("/health", s.probe.LivenessHandler())
	mux.HandleFunc("/ready", s.probe.ReadinessHandler())

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("http server started", clog.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.probe.SetShutdown(true)
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
