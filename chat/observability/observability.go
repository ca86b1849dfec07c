// Package observability 提供聊天服务的可观测性支持
// 包括 Trace（分布式追踪）和 Metrics（指标收集）
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
)

const (
	// ServiceName 服务名称
	ServiceName = "whisper-chat"

	// TracerName Tracer 名称
	TracerName = "chat-service"
)

var (
	// 全局组件
	meter     metrics.Meter
	traceOnce sync.Once
	shutdown  func(context.Context) error

	// 业务指标 - WebSocket
	websocketConnectionsActive metrics.Gauge
	websocketConnectionsTotal  metrics.Counter
	authRejectionsTotal        metrics.Counter

	// 业务指标 - 事件处理
	eventsDispatchedTotal  metrics.Counter
	eventErrorsTotal       metrics.Counter
	eventHandleDuration    metrics.Histogram
	messagesDeliveredTotal metrics.Counter
)

// Init 初始化可观测性组件
func Init(cfg *Config) error {
	var initErr error

	traceOnce.Do(func() {
		shutdownFunc, err := initTrace(cfg)
		if err != nil {
			initErr = fmt.Errorf("init trace: %w", err)
			return
		}
		shutdown = shutdownFunc

		meter, err = initMetrics(cfg)
		if err != nil {
			initErr = fmt.Errorf("init metrics: %w", err)
			return
		}

		initBusinessMetrics()
	})

	return initErr
}

// Shutdown 优雅关闭
func Shutdown(ctx context.Context) error {
	if shutdown != nil {
		return shutdown(ctx)
	}
	if meter != nil {
		return meter.Shutdown(ctx)
	}
	return nil
}

// initTrace 初始化 Trace
func initTrace(cfg *Config) (func(context.Context) error, error) {
	if cfg.Trace.Disable {
		// 禁用 Trace，只生成 TraceID 不上报
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String(ServiceName),
			)),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		return tp.Shutdown, nil
	}

	endpoint := cfg.Trace.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	sampler := cfg.Trace.Sampler
	if sampler == 0 {
		sampler = 1.0
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTimeout(5 * time.Second),
	}
	if cfg.Trace.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampler))),
	}
	tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// initMetrics 初始化 Metrics
func initMetrics(cfg *Config) (metrics.Meter, error) {
	metricsCfg := &metrics.Config{
		ServiceName:   ServiceName,
		Port:          cfg.Metrics.Port,
		Path:          cfg.Metrics.Path,
		EnableRuntime: cfg.Metrics.EnableRuntime,
	}
	if metricsCfg.Port == 0 {
		metricsCfg.Port = 9092
	}
	if metricsCfg.Path == "" {
		metricsCfg.Path = "/metrics"
	}

	return metrics.New(metricsCfg)
}

// initBusinessMetrics 初始化业务指标
func initBusinessMetrics() {
	websocketConnectionsActive, _ = meter.Gauge(
		"chat_websocket_connections_active",
		"Current number of active WebSocket connections",
	)

	websocketConnectionsTotal, _ = meter.Counter(
		"chat_websocket_connections_total",
		"Total number of WebSocket connections established",
	)

	authRejectionsTotal, _ = meter.Counter(
		"chat_auth_rejections_total",
		"Total number of rejected handshakes and unauthorized events",
	)

	eventsDispatchedTotal, _ = meter.Counter(
		"chat_events_dispatched_total",
		"Total number of inbound events dispatched",
	)

	eventErrorsTotal, _ = meter.Counter(
		"chat_event_errors_total",
		"Total number of inbound events that produced an error",
	)

	eventHandleDuration, _ = meter.Histogram(
		"chat_event_handle_duration_seconds",
		"Inbound event handling latency",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}),
	)

	messagesDeliveredTotal, _ = meter.Counter(
		"chat_messages_delivered_total",
		"Total number of chat messages routed to recipients",
	)
}

// ============================================================================
// Trace 辅助函数
// ============================================================================

// StartSpan 开始一个新的 Span
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, func() {
		span.End()
	}
}

// ============================================================================
// Metrics 记录函数
// ============================================================================

// SetWebSocketConnectionsActive 设置当前活跃的 WebSocket 连接数
func SetWebSocketConnectionsActive(ctx context.Context, count int) {
	if websocketConnectionsActive != nil {
		websocketConnectionsActive.Set(ctx, float64(count))
	}
}

// RecordWebSocketConnectionEstablished 记录新建 WebSocket 连接
func RecordWebSocketConnectionEstablished(ctx context.Context) {
	if websocketConnectionsTotal != nil {
		websocketConnectionsTotal.Inc(ctx)
	}
}

// RecordAuthRejection 记录握手或事件级鉴权拒绝
func RecordAuthRejection(ctx context.Context) {
	if authRejectionsTotal != nil {
		authRejectionsTotal.Inc(ctx)
	}
}

// RecordEventDispatched 记录入站事件
func RecordEventDispatched(ctx context.Context, labels ...metrics.Label) {
	if eventsDispatchedTotal != nil {
		eventsDispatchedTotal.Inc(ctx, labels...)
	}
}

// RecordEventError 记录事件处理错误
func RecordEventError(ctx context.Context, labels ...metrics.Label) {
	if eventErrorsTotal != nil {
		eventErrorsTotal.Inc(ctx, labels...)
	}
}

// RecordEventHandleDuration 记录事件处理延迟
func RecordEventHandleDuration(ctx context.Context, duration time.Duration, labels ...metrics.Label) {
	if eventHandleDuration != nil {
		eventHandleDuration.Record(ctx, duration.Seconds(), labels...)
	}
}

// RecordMessageDelivered 记录完成路由的消息
func RecordMessageDelivered(ctx context.Context) {
	if messagesDeliveredTotal != nil {
		messagesDeliveredTotal.Inc(ctx)
	}
}

// ============================================================================
// Logger 创建辅助函数
// ============================================================================

// NewLogger 创建带有 Trace Context 的 Logger
func NewLogger(cfg *clog.Config) (clog.Logger, error) {
	return clog.New(cfg, clog.WithTraceContext())
}
