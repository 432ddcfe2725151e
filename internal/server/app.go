package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/minihongo/minihongo-agent/internal/agent"
	"github.com/minihongo/minihongo-agent/internal/logging"
	"github.com/minihongo/minihongo-agent/internal/store"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger      *logrus.Logger
	Runtime     *Runtime
	Passthrough *Passthrough
	ListenPort  int
}

const contextKeyRequestID = "_minihongo_request_id"

// NewApp builds the Fiber application that plays the interception boundary:
// read-only requests go through the active agent, everything else is
// forwarded to the origin untouched.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Runtime == nil {
		return nil, errors.New("runtime is required")
	}
	if opts.Passthrough == nil {
		return nil, errors.New("passthrough forwarder is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.All("/*", interceptHandler(opts))

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，并写入响应头便于排查。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// interceptHandler 是拦截边界本体：诊断路径放行给后续路由，非只读
// 方法原样转发源站，其余交给活跃 Agent。Agent 未激活前全部放行，
// 确保部署窗口内站点仍可用。
func interceptHandler(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		active := opts.Runtime.Active()
		if active == nil {
			return opts.Passthrough.Forward(c)
		}

		started := time.Now()
		requestID := RequestID(c)

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		result, err := active.Handle(ctx, boundaryRequest(c))
		if errors.Is(err, agent.ErrPassThrough) {
			return opts.Passthrough.Forward(c)
		}
		if err != nil {
			// 网络与缓存都救不回来的请求只暴露统一的离线响应，
			// 原始错误进日志而不是响应体。
			logHandleResult(opts.Logger, active, c, nil, requestID, started, err)
			return writeOfflineResponse(c, requestID)
		}

		logHandleResult(opts.Logger, active, c, result, requestID, started, nil)
		return writeAgentResult(c, result, requestID)
	}
}

// boundaryRequest 把 Fiber 请求还原为 Agent 需要的最小 http.Request。
func boundaryRequest(c fiber.Ctx) *http.Request {
	uri := c.Request().URI()
	return &http.Request{
		Method: c.Method(),
		URL: &url.URL{
			Path:     string(uri.Path()),
			RawQuery: string(uri.QueryString()),
		},
	}
}

// writeAgentResult 写出 Agent 响应：内部记账头被剥离，命中状态以
// X-Cache-* 诊断头体现，HEAD 请求省略正文。
func writeAgentResult(c fiber.Ctx, result *agent.Result, requestID string) error {
	for key, values := range result.Response.Header {
		if IsHopByHopHeader(key) || key == store.CachedAtHeader {
			continue
		}
		// Add 保留重复键的全部值（如 Set-Cookie、Link）。
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}

	c.Set("X-Cache-Hit", strconv.FormatBool(result.CacheHit))
	if result.Stale {
		c.Set("X-Cache-Stale", "true")
	}
	if result.Offline {
		c.Set("X-Cache-Offline", "true")
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	c.Status(result.Response.Status)
	if c.Method() == http.MethodHead {
		return nil
	}
	return c.Send(result.Response.Body)
}

// writeOfflineResponse 输出合成的离线响应，供 Handle 出错时兜底。
func writeOfflineResponse(c fiber.Ctx, requestID string) error {
	c.Set("Content-Type", "text/plain; charset=utf-8")
	c.Set("X-Cache-Offline", "true")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(fiber.StatusServiceUnavailable)
	if c.Method() == http.MethodHead {
		return nil
	}
	return c.SendString(agent.OfflineBody)
}

func logHandleResult(
	logger *logrus.Logger,
	active *agent.Agent,
	c fiber.Ctx,
	result *agent.Result,
	requestID string,
	started time.Time,
	err error,
) {
	strategy := ""
	cacheHit := false
	stale := false
	status := 0
	if result != nil {
		strategy = string(result.Strategy)
		cacheHit = result.CacheHit
		stale = result.Stale
		status = result.Response.Status
	}

	fields := logging.RequestFields(
		active.Version(),
		strategy,
		c.Method(),
		string(c.Request().URI().Path()),
		cacheHit,
		stale,
	)
	fields["action"] = "intercept"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if result != nil && result.Offline {
		fields["offline"] = true
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("intercept_failed")
		return
	}
	logger.WithFields(fields).Info("intercept_complete")
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
