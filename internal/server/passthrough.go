package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// Passthrough 将不属于缓存职责的请求（非 GET/HEAD，或 Agent 未激活时
// 的全部流量）原样转发到源站：请求与响应都不做缓存，也不改写正文。
type Passthrough struct {
	client *http.Client
	origin *url.URL
	logger *logrus.Logger
}

// NewPassthrough 构造转发器，client/origin 不能为空。
func NewPassthrough(client *http.Client, origin *url.URL, logger *logrus.Logger) *Passthrough {
	return &Passthrough{
		client: client,
		origin: origin,
		logger: logger,
	}
}

// Forward 同步转发一次请求。请求头经 hop-by-hop 过滤并附加
// X-Forwarded-* 字段，响应头同样过滤后透传。
func (p *Passthrough) Forward(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)

	req, err := p.buildOriginRequest(c)
	if err != nil {
		p.logForward(c, requestID, 0, started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "origin_failed"})
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logForward(c, requestID, 0, started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "origin_failed"})
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if IsHopByHopHeader(key) {
			continue
		}
		// Add 保留重复键的全部值（如 Set-Cookie、Link）。
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		p.logForward(c, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, copyErr := io.Copy(c.Response().BodyWriter(), resp.Body)
	p.logForward(c, requestID, resp.StatusCode, started, copyErr)
	if copyErr != nil {
		return fiber.NewError(fiber.StatusBadGateway, "passthrough stream failed")
	}
	return nil
}

func (p *Passthrough) buildOriginRequest(c fiber.Ctx) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	uri := c.Request().URI()
	relative := &url.URL{
		Path:     string(uri.Path()),
		RawQuery: string(uri.QueryString()),
	}
	target := p.origin.ResolveReference(relative)

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}

	requestHeaders := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		requestHeaders.Add(string(key), string(value))
	})
	CopyHeaders(req.Header, requestHeaders)
	req.Host = target.Host
	req.Header.Set("Host", target.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())

	return req, nil
}

func (p *Passthrough) logForward(c fiber.Ctx, requestID string, status int, started time.Time, err error) {
	if p.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":     "passthrough",
		"method":     c.Method(),
		"url":        string(c.Request().URI().Path()),
		"status":     status,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		p.logger.WithFields(fields).Error("passthrough_failed")
		return
	}
	p.logger.WithFields(fields).Info("passthrough_complete")
}
