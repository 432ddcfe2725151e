package routes

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/minihongo/minihongo-agent/internal/server"
)

// RegisterAgentRoutes 暴露 /-/agent 诊断接口，供运维查询当前代际
// 的生命周期状态、策略参数与存储中现存的代际标签。
func RegisterAgentRoutes(app *fiber.App, runtime *server.Runtime) {
	if app == nil || runtime == nil {
		return
	}

	app.Get("/-/agent", func(c fiber.Ctx) error {
		active := runtime.Active()
		if active == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "agent_not_active",
			})
		}

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		payload := fiber.Map{
			"version":       active.Version(),
			"state":         string(active.State()),
			"settings":      active.Settings(),
			"precache_size": active.PrecacheSize(),
		}
		if versions, err := active.StoreVersions(ctx); err == nil {
			payload["store_versions"] = versions
		} else {
			payload["store_versions_error"] = err.Error()
		}
		return c.JSON(payload)
	})
}
