package server

import (
	"github.com/gofiber/fiber/v3"

	"github.com/xget/xget/internal/config"
)

// securityHeaders 注入到每一个响应，无论协议类型或处理结果。
var securityHeaders = map[string]string{
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains; preload",
	"X-Frame-Options":           "DENY",
	"X-XSS-Protection":          "1; mode=block",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
	"Content-Security-Policy":   "default-src 'none'; img-src 'self'; script-src 'none'",
	"Permissions-Policy":        "interest-cohort=()",
}

// securityMiddleware 先执行业务逻辑，再统一补齐安全头与 CORS 头。
func securityMiddleware(cfg *config.Config) fiber.Handler {
	return func(c fiber.Ctx) error {
		err := c.Next()

		for key, value := range securityHeaders {
			c.Set(key, value)
		}

		origin := string(c.Request().Header.Peek(fiber.HeaderOrigin))
		switch {
		case origin == "":
			if cfg.OriginAllowed("*") {
				c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
			}
		case cfg.OriginAllowed(origin):
			c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
		}

		return err
	}
}
