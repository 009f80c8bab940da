package server

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/xget/xget/internal/config"
	"github.com/xget/xget/internal/protocol"
)

// validationMiddleware 执行低层请求校验：方法白名单（协议类请求放宽）、
// 路径长度上限与路径穿越拒绝。
func validationMiddleware(cfg *config.Config) fiber.Handler {
	return func(c fiber.Ctx) error {
		path := string(c.Request().URI().Path())

		if len(path) > cfg.MaxPathLength {
			return c.Status(fiber.StatusRequestURITooLong).JSON(fiber.Map{"error": "path_too_long"})
		}
		if containsTraversal(path) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_path"})
		}

		flags := protocol.Detect(c.Method(), path, queryValues(c), RequestHeaders(c))
		if !cfg.MethodAllowed(c.Method(), flags.Any()) {
			return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method_not_allowed"})
		}

		return c.Next()
	}
}

func containsTraversal(path string) bool {
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." || segment == "." {
			return true
		}
	}
	return strings.Contains(path, "\\") || strings.Contains(path, "\x00")
}
