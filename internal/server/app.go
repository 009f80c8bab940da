package server

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xget/xget/internal/config"
)

// LandingPageURL 是根路径与未知平台请求的固定跳转目标。
const LandingPageURL = "https://xget.xi-xu.me"

// ProxyHandler describes the component responsible for proxying requests to
// the upstream origin. It allows injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Config     *config.Config
	Proxy      ProxyHandler
	ListenPort int
}

const contextKeyRequestID = "_xget_request_id"

// NewApp builds a Fiber application with validation/security middleware and
// structured error handling. 任何 handler panic 都由 recover 中间件兜底为 500。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())
	app.Use(securityMiddleware(opts.Config))
	app.Use(validationMiddleware(opts.Config))

	app.All("/*", func(c fiber.Ctx) error {
		return opts.Proxy.Handle(c)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 UUID，写入 Locals 与响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
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

// RedirectLanding 以 302 跳转到固定落地页。
func RedirectLanding(c fiber.Ctx) error {
	c.Set(fiber.HeaderLocation, LandingPageURL)
	return c.SendStatus(fiber.StatusFound)
}

func queryValues(c fiber.Ctx) url.Values {
	values := url.Values{}
	c.Request().URI().QueryArgs().VisitAll(func(key, value []byte) {
		values.Add(string(key), string(value))
	})
	return values
}

// QueryValues 暴露解析后的查询参数，供代理层复用。
func QueryValues(c fiber.Ctx) url.Values {
	return queryValues(c)
}
