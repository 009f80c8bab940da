// Package proxy 实现请求路由与协议编排核心：平台解析、协议分类、
// Docker 鉴权协商、上游取回与缓存接入的完整控制流。
package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/xget/xget/internal/cache"
	"github.com/xget/xget/internal/config"
	"github.com/xget/xget/internal/logging"
	"github.com/xget/xget/internal/platforms"
	"github.com/xget/xget/internal/protocol"
	"github.com/xget/xget/internal/server"
)

// Handler 把一次入站请求编排为：解析平台 → 分类协议 → 查缓存 →
// 回源（必要时内联 Docker 鉴权）→ 条件改写 → 条件写缓存。
type Handler struct {
	cfg      *config.Config
	registry *platforms.Registry
	fetcher  *Orchestrator
	auth     *AuthNegotiator
	cache    *cache.Manager
	sink     cache.Scheduler
	logger   *logrus.Logger
}

// NewHandler 组装各组件。sink 为 nil 时缓存写入退化为 fire-and-forget。
func NewHandler(
	cfg *config.Config,
	registry *platforms.Registry,
	fetcher *Orchestrator,
	auth *AuthNegotiator,
	cacheManager *cache.Manager,
	sink cache.Scheduler,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		fetcher:  fetcher,
		auth:     auth,
		cache:    cacheManager,
		sink:     sink,
		logger:   logger,
	}
}

// Handle 是注册到 Fiber 的入口。顶层 recover 由 server 中间件负责，
// 这里只处理业务错误。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	marks := NewMarks()
	requestID := server.RequestID(c)
	path := string(c.Request().URI().Path())
	method := c.Method()

	// 固定入口：落地页、OCI API 根、令牌端点。
	if path == "/" {
		return server.RedirectLanding(c)
	}
	if path == "/v2" || path == "/v2/" {
		c.Set("Docker-Distribution-Api-Version", "registry/2.0")
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(fiber.StatusOK).SendString("{}")
	}
	if path == "/v2/auth" {
		return h.auth.HandleTokenRequest(c)
	}

	// OCI 客户端约定 /v2/cr/...：剥掉 /v2 后解析平台。
	resolvePath := path
	if strings.HasPrefix(path, "/v2/") {
		resolvePath = strings.TrimPrefix(path, "/v2")
	}
	platformKey, _, ok := h.registry.Resolve(resolvePath)
	if !ok {
		return server.RedirectLanding(c)
	}

	transformed := platforms.Transform(resolvePath, platformKey)
	if platforms.IsContainerRegistry(platformKey) {
		// OCI registry 要求 /v2 API 根，匹配时剥掉了，这里补回。
		transformed = "/v2" + transformed
	}
	base, _ := h.registry.BaseURL(platformKey)
	targetURL := base + transformed
	if query := string(c.Request().URI().QueryString()); query != "" {
		targetURL += "?" + query
	}

	header := server.RequestHeaders(c)
	flags := protocol.Detect(method, path, server.QueryValues(c), header)
	marks.Mark("resolve")

	ctx := context.Background()
	sensitive := cache.HasSensitiveHeaders(header)
	cacheable := !flags.Any() && !sensitive
	cacheKey := cache.RequestKey(targetURL, header)

	if cacheable {
		if served, hit := h.cache.Lookup(ctx, cacheKey); hit {
			marks.Mark("cache_lookup")
			h.logResult(platformKey, targetURL, requestID, served.StatusCode, true, started, nil)
			return h.writeServed(c, method, served, flags, sensitive, marks)
		}
	}
	marks.Mark("cache_lookup")

	req := &Request{
		Method:      method,
		URL:         targetURL,
		Header:      header,
		Body:        c.Body(),
		Flags:       flags,
		PlatformKey: platformKey,
		ClientPath:  path,
	}

	resp, err := h.fetcher.Fetch(ctx, req, c.Hostname())
	marks.Mark("fetch")
	if err != nil {
		h.logResult(platformKey, targetURL, requestID, 0, false, started, err)
		return h.writeFetchError(c, err)
	}

	status := resp.StatusCode
	origin := "https://" + c.Hostname()
	rewritable := !flags.Any() && status == http.StatusOK &&
		(platformKey == "pypi" || platformKey == "npm")
	storeable := cacheable && method == http.MethodGet && status == http.StatusOK

	if !rewritable && !storeable {
		h.logResult(platformKey, targetURL, requestID, status, false, started, nil)
		return h.streamResponse(c, method, resp, flags, sensitive, marks)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		h.logResult(platformKey, targetURL, requestID, status, false, started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_read_failed"})
	}

	if rewritable {
		if rewritten, changed := RewriteResponseBody(platformKey, origin, resp.Header.Get("Content-Type"), body); changed {
			body = rewritten
			resp.Header.Del("Content-Length")
		}
		marks.Mark("rewrite")
	}

	if storeable {
		if served := h.cache.StoreAndReconcile(ctx, cacheKey, status, resp.Header, body, h.sink); served != nil {
			// 完整对象入缓存后，存储层合成了精确的字节区间响应。
			marks.Mark("cache_store")
			h.logResult(platformKey, targetURL, requestID, served.StatusCode, false, started, nil)
			return h.writeServed(c, method, served, flags, sensitive, marks)
		}
		marks.Mark("cache_store")
	}

	h.logResult(platformKey, targetURL, requestID, status, false, started, nil)
	h.applyResponseHeaders(c, resp.Header, flags, sensitive, marks)
	c.Status(status)
	if method == http.MethodHead {
		return nil
	}
	return c.Send(body)
}

// streamResponse 直接把上游响应流式写回客户端，不经过缓冲。
func (h *Handler) streamResponse(
	c fiber.Ctx,
	method string,
	resp *http.Response,
	flags protocol.Flags,
	sensitive bool,
	marks *Marks,
) error {
	h.applyResponseHeaders(c, resp.Header, flags, sensitive, marks)
	c.Status(resp.StatusCode)

	if method == http.MethodHead {
		resp.Body.Close()
		return nil
	}

	length := -1
	if resp.ContentLength >= 0 {
		length = int(resp.ContentLength)
	}
	c.Response().SetBodyStream(resp.Body, length)
	return nil
}

// writeServed 输出缓存层产出的响应（命中条目或合成的 206）。
func (h *Handler) writeServed(
	c fiber.Ctx,
	method string,
	served *cache.Served,
	flags protocol.Flags,
	sensitive bool,
	marks *Marks,
) error {
	h.applyResponseHeaders(c, served.Header, flags, sensitive, marks)
	c.Status(served.StatusCode)

	if method == http.MethodHead {
		served.Body.Close()
		return nil
	}

	length := -1
	if served.ContentLength >= 0 {
		length = int(served.ContentLength)
	}
	c.Response().SetBodyStream(served.Body, length)
	return nil
}

// applyResponseHeaders 复制上游头并按协议与否补充缓存/安全相关头。
func (h *Handler) applyResponseHeaders(
	c fiber.Ctx,
	upstream http.Header,
	flags protocol.Flags,
	sensitive bool,
	marks *Marks,
) {
	for key, values := range upstream {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}

	if flags.Any() {
		return
	}

	policy := http.Header{}
	if vary := upstream.Get("Vary"); vary != "" {
		policy.Set("Vary", vary)
	}
	h.cache.ApplyPolicy(policy, sensitive)
	for key, values := range policy {
		for _, value := range values {
			c.Set(key, value)
		}
	}

	c.Set("Accept-Ranges", "bytes")
	c.Set("X-Content-Type-Options", "nosniff")
	marks.Mark("respond")
	c.Set("X-Performance-Metrics", marks.HeaderValue())
}

// writeFetchError 把编排器错误映射到错误分级：超时 408、重试耗尽 500、
// 其余传输失败 502。
func (h *Handler) writeFetchError(c fiber.Ctx, err error) error {
	if errors.Is(err, ErrTimeout) {
		return c.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{"error": "upstream_timeout"})
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":    "upstream_exhausted",
			"attempts": exhausted.Attempts,
			"detail":   exhausted.Error(),
		})
	}
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
}

func (h *Handler) logResult(
	platform, upstream, requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(platform, upstream, cacheHit)
	fields["action"] = "proxy"
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
