package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/xget/xget/internal/config"
)

func testAppConfig() *config.Config {
	return &config.Config{
		ListenPort:     8080,
		Timeout:        5 * time.Second,
		MaxRetries:     1,
		AllowedMethods: []string{"GET", "HEAD"},
		AllowedOrigins: []string{"*"},
		MaxPathLength:  128,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestApp(t *testing.T, cfg *config.Config, handler ProxyHandler) *fiber.App {
	t.Helper()
	if handler == nil {
		handler = ProxyHandlerFunc(func(c fiber.Ctx) error {
			return c.SendString("proxied")
		})
	}
	app, err := NewApp(AppOptions{
		Logger:     quietLogger(),
		Config:     cfg,
		Proxy:      handler,
		ListenPort: cfg.ListenPort,
	})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	return app
}

func TestNewAppValidatesOptions(t *testing.T) {
	cfg := testAppConfig()
	handler := ProxyHandlerFunc(func(c fiber.Ctx) error { return nil })

	cases := []AppOptions{
		{Config: cfg, Proxy: handler, ListenPort: 8080},
		{Logger: quietLogger(), Proxy: handler, ListenPort: 8080},
		{Logger: quietLogger(), Config: cfg, ListenPort: 8080},
		{Logger: quietLogger(), Config: cfg, Proxy: handler, ListenPort: 0},
	}
	for i, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	app := newTestApp(t, testAppConfig(), nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/gh/user/repo", nil))
	if err != nil {
		t.Fatalf("test error: %v", err)
	}
	defer resp.Body.Close()

	for key, want := range securityHeaders {
		if got := resp.Header.Get(key); got != want {
			t.Fatalf("%s = %q, want %q", key, got, want)
		}
	}
	if resp.Header.Get(fiber.HeaderAccessControlAllowOrigin) != "*" {
		t.Fatalf("wildcard CORS missing: %v", resp.Header)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}
}

func TestCORSRespectsAllowedOrigins(t *testing.T) {
	cfg := testAppConfig()
	cfg.AllowedOrigins = []string{"https://a.example"}
	app := newTestApp(t, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/gh/user/repo", nil)
	req.Header.Set("Origin", "https://a.example")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("test error: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(fiber.HeaderAccessControlAllowOrigin); got != "https://a.example" {
		t.Fatalf("allowed origin not echoed: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/gh/user/repo", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("test error: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(fiber.HeaderAccessControlAllowOrigin); got != "" {
		t.Fatalf("unlisted origin must not be echoed: %q", got)
	}
}

func TestValidationRejectsLongPath(t *testing.T) {
	app := newTestApp(t, testAppConfig(), nil)

	long := "/gh/" + strings.Repeat("a", 200)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, long, nil))
	if err != nil {
		t.Fatalf("test error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestURITooLong {
		t.Fatalf("status = %d, want 414", resp.StatusCode)
	}
}

func TestValidationRejectsTraversal(t *testing.T) {
	app := newTestApp(t, testAppConfig(), nil)

	// fasthttp 在路由前就折叠 ../ 与 ./ 段，能穿透到中间件的只有
	// 反斜杠类变体，点段规则由 containsTraversal 单测覆盖。
	for _, path := range []string{"/gh/a%5Cb", "/gh/a%5C..%5Cb"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("test error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestValidationMethodPolicy(t *testing.T) {
	app := newTestApp(t, testAppConfig(), nil)

	// 普通请求只允许 GET/HEAD。
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/gh/user/repo/releases", nil))
	if err != nil {
		t.Fatalf("test error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("plain POST: status = %d, want 405", resp.StatusCode)
	}

	// 协议类请求（git-upload-pack）放宽 POST。
	req := httptest.NewRequest(http.MethodPost, "/gh/user/repo/git-upload-pack", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("test error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("git POST: status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "proxied" {
		t.Fatalf("handler not reached: %q", body)
	}
}

func TestContainsTraversal(t *testing.T) {
	for _, bad := range []string{"/a/../b", "/a/./b", "/a\\b", "/a\x00b"} {
		if !containsTraversal(bad) {
			t.Fatalf("expected traversal detection for %q", bad)
		}
	}
	for _, good := range []string{"/a/b.c", "/a/..b", "/a/b..", "/v2/cr/docker/library/ubuntu"} {
		if containsTraversal(good) {
			t.Fatalf("false positive for %q", good)
		}
	}
}

func TestRedirectLanding(t *testing.T) {
	app := newTestApp(t, testAppConfig(), ProxyHandlerFunc(func(c fiber.Ctx) error {
		return RedirectLanding(c)
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("test error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != LandingPageURL {
		t.Fatalf("location = %q", got)
	}
}

func TestCopyHeadersStripsHopByHop(t *testing.T) {
	src := http.Header{
		"Connection":        {"keep-alive"},
		"Transfer-Encoding": {"chunked"},
		"Keep-Alive":        {"timeout=5"},
		"Content-Type":      {"application/json"},
		"Authorization":     {"Bearer x"},
	}
	dst := http.Header{}
	CopyHeaders(dst, src)

	if len(dst) != 2 {
		t.Fatalf("unexpected headers copied: %v", dst)
	}
	if dst.Get("Content-Type") != "application/json" || dst.Get("Authorization") != "Bearer x" {
		t.Fatalf("end-to-end headers lost: %v", dst)
	}
}

func TestIsHopByHopHeaderIsCaseInsensitive(t *testing.T) {
	if !IsHopByHopHeader("transfer-encoding") || !IsHopByHopHeader("PROXY-CONNECTION") {
		t.Fatal("canonicalization failed")
	}
	if IsHopByHopHeader("Content-Length") {
		t.Fatal("Content-Length is end-to-end")
	}
}
