package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xget/xget/internal/config"
	"github.com/xget/xget/internal/protocol"
	"github.com/xget/xget/internal/server"
)

// Request 描述一次待编排的上游取回。Header 已经过 hop-by-hop 过滤，
// ClientPath 保留客户端原始路径，供 Docker scope 推导使用。
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	Flags       protocol.Flags
	PlatformKey string
	ClientPath  string
}

// Orchestrator 负责上游请求的超时、重试与 Docker 手动重定向编排。
// 重试严格串行：单个请求同一时刻至多一个在途上游尝试。
type Orchestrator struct {
	client *http.Client
	manual *http.Client
	cfg    *config.Config
	auth   *AuthNegotiator
	logger *logrus.Logger
}

// NewOrchestrator 构造编排器，auth 允许为 nil（此时 401 原样透传）。
func NewOrchestrator(cfg *config.Config, auth *AuthNegotiator, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		client: server.NewUpstreamClient(),
		manual: server.NewManualRedirectClient(),
		cfg:    cfg,
		auth:   auth,
		logger: logger,
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeClientError
	outcomeAuthChallenge
	outcomeRetry
)

// classifyOutcome 是每次响应的纯转移函数，便于脱离网络单测。
// 判定顺序：成功 → Docker 鉴权质询 → 客户端错误 → 重试。
func classifyOutcome(status int, docker bool) outcome {
	switch {
	case status >= 200 && status < 400:
		return outcomeSuccess
	case docker && status == http.StatusUnauthorized:
		return outcomeAuthChallenge
	case status >= 400 && status < 500:
		return outcomeClientError
	default:
		return outcomeRetry
	}
}

// Fetch 执行完整的取回循环。返回的错误只会是 ErrTimeout、*ExhaustedError
// 或请求构造错误；上游 4xx 作为响应原样返回而非错误。
func (o *Orchestrator) Fetch(ctx context.Context, req *Request, proxyHost string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// 线性退避：retryDelay * 已失败次数。
			time.Sleep(o.cfg.RetryDelay * time.Duration(attempt))
		}

		resp, err := o.attempt(ctx, req, "")
		if err != nil {
			if isTimeoutErr(err) {
				return nil, ErrTimeout
			}
			lastErr = err
			continue
		}

		switch classifyOutcome(resp.StatusCode, req.Flags.Docker) {
		case outcomeSuccess, outcomeClientError:
			return resp, nil
		case outcomeAuthChallenge:
			if o.auth == nil {
				return resp, nil
			}
			return o.auth.ResolveChallenge(ctx, o, req, resp, proxyHost)
		case outcomeRetry:
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			drainAndClose(resp.Body)
		}
	}

	return nil, &ExhaustedError{Attempts: o.cfg.MaxRetries, Last: lastErr}
}

// attempt 发起单次上游请求：独立超时、Docker 手动重定向与 HEAD 长度回填。
func (o *Orchestrator) attempt(ctx context.Context, req *Request, overrideAuth string) (*http.Response, error) {
	resp, cancel, err := o.doOnce(ctx, req, overrideAuth)
	if err != nil {
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	if req.Flags.Docker && isRedirectStatus(resp.StatusCode) {
		return o.followWithoutAuth(ctx, req, resp)
	}

	if req.Method == http.MethodHead &&
		resp.StatusCode >= 200 && resp.StatusCode < 300 &&
		resp.Header.Get("Content-Length") == "" {
		o.backfillHeadLength(ctx, req, resp)
	}

	return resp, nil
}

// doOnce 构建并执行一次 HTTP 交换，返回绑定到超时的 cancel。
func (o *Orchestrator) doOnce(ctx context.Context, req *Request, overrideAuth string) (*http.Response, context.CancelFunc, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, bytesReader(req.Body))
	if err != nil {
		cancel()
		return nil, nil, err
	}

	server.CopyHeaders(httpReq.Header, req.Header)
	httpReq.Header.Del("Accept-Encoding")
	if overrideAuth != "" {
		httpReq.Header.Set("Authorization", overrideAuth)
	}
	if parsed, err := url.Parse(req.URL); err == nil {
		httpReq.Host = parsed.Host
	}

	client := o.client
	if req.Flags.Docker {
		// Docker 走手动重定向：Location 可能指向第三方 blob 存储，
		// 必须先剥掉 Authorization 再跟随。
		client = o.manual
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

// followWithoutAuth 处理 Docker 响应中的 301/302/307：剥离 Authorization
// 后对 Location 重新取回，并恢复自动跟随后续跳转。
func (o *Orchestrator) followWithoutAuth(ctx context.Context, req *Request, resp *http.Response) (*http.Response, error) {
	location := resp.Header.Get("Location")
	drainAndClose(resp.Body)
	if location == "" {
		return resp, nil
	}
	if base, err := url.Parse(req.URL); err == nil {
		if ref, err := url.Parse(location); err == nil {
			location = base.ResolveReference(ref).String()
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, location, bytesReader(req.Body))
	if err != nil {
		cancel()
		return nil, err
	}
	server.CopyHeaders(httpReq.Header, req.Header)
	httpReq.Header.Del("Authorization")
	httpReq.Header.Del("Accept-Encoding")

	redirected, err := o.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, err
	}
	redirected.Body = &cancelOnClose{ReadCloser: redirected.Body, cancel: cancel}
	return redirected, nil
}

// backfillHeadLength 对缺失 Content-Length 的 HEAD 响应补发
// Range: bytes=0-0 的 GET，从 206 Content-Range 或 200 Content-Length
// 恢复总大小。失败时保留原响应不动。
func (o *Orchestrator) backfillHeadLength(ctx context.Context, req *Request, resp *http.Response) {
	probe := &Request{
		Method:      http.MethodGet,
		URL:         req.URL,
		Header:      cloneHeaderWith(req.Header, "Range", "bytes=0-0"),
		Flags:       req.Flags,
		PlatformKey: req.PlatformKey,
	}
	probeResp, cancel, err := o.doOnce(ctx, probe, "")
	if err != nil {
		return
	}
	defer cancel()
	defer drainAndClose(probeResp.Body)

	var total string
	switch probeResp.StatusCode {
	case http.StatusPartialContent:
		if parts := strings.SplitN(probeResp.Header.Get("Content-Range"), "/", 2); len(parts) == 2 {
			if _, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
				total = parts[1]
			}
		}
	case http.StatusOK:
		total = probeResp.Header.Get("Content-Length")
	}
	if total != "" {
		resp.Header.Set("Content-Length", total)
	}
}

func isRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect:
		return true
	}
	return false
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	body.Close()
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func cloneHeaderWith(header http.Header, key, value string) http.Header {
	cloned := http.Header{}
	server.CopyHeaders(cloned, header)
	cloned.Set(key, value)
	return cloned
}

// cancelOnClose 把 attempt 级的超时 cancel 绑定到响应体关闭时机，
// 避免正文尚未读完就取消连接。
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	if c.cancel != nil {
		c.cancel()
	}
	return err
}
