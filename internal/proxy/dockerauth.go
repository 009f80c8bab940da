package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/xget/xget/internal/platforms"
	"github.com/xget/xget/internal/server"
)

// tokenServiceName 是代理对外宣告的 service 标识，出现在标准化 401 的
// WWW-Authenticate 头里。
const tokenServiceName = "Xget"

// AuthNegotiator 实现 Docker/OCI 的 bearer token 协商：/v2/auth 令牌
// 代理端点，以及代理过程中内联的 401 质询重试。
type AuthNegotiator struct {
	client   *http.Client
	registry *platforms.Registry
	logger   *logrus.Logger
}

// NewAuthNegotiator 构造协商器，复用共享上游传输配置。
func NewAuthNegotiator(registry *platforms.Registry, logger *logrus.Logger) *AuthNegotiator {
	return &AuthNegotiator{
		client:   server.NewUpstreamClient(),
		registry: registry,
		logger:   logger,
	}
}

// Challenge 是 WWW-Authenticate: Bearer 质询的解析结果。
// realm 与 service 缺一不可。
type Challenge struct {
	Realm   *url.URL
	Service string
}

// ParseChallenge 解析 Bearer 质询头。realm 或 service 缺失视为致命
// 解析错误。
func ParseChallenge(value string) (Challenge, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return Challenge{}, fmt.Errorf("not a bearer challenge: %q", value)
	}
	params := parseAuthParams(value[len("Bearer "):])

	realm := params["realm"]
	service := params["service"]
	if realm == "" || service == "" {
		return Challenge{}, errors.New("challenge missing realm or service")
	}
	realmURL, err := url.Parse(realm)
	if err != nil {
		return Challenge{}, fmt.Errorf("invalid bearer realm: %w", err)
	}
	return Challenge{Realm: realmURL, Service: service}, nil
}

func parseAuthParams(input string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		value := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		params[key] = value
	}
	return params
}

// DeriveScope 从客户端路径尽力推导公共拉取 scope。无法推导时返回空串，
// 表示“不带 scope 继续”。
func DeriveScope(path, platformKey string) string {
	if strings.Contains(path, "_catalog") {
		return "registry:catalog:*"
	}

	trimmed := strings.TrimPrefix(path, "/v2")
	prefix := platforms.PrefixFor(platformKey)
	if !strings.HasPrefix(trimmed, prefix) {
		return ""
	}
	trimmed = strings.TrimPrefix(trimmed, prefix)

	var repoSegments []string
	for _, seg := range strings.Split(trimmed, "/") {
		switch seg {
		case "manifests", "blobs", "tags", "referrers":
			if len(repoSegments) == 0 {
				return ""
			}
			repo := strings.Join(repoSegments, "/")
			// Docker Hub 官方镜像约定：无命名空间的仓库归一化到 library/。
			if platformKey == "cr-docker" && !strings.Contains(repo, "/") {
				repo = "library/" + repo
			}
			return "repository:" + repo + ":pull"
		case "":
			continue
		}
		repoSegments = append(repoSegments, seg)
	}
	return ""
}

// HandleTokenRequest 实现 /v2/auth 令牌代理端点。流程：定位容器仓库
// 平台 → 探测上游 /v2/ 根发现真实 realm/service → 以纠正后的 scope
// 向 realm 请求令牌并透传结果。
func (n *AuthNegotiator) HandleTokenRequest(c fiber.Ctx) error {
	rawScope := string(c.Request().URI().QueryArgs().Peek("scope"))
	if rawScope == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scope_required"})
	}

	resource, prefixedRepo, actions, ok := splitScope(rawScope)
	if !ok || resource != "repository" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scope_malformed"})
	}

	platformKey, bareRepo, ok := n.matchRegistryRepo(prefixedRepo)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_registry"})
	}
	base, _ := n.registry.BaseURL(platformKey)

	ctx := context.Background()

	// 探测上游 /v2/ 根。非 401 意味着上游不要求认证，原样透传其响应。
	probeResp, err := n.probeRegistryRoot(ctx, base)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "registry_unreachable"})
	}
	defer probeResp.Body.Close()

	if probeResp.StatusCode != http.StatusUnauthorized {
		return passthroughResponse(c, probeResp)
	}

	challenge, err := ParseChallenge(probeResp.Header.Get("Www-Authenticate"))
	drainAndClose(probeResp.Body)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "challenge_unparseable"})
	}

	scope := "repository:" + bareRepo + ":" + actions
	tokenResp, err := n.requestToken(ctx, challenge, scope, string(c.Request().Header.Peek("Authorization")))
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "token_request_failed"})
	}
	defer tokenResp.Body.Close()

	return passthroughResponse(c, tokenResp)
}

// ResolveChallenge 处理代理过程中上游返回的 401：匿名取令牌后重试一次，
// 重试若被重定向则剥离 Authorization 再跟随。无法解决时返回标准化 401，
// 把客户端引导到代理自己的 /v2/auth。
func (n *AuthNegotiator) ResolveChallenge(
	ctx context.Context,
	o *Orchestrator,
	req *Request,
	resp *http.Response,
	proxyHost string,
) (*http.Response, error) {
	challenge, err := ParseChallenge(resp.Header.Get("Www-Authenticate"))
	drainAndClose(resp.Body)
	if err != nil {
		n.logChallenge(req, "challenge_unparseable", err)
		return standardized401(proxyHost), nil
	}

	scope := DeriveScope(req.ClientPath, req.PlatformKey)
	token, err := n.fetchToken(ctx, challenge, scope, "")
	if err != nil {
		n.logChallenge(req, "token_fetch_failed", err)
		return standardized401(proxyHost), nil
	}

	retry, err := o.attempt(ctx, req, "Bearer "+token)
	if err != nil {
		n.logChallenge(req, "auth_retry_failed", err)
		return standardized401(proxyHost), nil
	}
	if retry.StatusCode == http.StatusUnauthorized {
		drainAndClose(retry.Body)
		n.logChallenge(req, "auth_retry_unauthorized", nil)
		return standardized401(proxyHost), nil
	}
	return retry, nil
}

// probeRegistryRoot 访问上游 registry 的 /v2/ 根以触发认证质询。
func (n *AuthNegotiator) probeRegistryRoot(ctx context.Context, base string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v2/", nil)
	if err != nil {
		return nil, err
	}
	return n.client.Do(req)
}

// requestToken 向 realm 请求令牌并返回原始响应（供端点透传）。
func (n *AuthNegotiator) requestToken(ctx context.Context, challenge Challenge, scope, clientAuth string) (*http.Response, error) {
	tokenURL := *challenge.Realm
	query := tokenURL.Query()
	query.Set("service", challenge.Service)
	if scope != "" {
		query.Set("scope", scope)
	}
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return nil, err
	}
	if clientAuth != "" {
		req.Header.Set("Authorization", clientAuth)
	}
	return n.client.Do(req)
}

// fetchToken 请求并解析匿名令牌，内联质询重试使用。
func (n *AuthNegotiator) fetchToken(ctx context.Context, challenge Challenge, scope, clientAuth string) (string, error) {
	resp, err := n.requestToken(ctx, challenge, scope, clientAuth)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf(
			"token request failed: status=%d body=%s",
			resp.StatusCode,
			strings.TrimSpace(string(body)),
		)
	}

	var tokenResp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	token := tokenResp.Token
	if token == "" {
		token = tokenResp.AccessToken
	}
	if token == "" {
		return "", errors.New("token response missing token value")
	}
	return token, nil
}

// matchRegistryRepo 找到 prefixedRepo 所属的 cr- 平台并剥离其前缀。
// 更长的键先匹配，与路径解析的优先级一致。
func (n *AuthNegotiator) matchRegistryRepo(prefixedRepo string) (string, string, bool) {
	bestKey := ""
	bestConverted := ""
	for _, key := range n.registry.Keys() {
		if !platforms.IsContainerRegistry(key) {
			continue
		}
		converted := strings.ReplaceAll(key, "-", "/")
		if strings.HasPrefix(prefixedRepo, converted+"/") && len(converted) > len(bestConverted) {
			bestKey = key
			bestConverted = converted
		}
	}
	if bestKey == "" {
		return "", "", false
	}
	return bestKey, strings.TrimPrefix(prefixedRepo, bestConverted+"/"), true
}

// splitScope 拆分 repository:<repo>:<actions> 形式的 scope。
// repo 自身可以包含斜杠但不包含冒号。
func splitScope(scope string) (resource, repo, actions string, ok bool) {
	first := strings.Index(scope, ":")
	last := strings.LastIndex(scope, ":")
	if first < 0 || first == last {
		return "", "", "", false
	}
	resource = scope[:first]
	repo = scope[first+1 : last]
	actions = scope[last+1:]
	if resource == "" || repo == "" || actions == "" {
		return "", "", "", false
	}
	return resource, repo, actions, true
}

// standardized401 构造指向代理自身 /v2/auth 的 401 响应。
func standardized401(proxyHost string) *http.Response {
	body := fmt.Sprintf(
		`{"errors":[{"code":"UNAUTHORIZED","message":"authentication required","detail":{"realm":"https://%s/v2/auth"}}]}`,
		proxyHost,
	)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Www-Authenticate", fmt.Sprintf(`Bearer realm="https://%s/v2/auth",service=%q`, proxyHost, tokenServiceName))

	return &http.Response{
		StatusCode:    http.StatusUnauthorized,
		Status:        "401 Unauthorized",
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// passthroughResponse 把上游响应原样写回 Fiber。
func passthroughResponse(c fiber.Ctx, resp *http.Response) error {
	for key, values := range resp.Header {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
	c.Status(resp.StatusCode)
	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	return err
}

func (n *AuthNegotiator) logChallenge(req *Request, code string, err error) {
	if n.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":   "docker_auth",
		"platform": req.PlatformKey,
		"upstream": req.URL,
		"error":    code,
	}
	if err != nil {
		n.logger.WithFields(fields).Warn(err.Error())
		return
	}
	n.logger.WithFields(fields).Warn("docker auth unresolved")
}
