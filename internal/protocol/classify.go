// Package protocol 对请求做协议分类。五个布尔标志相互独立地计算，
// 一个请求可能同时命中多个；下游用 Any() 做“协议类请求”的统一门控，
// Docker 标志单独驱动 registry 鉴权与手动重定向路径。
package protocol

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Flags 表示一次请求的协议归属，按请求计算一次后显式传递。
type Flags struct {
	Git    bool
	GitLFS bool
	Docker bool
	AI     bool
	HF     bool
}

// Any 返回请求是否属于任一协议类别。协议类请求跳过缓存、放宽方法
// 白名单并透传完整请求头。
func (f Flags) Any() bool {
	return f.Git || f.GitLFS || f.Docker || f.AI || f.HF
}

var (
	lfsObjectPattern = regexp.MustCompile(`/objects/[0-9a-f]{64}$`)

	dockerMediaTypes = []string{
		"application/vnd.docker.distribution.manifest",
		"application/vnd.docker.image",
		"application/vnd.oci.image",
		"application/vnd.oci.empty",
	}

	gitPackMediaTypes = []string{
		"application/x-git-upload-pack",
		"application/x-git-receive-pack",
	}

	inferenceEndpoints = []string{
		"/v1/chat/completions",
		"/v1/completions",
		"/v1/messages",
		"/v1/predictions",
		"/v1/generate",
		"/v1/embeddings",
		"/openai/v1/chat/completions",
	}
)

// Detect 基于 (method, path, query, headers) 计算全部标志。纯函数，
// 不读取任何共享状态。
func Detect(method, path string, query url.Values, header http.Header) Flags {
	return Flags{
		Git:    isGit(path, query, header),
		GitLFS: isGitLFS(path, header),
		Docker: isDocker(path, header),
		AI:     isAI(method, path, header),
		HF:     isHF(path),
	}
}

func isDocker(path string, header http.Header) bool {
	if hasPathSegment(path, "v2") {
		return true
	}
	if strings.Contains(strings.ToLower(header.Get("User-Agent")), "docker/") {
		return true
	}
	accept := strings.ToLower(header.Get("Accept") + " " + header.Get("Content-Type"))
	for _, media := range dockerMediaTypes {
		if strings.Contains(accept, media) {
			return true
		}
	}
	return false
}

func isGit(path string, query url.Values, header http.Header) bool {
	for _, suffix := range []string{"/info/refs", "/git-upload-pack", "/git-receive-pack"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	ua := strings.ToLower(header.Get("User-Agent"))
	if strings.HasPrefix(ua, "git/") || strings.Contains(ua, "git/") {
		return true
	}
	switch query.Get("service") {
	case "git-upload-pack", "git-receive-pack":
		return true
	}
	contentType := strings.ToLower(header.Get("Content-Type"))
	for _, media := range gitPackMediaTypes {
		if strings.Contains(contentType, media) {
			return true
		}
	}
	return false
}

func isGitLFS(path string, header http.Header) bool {
	if strings.Contains(path, "/info/lfs") || strings.Contains(path, "/objects/batch") {
		return true
	}
	if lfsObjectPattern.MatchString(path) {
		return true
	}
	media := strings.ToLower(header.Get("Accept") + " " + header.Get("Content-Type"))
	if strings.Contains(media, "application/vnd.git-lfs") {
		return true
	}
	return strings.Contains(strings.ToLower(header.Get("User-Agent")), "git-lfs")
}

func isAI(method, path string, header http.Header) bool {
	if strings.HasPrefix(path, "/ip/") {
		return true
	}
	for _, endpoint := range inferenceEndpoints {
		if strings.Contains(path, endpoint) {
			return true
		}
	}
	if method == http.MethodPost &&
		strings.Contains(strings.ToLower(header.Get("Content-Type")), "application/json") {
		for _, hint := range []string{"/chat/", "/completions", "/generate", "/predict"} {
			if strings.Contains(path, hint) {
				return true
			}
		}
	}
	return false
}

func isHF(path string) bool {
	return strings.HasPrefix(path, "/hf/api/") || strings.HasPrefix(path, "/hf/token")
}

func hasPathSegment(path, segment string) bool {
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == segment {
			return true
		}
	}
	return false
}
