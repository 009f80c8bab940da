package platforms

import "strings"

// Transform 把客户端路径重写为上游期望的路径：先剥离平台前缀，再按
// 平台键应用独立的短路规则。未知键保持路径原样，因此对已变换结果
// 重复调用是幂等的。
func Transform(path, key string) string {
	path = stripPrefix(path, key)

	switch key {
	case "crates":
		return transformCrates(path)
	case "homebrew", "homebrew-api", "homebrew-bottles":
		// 上游已经接受该形态，直接透传。
		return path
	case "jenkins":
		return transformJenkins(path)
	}
	return path
}

func stripPrefix(path, key string) string {
	prefix := PrefixFor(key)
	if strings.HasPrefix(path, prefix) {
		return "/" + strings.TrimPrefix(path, prefix)
	}
	if path == strings.TrimSuffix(prefix, "/") {
		return "/"
	}
	return path
}

// crates.io 的下载与搜索 API 均挂在 /api/v1/crates 下。
func transformCrates(path string) string {
	if path == "/" || strings.HasPrefix(path, "/?") {
		return "/api/v1/crates" + strings.TrimPrefix(path, "/")
	}
	return "/api/v1/crates" + path
}

// Jenkins 更新中心把稳定通道放在 /current 下，客户端习惯省略它。
func transformJenkins(path string) string {
	switch path {
	case "/update-center.json":
		return "/current/update-center.json"
	case "/update-center.actual.json":
		return "/current/update-center.actual.json"
	}
	for _, allowed := range []string{"/experimental/", "/download/", "/current/"} {
		if strings.HasPrefix(path, allowed) {
			return path
		}
	}
	return "/current" + path
}
