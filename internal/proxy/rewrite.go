package proxy

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const (
	pypiFileHost    = "files.pythonhosted.org"
	npmRegistryBase = "https://registry.npmjs.org"
)

// RewriteResponseBody 把特定平台响应里的上游绝对 URL 改写为代理相对
// URL。仅对非协议类 200 响应调用。返回改写后的正文与是否发生改写；
// 改写后 Content-Length 失效，由调用方重新计量。
func RewriteResponseBody(platformKey, origin, contentType string, body []byte) ([]byte, bool) {
	lowerCT := strings.ToLower(contentType)
	switch {
	case platformKey == "pypi" && strings.Contains(lowerCT, "text/html"):
		rewritten, err := rewritePyPIIndex(body, origin)
		if err != nil {
			return body, false
		}
		return rewritten, true
	case platformKey == "npm" && strings.Contains(lowerCT, "application/json"):
		rewritten := bytes.ReplaceAll(body, []byte(npmRegistryBase+"/"), []byte(origin+"/npm/"))
		return rewritten, !bytes.Equal(rewritten, body)
	}
	return body, false
}

// rewritePyPIIndex 遍历 simple 索引 HTML，把指向 PyPI 文件托管源的
// 链接换成 <origin>/pypi/files 前缀。
func rewritePyPIIndex(body []byte, origin string) ([]byte, error) {
	node, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	rewriteHTMLNode(node, origin)
	var buf bytes.Buffer
	if err := html.Render(&buf, node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rewriteHTMLNode(n *html.Node, origin string) {
	if n.Type == html.ElementNode {
		for i, attr := range n.Attr {
			switch attr.Key {
			case "href", "data-dist-info-metadata", "data-core-metadata":
				n.Attr[i].Val = rewritePyPIFileURL(origin, attr.Val)
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		rewriteHTMLNode(child, origin)
	}
}

func rewritePyPIFileURL(origin, original string) string {
	parsed, err := url.Parse(original)
	if err != nil || parsed.Host != pypiFileHost {
		return original
	}
	rewritten := origin + "/pypi/files" + parsed.Path
	if parsed.RawQuery != "" {
		rewritten += "?" + parsed.RawQuery
	}
	if parsed.Fragment != "" {
		rewritten += "#" + parsed.Fragment
	}
	return rewritten
}
