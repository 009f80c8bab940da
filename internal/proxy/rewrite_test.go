package proxy

import (
	"strings"
	"testing"
)

const proxyOrigin = "https://xget.example.com"

func TestRewritePyPIIndexLinks(t *testing.T) {
	page := `<!DOCTYPE html><html><body>
<a href="https://files.pythonhosted.org/packages/ab/cd/requests-2.31.0.tar.gz#sha256=deadbeef"
   data-dist-info-metadata="https://files.pythonhosted.org/packages/ab/cd/requests-2.31.0.dist-info/METADATA?x=1">requests</a>
<a href="https://pypi.org/simple/other/">other</a>
</body></html>`

	rewritten, changed := RewriteResponseBody("pypi", proxyOrigin, "text/html; charset=utf-8", []byte(page))
	if !changed {
		t.Fatal("expected rewrite")
	}
	out := string(rewritten)

	if !strings.Contains(out, proxyOrigin+"/pypi/files/packages/ab/cd/requests-2.31.0.tar.gz#sha256=deadbeef") {
		t.Fatalf("href not rewritten: %s", out)
	}
	if !strings.Contains(out, proxyOrigin+"/pypi/files/packages/ab/cd/requests-2.31.0.dist-info/METADATA?x=1") {
		t.Fatalf("metadata attr not rewritten: %s", out)
	}
	if strings.Contains(out, "files.pythonhosted.org") {
		t.Fatalf("upstream host still present: %s", out)
	}
	// 非文件托管源的链接保持不变。
	if !strings.Contains(out, `href="https://pypi.org/simple/other/"`) {
		t.Fatalf("unrelated link must stay untouched: %s", out)
	}
}

func TestRewriteNpmMetadata(t *testing.T) {
	doc := `{"versions":{"1.0.0":{"dist":{"tarball":"https://registry.npmjs.org/lodash/-/lodash-1.0.0.tgz"}}}}`

	rewritten, changed := RewriteResponseBody("npm", proxyOrigin, "application/json", []byte(doc))
	if !changed {
		t.Fatal("expected rewrite")
	}
	want := `"tarball":"` + proxyOrigin + `/npm/lodash/-/lodash-1.0.0.tgz"`
	if !strings.Contains(string(rewritten), want) {
		t.Fatalf("tarball not rewritten: %s", rewritten)
	}
}

func TestRewriteSkipsOtherPlatformsAndTypes(t *testing.T) {
	body := []byte(`https://registry.npmjs.org/lodash`)

	if _, changed := RewriteResponseBody("gh", proxyOrigin, "application/json", body); changed {
		t.Fatal("gh responses must not be rewritten")
	}
	if _, changed := RewriteResponseBody("npm", proxyOrigin, "application/octet-stream", body); changed {
		t.Fatal("non-JSON npm responses must not be rewritten")
	}
	if _, changed := RewriteResponseBody("pypi", proxyOrigin, "application/json", body); changed {
		t.Fatal("non-HTML pypi responses must not be rewritten")
	}
}

func TestRewriteNpmNoMatchReportsUnchanged(t *testing.T) {
	body := []byte(`{"name":"lodash"}`)
	rewritten, changed := RewriteResponseBody("npm", proxyOrigin, "application/json", body)
	if changed {
		t.Fatal("expected no change")
	}
	if string(rewritten) != string(body) {
		t.Fatalf("body mutated: %s", rewritten)
	}
}
