package platforms

// Defaults 是内置的 platform key → 上游 origin 映射。键中的连字符在
// 路由层展开为多级路径前缀（cr-docker ⇒ /cr/docker/），因此这里的键
// 不允许包含斜杠。表构建后只读。
var Defaults = map[string]string{
	// 源码托管
	"gh":       "https://github.com",
	"gl":       "https://gitlab.com",
	"gitea":    "https://gitea.com",
	"codeberg": "https://codeberg.org",
	"sf":       "https://sourceforge.net",
	"aosp":     "https://android.googlesource.com",
	"bitbucket": "https://bitbucket.org",

	// AI 模型与数据集
	"hf":      "https://huggingface.co",
	"civitai": "https://civitai.com",

	// 包注册表
	"npm":             "https://registry.npmjs.org",
	"pypi":            "https://pypi.org",
	"pypi-files":      "https://files.pythonhosted.org",
	"conda":           "https://repo.anaconda.com",
	"conda-community": "https://conda.anaconda.org",
	"maven":           "https://repo1.maven.org/maven2",
	"apache":          "https://downloads.apache.org",
	"gradle":          "https://plugins.gradle.org",
	"homebrew":        "https://github.com/Homebrew",
	"homebrew-api":    "https://formulae.brew.sh/api",
	"homebrew-bottles": "https://ghcr.io/v2/homebrew/core",
	"rubygems":        "https://rubygems.org",
	"cran":            "https://cran.r-project.org",
	"cpan":            "https://www.cpan.org",
	"ctan":            "https://mirrors.ctan.org",
	"golang":          "https://proxy.golang.org",
	"nuget":           "https://api.nuget.org",
	"crates":          "https://crates.io",
	"packagist":       "https://repo.packagist.org",
	"hex":             "https://repo.hex.pm",
	"pub":             "https://pub.dev",
	"hackage":         "https://hackage.haskell.org",
	"julia":           "https://pkg.julialang.org",
	"flathub":         "https://dl.flathub.org",
	"nix":             "https://cache.nixos.org",
	"fdroid":          "https://f-droid.org",
	"jenkins":         "https://updates.jenkins.io",

	// Linux 发行版镜像
	"debian":    "https://deb.debian.org",
	"ubuntu":    "https://archive.ubuntu.com",
	"fedora":    "https://dl.fedoraproject.org",
	"epel":      "https://dl.fedoraproject.org/pub/epel",
	"rocky":     "https://download.rockylinux.org",
	"alma":      "https://repo.almalinux.org",
	"centos":    "https://mirror.stream.centos.org",
	"opensuse":  "https://download.opensuse.org",
	"alpine":    "https://dl-cdn.alpinelinux.org",
	"arch":      "https://geo.mirror.pkgbuild.com",
	"manjaro":   "https://download.manjaro.org",
	"kali":      "https://http.kali.org",
	"gentoo":    "https://distfiles.gentoo.org",
	"void":      "https://repo-default.voidlinux.org",
	"freebsd":   "https://download.freebsd.org",
	"openwrt":   "https://downloads.openwrt.org",
	"raspbian":  "https://archive.raspbian.org",
	"slackware": "https://mirrors.slackware.com",
	"deepin":    "https://community-packages.deepin.com",
	"openeuler": "https://repo.openeuler.org",

	// 容器镜像仓库（cr- 前缀，路由层额外处理 /v2 根）
	"cr-docker":       "https://registry-1.docker.io",
	"cr-ghcr":         "https://ghcr.io",
	"cr-gcr":          "https://gcr.io",
	"cr-mcr":          "https://mcr.microsoft.com",
	"cr-ecr":          "https://public.ecr.aws",
	"cr-quay":         "https://quay.io",
	"cr-k8s":          "https://registry.k8s.io",
	"cr-gitlab":       "https://registry.gitlab.com",
	"cr-redhat":       "https://registry.access.redhat.com",
	"cr-oracle":       "https://container-registry.oracle.com",
	"cr-cloudsmith":   "https://docker.cloudsmith.io",
	"cr-digitalocean": "https://registry.digitalocean.com",
	"cr-vmware":       "https://projects.registry.vmware.com",
	"cr-heroku":       "https://registry.heroku.com",
	"cr-suse":         "https://registry.suse.com",
	"cr-opensuse":     "https://registry.opensuse.org",
	"cr-gitpod":       "https://registry.gitpod.io",

	// AI 推理服务（ip- 前缀）
	"ip-openai":       "https://api.openai.com",
	"ip-anthropic":    "https://api.anthropic.com",
	"ip-gemini":       "https://generativelanguage.googleapis.com",
	"ip-cohere":       "https://api.cohere.ai",
	"ip-mistral":      "https://api.mistral.ai",
	"ip-groq":         "https://api.groq.com",
	"ip-cerebras":     "https://api.cerebras.ai",
	"ip-xai":          "https://api.x.ai",
	"ip-together":     "https://api.together.xyz",
	"ip-openrouter":   "https://openrouter.ai/api",
	"ip-replicate":    "https://api.replicate.com",
	"ip-fireworks":    "https://api.fireworks.ai",
	"ip-perplexity":   "https://api.perplexity.ai",
	"ip-deepseek":     "https://api.deepseek.com",
	"ip-moonshot":     "https://api.moonshot.cn",
	"ip-zhipu":        "https://open.bigmodel.cn",
	"ip-siliconflow":  "https://api.siliconflow.cn",
	"ip-novita":       "https://api.novita.ai",
	"ip-deepinfra":    "https://api.deepinfra.com",
	"ip-githubmodels": "https://models.github.ai",
	"ip-huggingface":  "https://api-inference.huggingface.co",
}
