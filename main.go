package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/xget/xget/internal/cache"
	"github.com/xget/xget/internal/config"
	"github.com/xget/xget/internal/logging"
	"github.com/xget/xget/internal/platforms"
	"github.com/xget/xget/internal/proxy"
	"github.com/xget/xget/internal/server"
	"github.com/xget/xget/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg := config.FromEnv()

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	registry := platforms.NewDefaultRegistry()

	if opts.checkOnly {
		fields := logging.BaseFields("check_config")
		fields["platforms"] = len(registry.Keys())
		fields["listen_port"] = cfg.ListenPort
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 平台注册表 → 磁盘缓存 → 取回编排 → Fiber server，
	// 所有请求共享同一套路由与缓存实例。
	var store cache.Store
	if cfg.StoragePath != "" {
		store, err = cache.NewStore(cfg.StoragePath)
		if err != nil {
			fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
			return 1
		}
	}
	cacheManager := cache.NewManager(store, cfg.CacheDuration, logger)

	auth := proxy.NewAuthNegotiator(registry, logger)
	fetcher := proxy.NewOrchestrator(cfg, auth, logger)
	handler := proxy.NewHandler(cfg, registry, fetcher, auth, cacheManager, server.GoSink{}, logger)

	fields := logging.BaseFields("startup")
	fields["platforms"] = len(registry.Keys())
	fields["listen_port"] = cfg.ListenPort
	fields["cache_enabled"] = store != nil
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, handler, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数。配置全部来自环境变量，没有配置文件。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("xget", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		checkOnly bool
		showVer   bool
	)

	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	return cliOptions{
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, proxyHandler server.ProxyHandler, logger *logrus.Logger) error {
	port := cfg.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Config:     cfg,
		Proxy:      proxyHandler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
