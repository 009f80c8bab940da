// Package config 从环境变量构建一次性的只读运行配置。没有配置文件：
// 部署形态贴近边缘运行时，所有旋钮均为字符串环境变量，解析失败或缺失时
// 静默回退默认值，绝不因配置问题拒绝启动。
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 默认值与上游行为保持一致，修改前先确认代理语义不受影响。
const (
	DefaultListenPort     = 8080
	DefaultTimeoutSeconds = 30
	DefaultMaxRetries     = 3
	DefaultRetryDelayMs   = 1000
	DefaultCacheSeconds   = 1800
	DefaultMaxPathLength  = 2048
)

// Config 是整个请求管线共享的只读配置。构造一次后按引用传递，
// 不存在可变全局单例。
type Config struct {
	ListenPort    int
	LogLevel      string
	LogFilePath   string
	LogMaxSize    int
	LogMaxBackups int
	LogCompress   bool
	StoragePath   string

	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	CacheDuration  time.Duration
	AllowedMethods []string
	AllowedOrigins []string
	MaxPathLength  int
}

// FromEnv 读取环境变量并返回配置。任何字段解析失败都回退默认值。
func FromEnv() *Config {
	v := viper.New()
	v.AutomaticEnv()

	return &Config{
		ListenPort:    intOr(v, "LISTEN_PORT", DefaultListenPort),
		LogLevel:      stringOr(v, "LOG_LEVEL", "info"),
		LogFilePath:   v.GetString("LOG_FILE_PATH"),
		LogMaxSize:    intOr(v, "LOG_MAX_SIZE", 100),
		LogMaxBackups: intOr(v, "LOG_MAX_BACKUPS", 10),
		LogCompress:   boolOr(v, "LOG_COMPRESS", true),
		StoragePath:   v.GetString("STORAGE_PATH"),

		Timeout:        time.Duration(intOr(v, "TIMEOUT_SECONDS", DefaultTimeoutSeconds)) * time.Second,
		MaxRetries:     intOr(v, "MAX_RETRIES", DefaultMaxRetries),
		RetryDelay:     time.Duration(intOr(v, "RETRY_DELAY_MS", DefaultRetryDelayMs)) * time.Millisecond,
		CacheDuration:  time.Duration(intOr(v, "CACHE_DURATION", DefaultCacheSeconds)) * time.Second,
		AllowedMethods: listOr(v, "ALLOWED_METHODS", []string{"GET", "HEAD"}, strings.ToUpper),
		AllowedOrigins: listOr(v, "ALLOWED_ORIGINS", []string{"*"}, nil),
		MaxPathLength:  intOr(v, "MAX_PATH_LENGTH", DefaultMaxPathLength),
	}
}

// MethodAllowed 判断方法是否被允许。协议类请求（Git/Docker/AI 等）在
// 基础列表外额外放行写类方法，与上游协议要求保持一致。
func (c *Config) MethodAllowed(method string, protocolRequest bool) bool {
	method = strings.ToUpper(method)
	for _, allowed := range c.AllowedMethods {
		if allowed == method {
			return true
		}
	}
	if !protocolRequest {
		return false
	}
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}

// OriginAllowed 实现 ALLOWED_ORIGINS 的通配/精确匹配。
func (c *Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func stringOr(v *viper.Viper, key, def string) string {
	if raw := strings.TrimSpace(v.GetString(key)); raw != "" {
		return raw
	}
	return def
}

func intOr(v *viper.Viper, key string, def int) int {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func boolOr(v *viper.Viper, key string, def bool) bool {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return parsed
}

func listOr(v *viper.Viper, key string, def []string, normalize func(string) string) []string {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	var result []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if normalize != nil {
			item = normalize(item)
		}
		result = append(result, item)
	}
	if len(result) == 0 {
		return def
	}
	return result
}
