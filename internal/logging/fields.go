package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action 等基础字段，便于不同入口复用。
func BaseFields(action string) logrus.Fields {
	return logrus.Fields{
		"action": action,
	}
}

// RequestFields 提供 platform/upstream/命中状态字段，供代理请求日志复用。
func RequestFields(platform, upstream string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"platform":  platform,
		"upstream":  upstream,
		"cache_hit": cacheHit,
	}
}
