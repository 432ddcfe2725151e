package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供版本/策略/命中状态字段，供请求日志复用。
func RequestFields(version, strategy, method, requestURL string, cacheHit, stale bool) logrus.Fields {
	return logrus.Fields{
		"version":   version,
		"strategy":  strategy,
		"method":    method,
		"url":       requestURL,
		"cache_hit": cacheHit,
		"stale":     stale,
	}
}
