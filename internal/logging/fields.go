package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// PackageFields 标记包名与所在存储层（local/remote），供路由与维护日志复用。
func PackageFields(name, tier string) logrus.Fields {
	return logrus.Fields{
		"package": name,
		"tier":    tier,
	}
}

// RequestFields 提供请求级字段，供 HTTP 访问日志复用。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}

// MaintenanceFields 描述一次 sync/clean 操作。
func MaintenanceFields(action, name, versions, uplink string) logrus.Fields {
	fields := logrus.Fields{
		"action":   action,
		"package":  name,
		"versions": versions,
	}
	if uplink != "" {
		fields["uplink"] = uplink
	}
	return fields
}

// Discard 返回丢弃输出的 logger，组件在未注入 logger 时使用。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
