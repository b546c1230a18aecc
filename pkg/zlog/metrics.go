package zlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
)

var logEntries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "imsync",
		Name:      "log_entries_total",
		Help:      "Number of log entries by level.",
	},
	[]string{"service", "level"},
)

// RegisterMetrics 由 main 注册到自己的 registry
func RegisterMetrics(reg prometheus.Registerer) error {
	return reg.Register(logEntries)
}

// metricsCore 按级别统计写出的日志条数
type metricsCore struct {
	zapcore.Core
	service string
}

func (m metricsCore) With(fields []zapcore.Field) zapcore.Core {
	return metricsCore{Core: m.Core.With(fields), service: m.service}
}

func (m metricsCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	// 只统计真正会写出的条目
	if !m.Core.Enabled(ent.Level) {
		return ce
	}
	logEntries.WithLabelValues(m.service, ent.Level.String()).Inc()
	return m.Core.Check(ent, ce)
}
