// Package observability starts the optional continuous profiler.
package observability

import (
	"os"

	"github.com/grafana/pyroscope-go"

	"acquisition-service/pkg/config"
	"acquisition-service/pkg/logger"
)

// StartProfiling 启用时连接 pyroscope，返回停止函数
func StartProfiling(cfg config.ProfilingConfig, appName string) func() {
	if !cfg.Enabled || cfg.ServerAddress == "" {
		return func() {}
	}
	hostname, _ := os.Hostname()
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            map[string]string{"hostname": hostname},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		logger.Warnf("pyroscope disabled: %v", err)
		return func() {}
	}
	logger.Infof("pyroscope profiling enabled app=%s server=%s", appName, cfg.ServerAddress)
	return func() {
		if err := profiler.Stop(); err != nil {
			logger.Warnf("pyroscope stop failed: %v", err)
		}
	}
}
