package ops

import (
	"fmt"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
)

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...interface{})  { logs.Debugf(format, args...) }
func (profilerLogger) Debugf(format string, args ...interface{}) {}
func (profilerLogger) Errorf(format string, args ...interface{}) { logs.Warnf(format, args...) }

// StartProfiler starts pyroscope when enabled. The returned stop func is always safe to call.
func StartProfiler(cfg PyroscopeConfig) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("invalid pyroscope config: server address is empty")
	}
	name := cfg.ApplicationName
	if name == "" {
		name = "papertrader"
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: name,
		ServerAddress:   cfg.ServerAddress,
		Tags:            cfg.Tags,
		Logger:          profilerLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope: %w", err)
	}
	logs.Infof("pyroscope profiling %s to %s", name, cfg.ServerAddress)
	return func() { _ = profiler.Stop() }, nil
}
