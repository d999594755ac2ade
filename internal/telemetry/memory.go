package telemetry

import (
	"runtime"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

// MemorySampler reads the resident set size of the current process.
type MemorySampler struct {
	proc   *procfs.Proc
	logger *zap.Logger
}

// NewMemorySampler resolves /proc/self once. When procfs is unavailable
// (non-Linux hosts, restricted containers) Sample reports runtime.MemStats.Sys.
func NewMemorySampler(logger *zap.Logger) *MemorySampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemorySampler{logger: logger}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		logger.Debug("procfs unavailable; using runtime memory stats", zap.Error(err))
		return s
	}
	proc, err := fs.Self()
	if err != nil {
		logger.Debug("procfs self unavailable; using runtime memory stats", zap.Error(err))
		return s
	}
	s.proc = &proc
	return s
}

// Sample returns resident memory in bytes. It never fails.
func (s *MemorySampler) Sample() uint64 {
	if s.proc != nil {
		stat, err := s.proc.Stat()
		if err == nil && stat.ResidentMemory() > 0 {
			return uint64(stat.ResidentMemory())
		}
		if err != nil {
			s.logger.Debug("procfs stat failed; using runtime memory stats", zap.Error(err))
		}
	}
	return runtimeMemory()
}

func runtimeMemory() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Sys
}
