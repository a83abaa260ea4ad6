package procmetrics

import (
	"math"
	"os"
	"time"

	"github.com/prometheus/procfs"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// ResourceSnapshot is a point-in-time copy of the cumulative accounting
// figures of the process. A field that could not be read is NaN.
type ResourceSnapshot struct {
	// UserTime and SystemTime are CPU seconds spent in each state.
	UserTime   float64
	SystemTime float64

	VoluntaryCtxSwitches   float64
	InvoluntaryCtxSwitches float64

	MinorFaults float64
	MajorFaults float64

	// BlocksRead and BlocksWritten count filesystem blocks of diskBlockSize bytes.
	BlocksRead    float64
	BlocksWritten float64

	// ObservedAt carries a monotonic clock reading.
	ObservedAt time.Time
}

func nanSnapshot(at time.Time) ResourceSnapshot {
	nan := math.NaN()
	return ResourceSnapshot{
		UserTime:               nan,
		SystemTime:             nan,
		VoluntaryCtxSwitches:   nan,
		InvoluntaryCtxSwitches: nan,
		MinorFaults:            nan,
		MajorFaults:            nan,
		BlocksRead:             nan,
		BlocksWritten:          nan,
		ObservedAt:             at,
	}
}

// MemoryUsage holds the memory figures of the process in bytes. Virtual is
// NaN when only the fallback source is available.
type MemoryUsage struct {
	Resident float64
	Virtual  float64
}

// Sampler reads raw resource figures from the OS. It holds no state between
// calls and never returns an error: unreadable fields come back as NaN.
type Sampler struct {
	caps   Capabilities
	logger *zap.Logger

	now       func() time.Time
	usage     func() (ResourceSnapshot, error)
	status    func(path string) (MemoryUsage, error)
	resident  func() (uint64, error)
	fileDescs func() (int, error)
}

// NewSampler returns a Sampler whose memory strategy follows caps.
func NewSampler(caps Capabilities, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		caps:      caps,
		logger:    logger,
		now:       time.Now,
		usage:     readUsage,
		status:    readStatusFile,
		resident:  residentFromProcess,
		fileDescs: countFileDescriptors,
	}
}

// Sample captures the cumulative CPU, scheduling, fault and block counters.
func (s *Sampler) Sample() ResourceSnapshot {
	at := s.now()
	snap, err := s.usage()
	if err != nil {
		s.logger.Debug("resource usage unavailable", zap.Error(err))
		return nanSnapshot(at)
	}
	snap.ObservedAt = at
	return snap
}

// Memory reads resident and virtual memory. The status record is used when
// it was readable at startup; otherwise only the resident figure is
// produced, from the generic process accessor.
func (s *Sampler) Memory() MemoryUsage {
	if s.caps.ProcStatus {
		mem, err := s.status(s.caps.Paths.StatusFile)
		if err != nil {
			s.logger.Debug("process status unreadable", zap.String("path", s.caps.Paths.StatusFile), zap.Error(err))
			return MemoryUsage{Resident: math.NaN(), Virtual: math.NaN()}
		}
		return mem
	}

	mem := MemoryUsage{Resident: math.NaN(), Virtual: math.NaN()}
	rss, err := s.resident()
	if err != nil {
		s.logger.Debug("resident memory unavailable", zap.Error(err))
		return mem
	}
	mem.Resident = float64(rss)
	return mem
}

// OpenFDs returns the number of open descriptors, or NaN.
func (s *Sampler) OpenFDs() float64 {
	n, err := s.fileDescs()
	if err != nil {
		s.logger.Debug("open descriptors unavailable", zap.Error(err))
		return math.NaN()
	}
	return float64(n)
}

func residentFromProcess() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

func countFileDescriptors() (int, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	return p.FileDescriptorsLen()
}
