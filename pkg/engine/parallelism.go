package engine

import (
	"errors"
	"runtime"
	"sync"
)

// MinParallelism is the build count used when no detection mechanism works.
const MinParallelism = 1

// ErrAffinityUnsupported is returned by the affinity query on platforms
// without a CPU-affinity API.
var ErrAffinityUnsupported = errors.New("cpu affinity query not supported on this platform")

// ParallelismDetector determines the usable build concurrency. It queries the
// CPU-affinity set of the current process, falls back to the logical CPU
// count, and finally to MinParallelism. The result is computed once and
// shared by every caller; Detect is safe for concurrent use.
type ParallelismDetector struct {
	affinity func() (int, error)
	cpuCount func() (int, error)

	once  sync.Once
	count int
}

// DetectorOption configures a ParallelismDetector.
type DetectorOption func(*ParallelismDetector)

// WithAffinityQuery replaces the CPU-affinity query.
func WithAffinityQuery(fn func() (int, error)) DetectorOption {
	return func(d *ParallelismDetector) {
		d.affinity = fn
	}
}

// WithCPUCountQuery replaces the logical CPU count query.
func WithCPUCountQuery(fn func() (int, error)) DetectorOption {
	return func(d *ParallelismDetector) {
		d.cpuCount = fn
	}
}

// NewParallelismDetector creates a detector using the host's queries unless
// overridden by opts.
func NewParallelismDetector(opts ...DetectorOption) *ParallelismDetector {
	d := &ParallelismDetector{
		affinity: affinityCount,
		cpuCount: logicalCPUCount,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the build count, always at least MinParallelism.
func (d *ParallelismDetector) Detect() int {
	d.once.Do(func() {
		d.count = d.detect()
	})
	return d.count
}

func (d *ParallelismDetector) detect() int {
	for _, query := range []func() (int, error){d.affinity, d.cpuCount} {
		if query == nil {
			continue
		}
		if n, err := query(); err == nil && n >= 1 {
			return n
		}
	}
	return MinParallelism
}

func logicalCPUCount() (int, error) {
	n := runtime.NumCPU()
	if n < 1 {
		return 0, errors.New("cpu count unavailable")
	}
	return n, nil
}
