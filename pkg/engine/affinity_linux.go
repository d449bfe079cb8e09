//go:build linux

package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// affinityCount returns the number of CPUs the current process may run on.
func affinityCount() (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, fmt.Errorf("sched_getaffinity: %w", err)
	}
	return set.Count(), nil
}
