//go:build !linux

package engine

func affinityCount() (int, error) {
	return 0, ErrAffinityUnsupported
}
