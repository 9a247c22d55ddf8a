//go:build !linux && !windows
// +build !linux,!windows

// File: internal/cpuaffinity/cpuaffinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub for platforms without a thread-affinity API, adapted from the
// teacher's affinity_stub.go.

package cpuaffinity

import "errors"

func setAffinityPlatform(cpuID int) error {
	return errors.New("cpuaffinity: not supported on this platform")
}
