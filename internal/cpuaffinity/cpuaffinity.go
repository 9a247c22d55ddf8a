// File: internal/cpuaffinity/cpuaffinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for pinning the calling OS thread to a logical CPU.
// Adapted from the teacher's top-level affinity package: same
// SetAffinity(cpuID) contract and per-platform build-tag split, moved under
// internal/ and renamed since the Engine is its only caller — an
// application never pins threads directly, it only requests a CPU index
// through EngineConfig-adjacent Engine options.

package cpuaffinity

// SetAffinity pins the calling OS thread to cpuID on supported platforms.
// On unsupported platforms it returns an error; callers should treat that
// as non-fatal, since CPU pinning is a performance hint, not a correctness
// requirement.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}
