//go:build linux
// +build linux

// File: internal/cpuaffinity/cpuaffinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation via pthread_setaffinity_np, adapted verbatim from
// the teacher's affinity_linux.go.

package cpuaffinity

/*
#define _GNU_SOURCE
#include <sched.h>
#include <pthread.h>
#include <errno.h>

int go_setaffinity(int cpu) {
	cpu_set_t set;
	CPU_ZERO(&set);
	CPU_SET(cpu, &set);
	return pthread_setaffinity_np(pthread_self(), sizeof(set), &set);
}
*/
import "C"
import "fmt"

func setAffinityPlatform(cpuID int) error {
	ret := C.go_setaffinity(C.int(cpuID))
	if ret != 0 {
		return fmt.Errorf("cpuaffinity: pthread_setaffinity_np failed, code %d", ret)
	}
	return nil
}
