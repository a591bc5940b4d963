//go:build linux

package harness

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinWorker locks the calling goroutine to its OS thread and restricts that
// thread to one half of the first 16 cores: ranks 0-7 get cores 0-7, the rest
// get cores 8-15. The thread stays locked and exits with the goroutine.
func pinWorker(rank int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	first := 0
	if rank > 7 {
		first = 8
	}
	ncpu := runtime.NumCPU()
	for c := first; c < first+8; c++ {
		set.Set(c % ncpu)
	}
	return unix.SchedSetaffinity(0, &set)
}
