//go:build linux

package eventloop

import (
	"github.com/joeycumines/go-tpcengine/uring"
	"golang.org/x/sys/unix"
)

func newRing(cfg *loopOptions) (uring.Ring, error) {
	if cfg.loopType == TypeSim {
		exec := cfg.executor
		if !cfg.executorSet {
			exec = uring.SyscallExecutor{}
		}
		return uring.NewSim(cfg.ringEntries, exec), nil
	}
	return uring.New(cfg.ringEntries)
}

func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 is the calling thread
	return unix.SchedSetaffinity(0, &set)
}
