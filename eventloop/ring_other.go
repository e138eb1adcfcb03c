//go:build !linux

package eventloop

import (
	"errors"
	"fmt"

	"github.com/joeycumines/go-tpcengine/uring"
)

func newRing(cfg *loopOptions) (uring.Ring, error) {
	if cfg.loopType == TypeSim {
		return uring.NewSim(cfg.ringEntries, cfg.executor), nil
	}
	return nil, fmt.Errorf("eventloop: %s loops require linux: %w", cfg.loopType, errors.ErrUnsupported)
}

func setAffinity(int) error {
	return fmt.Errorf("eventloop: thread affinity: %w", errors.ErrUnsupported)
}
