package launch

import (
	"fmt"

	"github.com/23skdu/longbow-archer/internal/grid"
)

// Compatibility validators. Each consults an externally-owned collaborator
// and reports ErrLimitExceeded on violation. All of them treat a nil
// collaborator, or a zero reported limit, as "unknown" and pass.

func validateBlockAgainstKernel(k Kernel, d grid.BlockDims) error {
	if k == nil {
		return nil
	}
	if max := k.MaxThreadsPerBlock(); max > 0 && d.Volume() > uint64(max) {
		return fmt.Errorf("%w: block %s has %d threads, kernel allows at most %d",
			ErrLimitExceeded, d, d.Volume(), max)
	}
	return nil
}

func validateBlockAgainstDevice(dev Device, d grid.BlockDims) error {
	if dev == nil {
		return nil
	}
	axes := dev.MaxBlockDims()
	if d.X > axes.X || d.Y > axes.Y || d.Z > axes.Z {
		return fmt.Errorf("%w: block %s exceeds device per-axis maxima %s",
			ErrLimitExceeded, d, axes)
	}
	if max := dev.MaxThreadsPerBlock(); max > 0 && d.Volume() > uint64(max) {
		return fmt.Errorf("%w: block %s has %d threads, device allows at most %d",
			ErrLimitExceeded, d, d.Volume(), max)
	}
	return nil
}

func validateGridAgainstDevice(dev Device, g grid.GridDims) error {
	if dev == nil {
		return nil
	}
	axes := dev.MaxGridDims()
	if g.X > axes.X || g.Y > axes.Y || g.Z > axes.Z {
		return fmt.Errorf("%w: grid %s exceeds device per-axis maxima %s",
			ErrLimitExceeded, g, axes)
	}
	return nil
}

// validateSharedMem checks a concrete dynamic shared memory size against the
// kernel's own limit and against what the device leaves over after the
// kernel's static usage.
func validateSharedMem(k Kernel, dev Device, n uint64) error {
	if k != nil {
		if max := k.MaxDynamicSharedMemPerBlock(); max > 0 && n > max {
			return fmt.Errorf("%w: %d bytes of dynamic shared memory, kernel allows at most %d",
				ErrLimitExceeded, n, max)
		}
	}
	if dev != nil {
		limit := dev.MaxSharedMemPerBlock()
		if limit > 0 {
			if k != nil {
				static := k.StaticSharedMemPerBlock()
				if static >= limit {
					return fmt.Errorf("%w: kernel static shared memory (%d bytes) already consumes the device per-block limit (%d bytes)",
						ErrLimitExceeded, static, limit)
				}
				limit -= static
			}
			if n > limit {
				return fmt.Errorf("%w: %d bytes of dynamic shared memory, only %d available per block",
					ErrLimitExceeded, n, limit)
			}
		}
	}
	return nil
}
