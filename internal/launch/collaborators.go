package launch

import "github.com/23skdu/longbow-archer/internal/grid"

// SharedMemDeterminer computes the dynamic shared memory size, in bytes, for
// a given block volume (threads per block). It must be pure: the builder may
// invoke it lazily and repeatedly.
type SharedMemDeterminer func(blockVolume int) uint64

// Kernel is the capability surface the builder needs from an associated
// kernel. Implementations are externally owned; the builder holds the
// reference only for the duration of validation and resolution calls.
type Kernel interface {
	// MaxThreadsPerBlock is the largest block volume the kernel can launch
	// with, which may be tighter than the device limit.
	MaxThreadsPerBlock() uint32

	// StaticSharedMemPerBlock is the shared memory the kernel uses per block
	// regardless of the launch configuration.
	StaticSharedMemPerBlock() uint64

	// MaxDynamicSharedMemPerBlock is the largest launch-time shared memory
	// size the kernel accepts.
	MaxDynamicSharedMemPerBlock() uint64

	// MaxActiveBlocksPerMultiprocessor is the occupancy query: how many
	// blocks of the given volume, each using the given dynamic shared memory,
	// can be resident on one multiprocessor at once.
	MaxActiveBlocksPerMultiprocessor(blockThreads uint32, dynamicSMemBytes uint64) (uint32, error)

	// MinGridParamsForMaxOccupancy returns the smallest grid, and the block
	// dimensions, that achieve maximum occupancy. When determiner is non-nil
	// it supplies the dynamic shared memory size per candidate block volume;
	// otherwise fixedSMemBytes is used throughout.
	MinGridParamsForMaxOccupancy(fixedSMemBytes uint64, determiner SharedMemDeterminer) (grid.BlockDims, grid.GridDims, error)
}

// Device is the capability surface the builder needs from an associated
// device.
type Device interface {
	MultiprocessorCount() uint32
	MaxThreadsPerBlock() uint32
	MaxBlockDims() grid.BlockDims
	MaxGridDims() grid.GridDims
	MaxSharedMemPerBlock() uint64
}
