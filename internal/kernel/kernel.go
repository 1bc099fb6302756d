// Package kernel models compiled kernels by their launch-relevant attributes
// and answers occupancy queries for them against a concrete device. It is the
// in-process stand-in for what a GPU runtime reports about a loaded kernel.
package kernel

import (
	"fmt"

	"github.com/23skdu/longbow-archer/internal/device"
	"github.com/23skdu/longbow-archer/internal/grid"
	"github.com/23skdu/longbow-archer/internal/launch"
)

// Check interface compliance
var _ launch.Kernel = (*Bound)(nil)

// Descriptor carries the compile-time attributes of a kernel. Zero values
// mean "unknown": the corresponding limit falls back to the device's, or is
// not applied at all.
type Descriptor struct {
	Name string `json:"name" yaml:"name" cbor:"name"`

	// MaxThreadsPerBlock is the compiler-imposed block size limit, which may
	// be tighter than the device's.
	MaxThreadsPerBlock uint32 `json:"max_threads_per_block,omitempty" yaml:"max_threads_per_block,omitempty" cbor:"max_threads_per_block,omitempty"`

	// StaticSharedMemBytes is the shared memory the kernel uses per block
	// regardless of the launch configuration.
	StaticSharedMemBytes uint64 `json:"static_shared_mem_bytes,omitempty" yaml:"static_shared_mem_bytes,omitempty" cbor:"static_shared_mem_bytes,omitempty"`

	// RegistersPerThread caps occupancy through the register file when known.
	RegistersPerThread uint32 `json:"registers_per_thread,omitempty" yaml:"registers_per_thread,omitempty" cbor:"registers_per_thread,omitempty"`

	// MaxDynamicSharedMemBytes is the kernel's own opt-in limit on dynamic
	// shared memory.
	MaxDynamicSharedMemBytes uint64 `json:"max_dynamic_shared_mem_bytes,omitempty" yaml:"max_dynamic_shared_mem_bytes,omitempty" cbor:"max_dynamic_shared_mem_bytes,omitempty"`
}

// Bound couples a kernel descriptor with the device it would launch on.
// It implements launch.Kernel. The device record is externally owned and
// must outlive the Bound.
type Bound struct {
	desc Descriptor
	dev  *device.Properties
}

// Bind associates a descriptor with a device.
func Bind(desc Descriptor, dev *device.Properties) *Bound {
	return &Bound{desc: desc, dev: dev}
}

// Descriptor returns the kernel attributes the binding was created with.
func (b *Bound) Descriptor() Descriptor { return b.desc }

// MaxThreadsPerBlock implements launch.Kernel: the tighter of the kernel's
// and the device's block size limits.
func (b *Bound) MaxThreadsPerBlock() uint32 {
	max := b.dev.MaxThreads
	if b.desc.MaxThreadsPerBlock > 0 && b.desc.MaxThreadsPerBlock < max {
		max = b.desc.MaxThreadsPerBlock
	}
	return max
}

// StaticSharedMemPerBlock implements launch.Kernel.
func (b *Bound) StaticSharedMemPerBlock() uint64 { return b.desc.StaticSharedMemBytes }

// MaxDynamicSharedMemPerBlock implements launch.Kernel: the kernel's opt-in
// limit when declared, otherwise what the device's per-block budget leaves
// after static usage.
func (b *Bound) MaxDynamicSharedMemPerBlock() uint64 {
	if b.desc.MaxDynamicSharedMemBytes > 0 {
		return b.desc.MaxDynamicSharedMemBytes
	}
	limit := b.dev.SharedMemPerBlockBytes
	if limit == 0 || b.desc.StaticSharedMemBytes >= limit {
		return 0
	}
	return limit - b.desc.StaticSharedMemBytes
}

// MaxActiveBlocksPerMultiprocessor implements launch.Kernel: the number of
// blocks of the given volume simultaneously resident on one multiprocessor,
// as the minimum of the warp-slot, block-slot, shared-memory and register
// limits. Thread capacity is allocated in warp granularity.
func (b *Bound) MaxActiveBlocksPerMultiprocessor(blockThreads uint32, dynamicSMemBytes uint64) (uint32, error) {
	if blockThreads == 0 {
		return 0, fmt.Errorf("block volume must be positive")
	}
	if max := b.MaxThreadsPerBlock(); blockThreads > max {
		return 0, fmt.Errorf("block of %d threads exceeds the limit of %d for kernel %q on %q",
			blockThreads, max, b.desc.Name, b.dev.Name)
	}

	warp := b.dev.WarpSize
	warpsPerBlock := (blockThreads + warp - 1) / warp

	limit := b.dev.MaxBlocksPerSM
	if b.dev.MaxThreadsPerSM > 0 {
		byWarps := (b.dev.MaxThreadsPerSM / warp) / warpsPerBlock
		limit = min(limit, byWarps)
	}
	if smemPerBlock := b.desc.StaticSharedMemBytes + dynamicSMemBytes; smemPerBlock > 0 && b.dev.SharedMemPerSMBytes > 0 {
		limit = min(limit, uint32(b.dev.SharedMemPerSMBytes/smemPerBlock))
	}
	if b.desc.RegistersPerThread > 0 && b.dev.RegistersPerSM > 0 {
		regsPerBlock := uint64(b.desc.RegistersPerThread) * uint64(warpsPerBlock) * uint64(warp)
		limit = min(limit, uint32(uint64(b.dev.RegistersPerSM)/regsPerBlock))
	}
	return limit, nil
}

// MinGridParamsForMaxOccupancy implements launch.Kernel: it scans candidate
// block sizes from the largest allowed down in warp steps, and returns the
// largest one achieving maximal occupancy together with the smallest grid
// realizing it (active blocks per multiprocessor times multiprocessors).
func (b *Bound) MinGridParamsForMaxOccupancy(fixedSMemBytes uint64, determiner launch.SharedMemDeterminer) (grid.BlockDims, grid.GridDims, error) {
	warp := b.dev.WarpSize
	maxThreads := b.MaxThreadsPerBlock()
	if maxThreads == 0 || warp == 0 {
		return grid.BlockDims{}, grid.GridDims{}, fmt.Errorf("device %q reports no block capacity", b.dev.Name)
	}

	var bestThreads, bestBlocks uint32
	var bestOccupancy uint64
	try := func(threads uint32) {
		smem := fixedSMemBytes
		if determiner != nil {
			smem = determiner(int(threads))
		}
		blocks, err := b.MaxActiveBlocksPerMultiprocessor(threads, smem)
		if err != nil {
			return
		}
		if occ := uint64(blocks) * uint64(threads); occ > bestOccupancy {
			bestOccupancy = occ
			bestThreads = threads
			bestBlocks = blocks
		}
	}

	try(maxThreads)
	for threads := maxThreads / warp * warp; threads >= warp; threads -= warp {
		if threads != maxThreads {
			try(threads)
		}
	}
	if bestOccupancy == 0 {
		return grid.BlockDims{}, grid.GridDims{}, fmt.Errorf("%w: no block size of kernel %q fits on a multiprocessor of %q",
			launch.ErrLimitExceeded, b.desc.Name, b.dev.Name)
	}
	return grid.BlockSize(bestThreads), grid.GridSize(bestBlocks * b.dev.SMs), nil
}

// Occupancy reports the fraction of the multiprocessor's thread capacity a
// block configuration keeps busy.
func (b *Bound) Occupancy(blockThreads uint32, dynamicSMemBytes uint64) (float64, error) {
	if b.dev.MaxThreadsPerSM == 0 {
		return 0, fmt.Errorf("device %q does not report threads per multiprocessor", b.dev.Name)
	}
	blocks, err := b.MaxActiveBlocksPerMultiprocessor(blockThreads, dynamicSMemBytes)
	if err != nil {
		return 0, err
	}
	return float64(blocks) * float64(blockThreads) / float64(b.dev.MaxThreadsPerSM), nil
}
