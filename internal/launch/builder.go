// Package launch resolves partial, possibly over- or under-specified
// descriptions of a kernel launch into one complete, validated configuration.
//
// The Builder accumulates constraints through chainable setters: explicit
// block, grid or overall dimensions, occupancy-driven sizing modes, a dynamic
// shared memory policy, and optional kernel/device associations used for
// capability validation. Build performs the one-shot resolution. The builder
// is single-owner and not safe for concurrent use; independent builders are
// fully independent.
package launch

import (
	"fmt"

	"github.com/23skdu/longbow-archer/internal/grid"
)

// Builder accumulates launch constraints and resolves them on Build.
//
// Setters record the first violated precondition instead of returning an
// error, keeping the API chainable; the recorded error is available
// immediately via Err and is returned by Build. Once a builder has failed,
// further setters are no-ops.
type Builder struct {
	block    *grid.BlockDims
	gridDims *grid.GridDims
	overall  *grid.OverallDims

	cooperation bool
	smem        sharedMemSpec

	kernel Kernel
	device Device

	saturate     bool
	minOccupancy bool

	checked bool
	err     error
}

// NewBuilder returns an empty builder with capability validation enabled:
// dimensions and shared memory sizes are checked against the associated
// kernel and device both at the setters and at Build.
func NewBuilder() *Builder {
	return &Builder{checked: true}
}

// NewUncheckedBuilder returns an empty builder with capability validation
// elided. Structural errors (under- or over-specification, mode conflicts,
// zero axes) are still reported, but limit violations produce an undefined
// configuration rather than an error. Opt-in escape hatch for hot paths
// where the caller guarantees correctness.
func NewUncheckedBuilder() *Builder {
	return &Builder{}
}

// Err returns the first precondition violation recorded by a setter, or nil.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// BlockDims sets the threads per block. If grid and overall dimensions are
// both already set the new block must agree with them; an agreeing block
// still clears the overall dimensions (they were only pinned by the previous
// block) so they are re-derived at Build.
func (b *Builder) BlockDims(d grid.BlockDims) *Builder {
	if b.err != nil {
		return b
	}
	if err := grid.CheckBlockDims(d); err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrLimitExceeded, err))
	}
	if b.gridDims != nil && b.overall != nil && !grid.Consistent(d, *b.gridDims, *b.overall) {
		return b.fail(fmt.Errorf("%w: block %s with grid %s does not produce overall %s",
			ErrConflict, d, *b.gridDims, *b.overall))
	}
	if b.checked {
		if err := validateBlockAgainstKernel(b.kernel, d); err != nil {
			return b.fail(err)
		}
		if err := validateBlockAgainstDevice(b.device, d); err != nil {
			return b.fail(err)
		}
	}
	b.block = &d
	if b.gridDims != nil {
		b.overall = nil
	}
	return b
}

// Block sets three-axis block dimensions.
func (b *Builder) Block(x, y, z uint32) *Builder { return b.BlockDims(grid.Block(x, y, z)) }

// BlockSize sets one-dimensional block dimensions.
func (b *Builder) BlockSize(n uint32) *Builder { return b.BlockDims(grid.BlockSize(n)) }

// UseMaximumLinearBlock sets a one-dimensional block of the maximum size the
// associated kernel (preferred) or device allows.
func (b *Builder) UseMaximumLinearBlock() *Builder {
	if b.err != nil {
		return b
	}
	var max uint32
	switch {
	case b.kernel != nil:
		max = b.kernel.MaxThreadsPerBlock()
	case b.device != nil:
		max = b.device.MaxThreadsPerBlock()
	default:
		return b.fail(fmt.Errorf("%w: maximum-size linear block requested with no kernel or device associated",
			ErrUnderSpecified))
	}
	d := grid.BlockSize(max)
	if b.gridDims != nil && b.overall != nil {
		b.overall = nil
	}
	b.block = &d
	return b
}

// GridDims sets the number of blocks per axis. Setting an explicit grid
// silently leaves saturate-with-active-blocks mode, which derives its own
// grid. If block dimensions are already set, a previously set overall is
// cleared for re-derivation.
func (b *Builder) GridDims(d grid.GridDims) *Builder {
	if b.err != nil {
		return b
	}
	if err := grid.CheckGridDims(d); err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrLimitExceeded, err))
	}
	if b.block != nil && b.overall != nil && !grid.Consistent(*b.block, d, *b.overall) {
		return b.fail(fmt.Errorf("%w: grid %s with block %s does not produce overall %s",
			ErrConflict, d, *b.block, *b.overall))
	}
	if b.checked {
		if err := validateGridAgainstDevice(b.device, d); err != nil {
			return b.fail(err)
		}
	}
	if b.block != nil {
		b.overall = nil
	}
	b.gridDims = &d
	b.saturate = false
	return b
}

// Grid sets three-axis grid dimensions.
func (b *Builder) Grid(x, y, z uint32) *Builder { return b.GridDims(grid.Grid(x, y, z)) }

// GridSize sets one-dimensional grid dimensions.
func (b *Builder) GridSize(n uint32) *Builder { return b.GridDims(grid.GridSize(n)) }

// NumBlocks is an alias for GridSize.
func (b *Builder) NumBlocks(n uint32) *Builder { return b.GridSize(n) }

// OverallDims sets the total work-items per axis. If block and grid are both
// already set the overall must equal their product exactly; a mismatch is a
// conflict, never silently corrected. Clears saturate mode.
func (b *Builder) OverallDims(d grid.OverallDims) *Builder {
	if b.err != nil {
		return b
	}
	if err := grid.CheckOverallDims(d); err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrLimitExceeded, err))
	}
	if b.block != nil && b.gridDims != nil && !grid.Consistent(*b.block, *b.gridDims, d) {
		return b.fail(fmt.Errorf("%w: overall %s conflicts with the already-specified block %s and grid %s",
			ErrConflict, d, *b.block, *b.gridDims))
	}
	b.overall = &d
	b.saturate = false
	return b
}

// Overall sets three-axis overall dimensions.
func (b *Builder) Overall(x, y, z uint64) *Builder { return b.OverallDims(grid.Overall(x, y, z)) }

// OverallSize sets one-dimensional overall dimensions.
func (b *Builder) OverallSize(n uint64) *Builder { return b.OverallDims(grid.OverallSize(n)) }

// Dimensions sets block and grid together and clears any overall dimensions,
// which become derived again.
func (b *Builder) Dimensions(block grid.BlockDims, g grid.GridDims) *Builder {
	if b.err != nil {
		return b
	}
	if err := grid.CheckBlockDims(block); err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrLimitExceeded, err))
	}
	if err := grid.CheckGridDims(g); err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrLimitExceeded, err))
	}
	if b.checked {
		if err := b.validateComposite(block, g); err != nil {
			return b.fail(err)
		}
	}
	b.overall = nil
	b.block = &block
	b.gridDims = &g
	return b
}

// BlockCooperation sets whether blocks in the grid may synchronize with each
// other during execution.
func (b *Builder) BlockCooperation(cooperation bool) *Builder {
	if b.err != nil {
		return b
	}
	b.cooperation = cooperation
	return b
}

// BlocksMayCooperate enables cooperative launch.
func (b *Builder) BlocksMayCooperate() *Builder { return b.BlockCooperation(true) }

// BlocksDontCooperate disables cooperative launch.
func (b *Builder) BlocksDontCooperate() *Builder { return b.BlockCooperation(false) }

// DynamicSharedMemSize fixes the dynamic shared memory size in bytes,
// discarding any previously set determiner.
func (b *Builder) DynamicSharedMemSize(bytes uint64) *Builder {
	if b.err != nil {
		return b
	}
	if b.checked {
		if err := validateSharedMem(b.kernel, b.device, bytes); err != nil {
			return b.fail(err)
		}
	}
	b.smem = fixedSharedMem(bytes)
	return b
}

// DynamicSharedMemDeterminer sets a function deriving the dynamic shared
// memory size from the resolved block volume, discarding any previously fixed
// size. It is validated lazily at Build, once the block volume is known.
// A nil determiner is equivalent to DynamicSharedMemSize(0).
func (b *Builder) DynamicSharedMemDeterminer(fn SharedMemDeterminer) *Builder {
	if b.err != nil {
		return b
	}
	b.smem = determinedSharedMem(fn)
	return b
}

// NoDynamicSharedMem fixes the dynamic shared memory size at zero.
func (b *Builder) NoDynamicSharedMem() *Builder { return b.DynamicSharedMemSize(0) }

// Kernel associates a kernel. Already-set block dimensions (or block
// dimensions derivable from grid and overall) and a fixed shared memory size
// are validated against the new kernel's limits; grid and overall dimensions
// are not retroactively re-validated.
func (b *Builder) Kernel(k Kernel) *Builder {
	if b.err != nil {
		return b
	}
	if b.checked && k != nil {
		if d, ok := b.effectiveBlock(); ok {
			if err := validateBlockAgainstKernel(k, d); err != nil {
				return b.fail(err)
			}
		}
		if b.smem.determiner == nil {
			if err := validateSharedMem(k, b.device, b.smem.fixedBytes); err != nil {
				return b.fail(err)
			}
		}
	}
	b.kernel = k
	return b
}

// NoKernel clears the kernel association.
func (b *Builder) NoKernel() *Builder {
	if b.err != nil {
		return b
	}
	b.kernel = nil
	return b
}

// Device associates a device, validating already-set block dimensions and a
// fixed shared memory size against its limits.
func (b *Builder) Device(d Device) *Builder {
	if b.err != nil {
		return b
	}
	if b.checked && d != nil {
		if dims, ok := b.effectiveBlock(); ok {
			if err := validateBlockAgainstDevice(d, dims); err != nil {
				return b.fail(err)
			}
		}
		if b.smem.determiner == nil {
			if err := validateSharedMem(b.kernel, d, b.smem.fixedBytes); err != nil {
				return b.fail(err)
			}
		}
	}
	b.device = d
	return b
}

// NoDevice clears the device association.
func (b *Builder) NoDevice() *Builder {
	if b.err != nil {
		return b
	}
	b.device = nil
	return b
}

// SaturateWithActiveBlocks requests a one-dimensional grid of exactly as many
// blocks as the device can keep simultaneously active for the associated
// kernel, given the already-set block dimensions. Grid and overall dimensions
// must not have been set. Leaves min-params-for-max-occupancy mode.
func (b *Builder) SaturateWithActiveBlocks() *Builder {
	if b.err != nil {
		return b
	}
	if b.kernel == nil {
		return b.fail(fmt.Errorf("%w: a kernel must be associated to determine how many blocks saturate the device",
			ErrInvalidMode))
	}
	if b.block == nil {
		return b.fail(fmt.Errorf("%w: block dimensions must be known to determine how many blocks saturate the device",
			ErrInvalidMode))
	}
	if b.gridDims != nil || b.overall != nil {
		return b.fail(fmt.Errorf("%w: grid or overall dimensions already specified, conflicting with saturating the device with active blocks",
			ErrConflict))
	}
	b.minOccupancy = false
	b.saturate = true
	return b
}

// MinParamsForMaxOccupancy requests the smallest grid, with block dimensions
// chosen by the kernel's occupancy query, that achieves maximum occupancy.
// Block, grid and overall dimensions must all be unset. Leaves saturate mode.
func (b *Builder) MinParamsForMaxOccupancy() *Builder {
	if b.err != nil {
		return b
	}
	if b.kernel == nil {
		return b.fail(fmt.Errorf("%w: a kernel must be associated to determine the minimum grid parameters for maximum occupancy",
			ErrInvalidMode))
	}
	if b.block != nil || b.gridDims != nil || b.overall != nil {
		return b.fail(fmt.Errorf("%w: block, grid or overall dimensions already specified, conflicting with occupancy-derived parameters",
			ErrConflict))
	}
	b.saturate = false
	b.minOccupancy = true
	return b
}

// FromConfig adopts a previously built configuration: its block and grid
// become explicit dimensions (overall is cleared), its shared memory size
// becomes a fixed size, and its cooperation flag is taken over.
func (b *Builder) FromConfig(cfg Config) *Builder {
	if b.err != nil {
		return b
	}
	if b.checked {
		if err := b.validateComposite(cfg.Block, cfg.Grid); err != nil {
			return b.fail(err)
		}
		if err := validateSharedMem(b.kernel, b.device, cfg.DynamicSharedMemBytes); err != nil {
			return b.fail(err)
		}
	}
	b.cooperation = cfg.BlockCooperation
	b.smem = fixedSharedMem(cfg.DynamicSharedMemBytes)
	b.overall = nil
	b.block = &cfg.Block
	b.gridDims = &cfg.Grid
	return b
}

// effectiveBlock returns the block dimensions the builder would resolve to,
// when they are already determined: either explicitly set, or implied by a
// grid plus overall pair.
func (b *Builder) effectiveBlock() (grid.BlockDims, bool) {
	if b.block != nil {
		return *b.block, true
	}
	if b.gridDims != nil && b.overall != nil {
		return grid.DivRoundingUpBlock(*b.overall, *b.gridDims), true
	}
	return grid.BlockDims{}, false
}

func (b *Builder) validateComposite(block grid.BlockDims, g grid.GridDims) error {
	if err := validateBlockAgainstKernel(b.kernel, block); err != nil {
		return err
	}
	if err := validateBlockAgainstDevice(b.device, block); err != nil {
		return err
	}
	return validateGridAgainstDevice(b.device, g)
}

// compositeDims runs the derivation-mode dispatch and the explicit
// combination resolution. It reads builder state but never mutates it.
func (b *Builder) compositeDims() (grid.BlockDims, grid.GridDims, error) {
	var none grid.BlockDims
	var noneG grid.GridDims

	if b.saturate {
		if b.minOccupancy {
			return none, noneG, fmt.Errorf("%w: cannot both saturate the device with active blocks and use the minimum parameters for maximum occupancy",
				ErrInvalidMode)
		}
		if b.kernel == nil {
			return none, noneG, fmt.Errorf("%w: a kernel must be associated to determine how many blocks saturate the device",
				ErrInvalidMode)
		}
		if b.block == nil {
			return none, noneG, fmt.Errorf("%w: block dimensions must be known to determine how many blocks saturate the device",
				ErrInvalidMode)
		}
		if b.gridDims != nil || b.overall != nil {
			return none, noneG, fmt.Errorf("%w: grid or overall dimensions specified while saturating the device with active blocks",
				ErrConflict)
		}
		if b.device == nil {
			return none, noneG, fmt.Errorf("%w: a device must be associated to take the multiprocessor count from",
				ErrUnderSpecified)
		}
		block := *b.block
		dsmem := b.smem.bytesFor(block.Volume())
		perSM, err := b.kernel.MaxActiveBlocksPerMultiprocessor(uint32(block.Volume()), dsmem)
		if err != nil {
			return none, noneG, fmt.Errorf("max active blocks query: %w", err)
		}
		if perSM == 0 {
			return none, noneG, fmt.Errorf("%w: no block of %s with %d bytes of dynamic shared memory fits on a multiprocessor",
				ErrLimitExceeded, block, dsmem)
		}
		return block, grid.GridSize(perSM * b.device.MultiprocessorCount()), nil
	}

	if b.minOccupancy {
		if b.kernel == nil {
			return none, noneG, fmt.Errorf("%w: a kernel must be associated to determine the minimum grid parameters for maximum occupancy",
				ErrInvalidMode)
		}
		if b.block != nil || b.gridDims != nil || b.overall != nil {
			return none, noneG, fmt.Errorf("%w: block, grid or overall dimensions specified while deriving occupancy-optimal parameters",
				ErrConflict)
		}
		block, g, err := b.kernel.MinGridParamsForMaxOccupancy(b.smem.fixedBytes, b.smem.determiner)
		if err != nil {
			return none, noneG, fmt.Errorf("min grid params query: %w", err)
		}
		return block, g, nil
	}

	switch {
	case b.block != nil && b.overall != nil:
		return *b.block, grid.DivRoundingUp(*b.overall, *b.block), nil
	case b.gridDims != nil && b.overall != nil:
		return grid.DivRoundingUpBlock(*b.overall, *b.gridDims), *b.gridDims, nil
	case b.gridDims != nil && b.block != nil:
		return *b.block, *b.gridDims, nil
	}

	switch {
	case b.block == nil && b.gridDims == nil:
		return none, noneG, fmt.Errorf("%w: neither block nor grid dimensions have been specified",
			ErrUnderSpecified)
	case b.block == nil:
		return none, noneG, fmt.Errorf("%w: grid dimensions are only specified in blocks, not threads, and no block dimensions were given",
			ErrUnderSpecified)
	default:
		return none, noneG, fmt.Errorf("%w: only block dimensions have been specified, nothing to derive the grid from",
			ErrUnderSpecified)
	}
}

// Build resolves the accumulated constraints into a complete configuration.
// It is idempotent and does not mutate the builder; it may be called
// repeatedly to preview, with setter calls in between.
func (b *Builder) Build() (Config, error) {
	if b.err != nil {
		buildErrors.WithLabelValues(errorReason(b.err)).Inc()
		return Config{}, b.err
	}
	block, g, err := b.compositeDims()
	if err != nil {
		buildErrors.WithLabelValues(errorReason(err)).Inc()
		return Config{}, err
	}
	smemBytes := b.smem.bytesFor(block.Volume())
	if b.checked {
		if err := b.validateComposite(block, g); err != nil {
			buildErrors.WithLabelValues(errorReason(err)).Inc()
			return Config{}, err
		}
		if err := validateSharedMem(b.kernel, b.device, smemBytes); err != nil {
			buildErrors.WithLabelValues(errorReason(err)).Inc()
			return Config{}, err
		}
	}
	buildsTotal.Inc()
	return Config{
		Block:                 block,
		Grid:                  g,
		DynamicSharedMemBytes: smemBytes,
		BlockCooperation:      b.cooperation,
	}, nil
}

// ResolveDimensions pins the derived dimensions back into the builder as
// explicit ones: block and grid are materialized, overall is synthesized as
// grid x block when it was never supplied (a user-supplied overall is kept
// verbatim), and any derivation mode is left, its result now explicit.
func (b *Builder) ResolveDimensions() error {
	if b.err != nil {
		return b.err
	}
	block, g, err := b.compositeDims()
	if err != nil {
		return err
	}
	b.saturate = false
	b.minOccupancy = false
	b.block = &block
	b.gridDims = &g
	if b.overall == nil {
		o := g.Times(block)
		b.overall = &o
	}
	return nil
}
