// Package grid provides the dimension types and arithmetic used to describe
// GPU kernel launch shapes: threads per block, blocks per grid, and the
// overall number of work-items the launch is meant to cover.
package grid

import "fmt"

// BlockDims is the number of threads along each axis of a single block.
type BlockDims struct {
	X uint32 `json:"x" yaml:"x" cbor:"x"`
	Y uint32 `json:"y" yaml:"y" cbor:"y"`
	Z uint32 `json:"z" yaml:"z" cbor:"z"`
}

// GridDims is the number of blocks along each axis of the launch grid.
type GridDims struct {
	X uint32 `json:"x" yaml:"x" cbor:"x"`
	Y uint32 `json:"y" yaml:"y" cbor:"y"`
	Z uint32 `json:"z" yaml:"z" cbor:"z"`
}

// OverallDims is the total number of work-items along each axis, independent
// of how they are decomposed into blocks. Kept 64-bit: a grid axis times a
// block axis can exceed 32 bits.
type OverallDims struct {
	X uint64 `json:"x" yaml:"x" cbor:"x"`
	Y uint64 `json:"y" yaml:"y" cbor:"y"`
	Z uint64 `json:"z" yaml:"z" cbor:"z"`
}

// Block is a convenience constructor for BlockDims.
func Block(x, y, z uint32) BlockDims { return BlockDims{X: x, Y: y, Z: z} }

// BlockSize returns one-dimensional block dimensions.
func BlockSize(n uint32) BlockDims { return BlockDims{X: n, Y: 1, Z: 1} }

// Grid is a convenience constructor for GridDims.
func Grid(x, y, z uint32) GridDims { return GridDims{X: x, Y: y, Z: z} }

// GridSize returns one-dimensional grid dimensions.
func GridSize(n uint32) GridDims { return GridDims{X: n, Y: 1, Z: 1} }

// Overall is a convenience constructor for OverallDims.
func Overall(x, y, z uint64) OverallDims { return OverallDims{X: x, Y: y, Z: z} }

// OverallSize returns one-dimensional overall dimensions.
func OverallSize(n uint64) OverallDims { return OverallDims{X: n, Y: 1, Z: 1} }

// Volume returns the number of threads in one block.
func (d BlockDims) Volume() uint64 {
	return uint64(d.X) * uint64(d.Y) * uint64(d.Z)
}

// Volume returns the number of blocks in the grid.
func (d GridDims) Volume() uint64 {
	return uint64(d.X) * uint64(d.Y) * uint64(d.Z)
}

// Volume returns the total number of work-items.
func (d OverallDims) Volume() uint64 {
	return d.X * d.Y * d.Z
}

func (d BlockDims) String() string   { return fmt.Sprintf("(%d,%d,%d)", d.X, d.Y, d.Z) }
func (d GridDims) String() string    { return fmt.Sprintf("(%d,%d,%d)", d.X, d.Y, d.Z) }
func (d OverallDims) String() string { return fmt.Sprintf("(%d,%d,%d)", d.X, d.Y, d.Z) }

// Times returns the overall dimensions covered by g blocks of b threads each.
func (g GridDims) Times(b BlockDims) OverallDims {
	return OverallDims{
		X: uint64(g.X) * uint64(b.X),
		Y: uint64(g.Y) * uint64(b.Y),
		Z: uint64(g.Z) * uint64(b.Z),
	}
}

// divRoundingUp is a single-axis ceiling division. It is up to the caller to
// ensure the quotient does not overflow uint32.
func divRoundingUp(overall uint64, block uint32) uint32 {
	quotient := overall / uint64(block)
	if quotient*uint64(block) == overall {
		return uint32(quotient)
	}
	return uint32(quotient) + 1
}

// DivRoundingUp returns the minimal grid covering overall with blocks of the
// given dimensions: per axis, overall/block rounded up. Both arguments must
// have all axes positive (see CheckBlockDims / CheckOverallDims).
func DivRoundingUp(overall OverallDims, block BlockDims) GridDims {
	return GridDims{
		X: divRoundingUp(overall.X, block.X),
		Y: divRoundingUp(overall.Y, block.Y),
		Z: divRoundingUp(overall.Z, block.Z),
	}
}

// DivRoundingUpBlock is the other direction: the minimal block dimensions
// such that the given grid covers overall. Per axis, overall/grid rounded up.
// Exact divisibility is not enforced; with a remainder the resulting
// grid x block overshoots overall.
func DivRoundingUpBlock(overall OverallDims, g GridDims) BlockDims {
	return BlockDims{
		X: divRoundingUp(overall.X, g.X),
		Y: divRoundingUp(overall.Y, g.Y),
		Z: divRoundingUp(overall.Z, g.Z),
	}
}

// Consistent reports whether grid*block equals overall exactly, per axis.
func Consistent(block BlockDims, grid GridDims, overall OverallDims) bool {
	return grid.Times(block) == overall
}

// CheckBlockDims verifies that every block axis is at least 1.
func CheckBlockDims(d BlockDims) error {
	if d.X == 0 || d.Y == 0 || d.Z == 0 {
		return fmt.Errorf("block dimensions %s have a zero axis", d)
	}
	return nil
}

// CheckGridDims verifies that every grid axis is at least 1.
func CheckGridDims(d GridDims) error {
	if d.X == 0 || d.Y == 0 || d.Z == 0 {
		return fmt.Errorf("grid dimensions %s have a zero axis", d)
	}
	return nil
}

// CheckOverallDims verifies that every overall axis is at least 1.
func CheckOverallDims(d OverallDims) error {
	if d.X == 0 || d.Y == 0 || d.Z == 0 {
		return fmt.Errorf("overall dimensions %s have a zero axis", d)
	}
	return nil
}
