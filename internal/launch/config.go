package launch

import "github.com/23skdu/longbow-archer/internal/grid"

// Config is a fully resolved, internally consistent launch configuration.
// It is an immutable value: once built it carries no references back to the
// builder, kernel or device it was derived from.
type Config struct {
	Block                 grid.BlockDims `json:"block" cbor:"block"`
	Grid                  grid.GridDims  `json:"grid" cbor:"grid"`
	DynamicSharedMemBytes uint64         `json:"dynamic_shared_mem_bytes" cbor:"dynamic_shared_mem_bytes"`
	BlockCooperation      bool           `json:"block_cooperation" cbor:"block_cooperation"`
}

// OverallDims returns the total work-items the configuration covers,
// per axis: grid times block.
func (c Config) OverallDims() grid.OverallDims {
	return c.Grid.Times(c.Block)
}

// TotalThreads returns the total number of threads the launch would start.
func (c Config) TotalThreads() uint64 {
	return c.Grid.Volume() * c.Block.Volume()
}
