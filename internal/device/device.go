// Package device describes GPU devices by their launch-relevant capabilities:
// multiprocessor count, thread and dimension limits, shared memory and
// register budgets. Properties can come from the built-in catalog, from a
// catalog file, or from probing the machine through NVML.
package device

import (
	"fmt"

	"github.com/23skdu/longbow-archer/internal/grid"
	"github.com/23skdu/longbow-archer/internal/launch"
)

// Check interface compliance
var _ launch.Device = (*Properties)(nil)

// Properties is a device capability record. The zero value of a limit field
// means "unknown"; validators treat unknown limits as unbounded.
type Properties struct {
	Name         string `json:"name" yaml:"name" cbor:"name"`
	ComputeMajor int    `json:"compute_major" yaml:"compute_major" cbor:"compute_major"`
	ComputeMinor int    `json:"compute_minor" yaml:"compute_minor" cbor:"compute_minor"`

	SMs             uint32 `json:"multiprocessors" yaml:"multiprocessors" cbor:"multiprocessors"`
	WarpSize        uint32 `json:"warp_size" yaml:"warp_size" cbor:"warp_size"`
	MaxThreads      uint32 `json:"max_threads_per_block" yaml:"max_threads_per_block" cbor:"max_threads_per_block"`
	MaxThreadsPerSM uint32 `json:"max_threads_per_sm" yaml:"max_threads_per_sm" cbor:"max_threads_per_sm"`
	MaxBlocksPerSM  uint32 `json:"max_blocks_per_sm" yaml:"max_blocks_per_sm" cbor:"max_blocks_per_sm"`

	MaxBlockAxes grid.BlockDims `json:"max_block_axes" yaml:"max_block_axes" cbor:"max_block_axes"`
	MaxGridAxes  grid.GridDims  `json:"max_grid_axes" yaml:"max_grid_axes" cbor:"max_grid_axes"`

	SharedMemPerBlockBytes uint64 `json:"shared_mem_per_block_bytes" yaml:"shared_mem_per_block_bytes" cbor:"shared_mem_per_block_bytes"`
	SharedMemPerSMBytes    uint64 `json:"shared_mem_per_sm_bytes" yaml:"shared_mem_per_sm_bytes" cbor:"shared_mem_per_sm_bytes"`
	RegistersPerSM         uint32 `json:"registers_per_sm" yaml:"registers_per_sm" cbor:"registers_per_sm"`

	GlobalMemBytes uint64 `json:"global_mem_bytes,omitempty" yaml:"global_mem_bytes,omitempty" cbor:"global_mem_bytes,omitempty"`
}

// MultiprocessorCount implements launch.Device.
func (p *Properties) MultiprocessorCount() uint32 { return p.SMs }

// MaxThreadsPerBlock implements launch.Device.
func (p *Properties) MaxThreadsPerBlock() uint32 { return p.MaxThreads }

// MaxBlockDims implements launch.Device.
func (p *Properties) MaxBlockDims() grid.BlockDims { return p.MaxBlockAxes }

// MaxGridDims implements launch.Device.
func (p *Properties) MaxGridDims() grid.GridDims { return p.MaxGridAxes }

// MaxSharedMemPerBlock implements launch.Device.
func (p *Properties) MaxSharedMemPerBlock() uint64 { return p.SharedMemPerBlockBytes }

// ComputeCapability returns the capability in "major.minor" form.
func (p *Properties) ComputeCapability() string {
	return fmt.Sprintf("%d.%d", p.ComputeMajor, p.ComputeMinor)
}

// Validate checks the fields a launch resolution depends on.
func (p *Properties) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("device has no name")
	}
	if p.SMs == 0 {
		return fmt.Errorf("device %q: multiprocessor count must be positive", p.Name)
	}
	if p.MaxThreads == 0 {
		return fmt.Errorf("device %q: max threads per block must be positive", p.Name)
	}
	if p.WarpSize == 0 {
		return fmt.Errorf("device %q: warp size must be positive", p.Name)
	}
	if err := grid.CheckBlockDims(p.MaxBlockAxes); err != nil {
		return fmt.Errorf("device %q: %v", p.Name, err)
	}
	if err := grid.CheckGridDims(p.MaxGridAxes); err != nil {
		return fmt.Errorf("device %q: %v", p.Name, err)
	}
	return nil
}
