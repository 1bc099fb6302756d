package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-archer/internal/device"
	"github.com/23skdu/longbow-archer/internal/grid"
)

func a100(t *testing.T) *device.Properties {
	t.Helper()
	p, ok := device.Builtin().Lookup("a100")
	require.True(t, ok)
	return p
}

func TestMaxActiveBlocks(t *testing.T) {
	dev := a100(t) // 2048 threads/SM, 32 blocks/SM, 167936 B smem/SM, 65536 regs/SM

	t.Run("ThreadLimited", func(t *testing.T) {
		k := Bind(Descriptor{Name: "saxpy"}, dev)
		blocks, err := k.MaxActiveBlocksPerMultiprocessor(256, 0)
		require.NoError(t, err)
		require.Equal(t, uint32(8), blocks)

		blocks, err = k.MaxActiveBlocksPerMultiprocessor(1024, 0)
		require.NoError(t, err)
		require.Equal(t, uint32(2), blocks)
	})

	t.Run("BlockSlotLimited", func(t *testing.T) {
		// 64 warp slots would allow 64 single-warp blocks; the slot count caps it.
		k := Bind(Descriptor{Name: "tiny"}, dev)
		blocks, err := k.MaxActiveBlocksPerMultiprocessor(32, 0)
		require.NoError(t, err)
		require.Equal(t, uint32(32), blocks)
	})

	t.Run("SharedMemLimited", func(t *testing.T) {
		k := Bind(Descriptor{Name: "stencil"}, dev)
		blocks, err := k.MaxActiveBlocksPerMultiprocessor(256, 32768)
		require.NoError(t, err)
		// 167936/32768 = 5, below the thread limit of 8
		require.Equal(t, uint32(5), blocks)
	})

	t.Run("StaticPlusDynamicSharedMem", func(t *testing.T) {
		k := Bind(Descriptor{Name: "stencil", StaticSharedMemBytes: 16384}, dev)
		blocks, err := k.MaxActiveBlocksPerMultiprocessor(256, 16384)
		require.NoError(t, err)
		require.Equal(t, uint32(5), blocks)
	})

	t.Run("RegisterLimited", func(t *testing.T) {
		k := Bind(Descriptor{Name: "heavy", RegistersPerThread: 64}, dev)
		blocks, err := k.MaxActiveBlocksPerMultiprocessor(256, 0)
		require.NoError(t, err)
		// 64 regs x 256 threads = 16384 regs/block; 65536/16384 = 4
		require.Equal(t, uint32(4), blocks)
	})

	t.Run("PartialWarpRoundsUp", func(t *testing.T) {
		k := Bind(Descriptor{Name: "odd"}, dev)
		// 96 threads occupy 3 warp slots; 64/3 = 21 blocks
		blocks, err := k.MaxActiveBlocksPerMultiprocessor(96, 0)
		require.NoError(t, err)
		require.Equal(t, uint32(21), blocks)
	})

	t.Run("BlockTooLarge", func(t *testing.T) {
		k := Bind(Descriptor{Name: "saxpy"}, dev)
		_, err := k.MaxActiveBlocksPerMultiprocessor(2048, 0)
		require.Error(t, err)
	})

	t.Run("KernelTighterThanDevice", func(t *testing.T) {
		k := Bind(Descriptor{Name: "capped", MaxThreadsPerBlock: 512}, dev)
		_, err := k.MaxActiveBlocksPerMultiprocessor(1024, 0)
		require.Error(t, err)
	})
}

func TestMinGridParamsForMaxOccupancy(t *testing.T) {
	dev := a100(t)

	t.Run("Unconstrained", func(t *testing.T) {
		k := Bind(Descriptor{Name: "saxpy"}, dev)
		block, g, err := k.MinGridParamsForMaxOccupancy(0, nil)
		require.NoError(t, err)
		// A full 1024-thread block reaches full occupancy (2 per SM); the
		// largest such block size wins.
		require.Equal(t, grid.BlockSize(1024), block)
		require.Equal(t, grid.GridSize(2*108), g)
	})

	t.Run("KernelBlockCapNotWarpMultiple", func(t *testing.T) {
		k := Bind(Descriptor{Name: "capped", MaxThreadsPerBlock: 1000}, dev)
		block, g, err := k.MinGridParamsForMaxOccupancy(0, nil)
		require.NoError(t, err)
		// 1000 threads pad to 32 warps but only 2 blocks fit (2000 threads);
		// 512 threads x 4 blocks fills all 2048 thread slots.
		require.Equal(t, grid.BlockSize(512), block)
		require.Equal(t, grid.GridSize(4*108), g)
	})

	t.Run("DeterminerShapesChoice", func(t *testing.T) {
		k := Bind(Descriptor{Name: "adaptive"}, dev)
		det := func(blockVolume int) uint64 {
			if blockVolume > 512 {
				return 1 << 20 // larger blocks would not fit at all
			}
			return 0
		}
		block, g, err := k.MinGridParamsForMaxOccupancy(0, det)
		require.NoError(t, err)
		require.Equal(t, grid.BlockSize(512), block)
		require.Equal(t, grid.GridSize(4*108), g)
	})

	t.Run("NothingFits", func(t *testing.T) {
		k := Bind(Descriptor{Name: "hog", StaticSharedMemBytes: 1 << 21}, dev)
		_, _, err := k.MinGridParamsForMaxOccupancy(0, nil)
		require.Error(t, err)
	})
}

func TestOccupancy(t *testing.T) {
	dev := a100(t)
	k := Bind(Descriptor{Name: "saxpy"}, dev)

	occ, err := k.Occupancy(256, 0)
	require.NoError(t, err)
	require.InDelta(t, 1.0, occ, 1e-9)

	occ, err = k.Occupancy(96, 0)
	require.NoError(t, err)
	require.InDelta(t, 21.0*96.0/2048.0, occ, 1e-9)
}

func TestMaxDynamicSharedMemPerBlock(t *testing.T) {
	dev := a100(t) // 49152 B per block

	k := Bind(Descriptor{Name: "plain", StaticSharedMemBytes: 16384}, dev)
	require.Equal(t, uint64(49152-16384), k.MaxDynamicSharedMemPerBlock())

	optin := Bind(Descriptor{Name: "optin", MaxDynamicSharedMemBytes: 102400}, dev)
	require.Equal(t, uint64(102400), optin.MaxDynamicSharedMemPerBlock())
}
