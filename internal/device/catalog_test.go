package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-archer/internal/grid"
)

func TestBuiltinCatalog(t *testing.T) {
	c := Builtin()
	require.NotEmpty(t, c.Devices)
	for i := range c.Devices {
		require.NoError(t, c.Devices[i].Validate(), c.Devices[i].Name)
	}

	a100, ok := c.Lookup("a100")
	require.True(t, ok)
	require.Equal(t, uint32(108), a100.MultiprocessorCount())
	require.Equal(t, uint32(1024), a100.MaxThreadsPerBlock())
	require.Equal(t, grid.Block(1024, 1024, 64), a100.MaxBlockDims())
}

func TestLookup(t *testing.T) {
	c := Builtin()

	t.Run("CaseInsensitive", func(t *testing.T) {
		p, ok := c.Lookup("A100")
		require.True(t, ok)
		require.Equal(t, "a100", p.Name)
	})

	t.Run("Substring", func(t *testing.T) {
		p, ok := c.Lookup("v100")
		require.True(t, ok)
		require.Equal(t, "tesla-v100", p.Name)
	})

	t.Run("Missing", func(t *testing.T) {
		_, ok := c.Lookup("no-such-gpu")
		require.False(t, ok)
	})
}

func TestLoadYAML(t *testing.T) {
	content := `devices:
  - name: lab-gpu
    compute_major: 8
    compute_minor: 6
    multiprocessors: 46
    warp_size: 32
    max_threads_per_block: 1024
    max_threads_per_sm: 1536
    max_blocks_per_sm: 16
    max_block_axes: {x: 1024, y: 1024, z: 64}
    max_grid_axes: {x: 2147483647, y: 65535, z: 65535}
    shared_mem_per_block_bytes: 49152
    shared_mem_per_sm_bytes: 102400
    registers_per_sm: 65536
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Devices, 1)

	p, ok := c.Lookup("lab-gpu")
	require.True(t, ok)
	require.Equal(t, uint32(46), p.SMs)
	require.Equal(t, "8.6", p.ComputeCapability())
}

func TestLoadRejectsInvalid(t *testing.T) {
	content := `devices:
  - name: broken-gpu
    multiprocessors: 0
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestCBORRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.cbor")
	orig := Builtin()
	require.NoError(t, orig.SaveCBOR(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, orig.Devices, loaded.Devices)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	_, err := Load(path)
	require.Error(t, err)
}
