package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-archer/internal/grid"
)

// Catalog is a named collection of device capability records.
type Catalog struct {
	Devices []Properties `json:"devices" yaml:"devices" cbor:"devices"`
}

// Builtin returns capability records for a handful of well-known parts,
// taken from the vendor datasheets. Enough to resolve launches without any
// hardware or catalog file at hand.
func Builtin() *Catalog {
	maxBlock := grid.Block(1024, 1024, 64)
	maxGrid := grid.Grid(2147483647, 65535, 65535)
	return &Catalog{Devices: []Properties{
		{
			Name: "tesla-v100", ComputeMajor: 7, ComputeMinor: 0,
			SMs: 80, WarpSize: 32,
			MaxThreads: 1024, MaxThreadsPerSM: 2048, MaxBlocksPerSM: 32,
			MaxBlockAxes: maxBlock, MaxGridAxes: maxGrid,
			SharedMemPerBlockBytes: 49152, SharedMemPerSMBytes: 98304,
			RegistersPerSM: 65536, GlobalMemBytes: 16 << 30,
		},
		{
			Name: "tesla-t4", ComputeMajor: 7, ComputeMinor: 5,
			SMs: 40, WarpSize: 32,
			MaxThreads: 1024, MaxThreadsPerSM: 1024, MaxBlocksPerSM: 16,
			MaxBlockAxes: maxBlock, MaxGridAxes: maxGrid,
			SharedMemPerBlockBytes: 49152, SharedMemPerSMBytes: 65536,
			RegistersPerSM: 65536, GlobalMemBytes: 16 << 30,
		},
		{
			Name: "a100", ComputeMajor: 8, ComputeMinor: 0,
			SMs: 108, WarpSize: 32,
			MaxThreads: 1024, MaxThreadsPerSM: 2048, MaxBlocksPerSM: 32,
			MaxBlockAxes: maxBlock, MaxGridAxes: maxGrid,
			SharedMemPerBlockBytes: 49152, SharedMemPerSMBytes: 167936,
			RegistersPerSM: 65536, GlobalMemBytes: 40 << 30,
		},
		{
			Name: "rtx-3090", ComputeMajor: 8, ComputeMinor: 6,
			SMs: 82, WarpSize: 32,
			MaxThreads: 1024, MaxThreadsPerSM: 1536, MaxBlocksPerSM: 16,
			MaxBlockAxes: maxBlock, MaxGridAxes: maxGrid,
			SharedMemPerBlockBytes: 49152, SharedMemPerSMBytes: 102400,
			RegistersPerSM: 65536, GlobalMemBytes: 24 << 30,
		},
		{
			Name: "h100-sxm", ComputeMajor: 9, ComputeMinor: 0,
			SMs: 132, WarpSize: 32,
			MaxThreads: 1024, MaxThreadsPerSM: 2048, MaxBlocksPerSM: 32,
			MaxBlockAxes: maxBlock, MaxGridAxes: maxGrid,
			SharedMemPerBlockBytes: 49152, SharedMemPerSMBytes: 233472,
			RegistersPerSM: 65536, GlobalMemBytes: 80 << 30,
		},
	}}
}

// Lookup finds a device by name, case-insensitively. An exact match wins;
// otherwise the first record whose name contains the query is returned.
func (c *Catalog) Lookup(name string) (*Properties, bool) {
	q := strings.ToLower(name)
	for i := range c.Devices {
		if strings.ToLower(c.Devices[i].Name) == q {
			return &c.Devices[i], true
		}
	}
	for i := range c.Devices {
		if strings.Contains(strings.ToLower(c.Devices[i].Name), q) {
			return &c.Devices[i], true
		}
	}
	return nil, false
}

// Names lists the catalog's device names in order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.Devices))
	for i := range c.Devices {
		names[i] = c.Devices[i].Name
	}
	return names
}

// Load reads a catalog from a YAML (.yaml/.yml) or CBOR (.cbor) file and
// validates every record.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	case ".cbor":
		if err := cbor.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("catalog %s: unsupported extension %q", path, ext)
	}
	for i := range c.Devices {
		if err := c.Devices[i].Validate(); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
	}
	log.Debug().Str("path", path).Int("devices", len(c.Devices)).Msg("Loaded device catalog")
	return &c, nil
}

// SaveCBOR writes the catalog in CBOR form.
func (c *Catalog) SaveCBOR(path string) error {
	raw, err := cbor.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}
