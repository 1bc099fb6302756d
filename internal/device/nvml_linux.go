//go:build linux && nvml

package device

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-archer/internal/grid"
)

// Probe enumerates the GPUs visible through NVML and returns capability
// records for them. NVML exposes the name, memory size, compute capability
// and core count; the per-multiprocessor limits are filled in from the
// compute capability, the same tables Builtin uses.
func Probe() ([]Properties, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init: %s", nvml.ErrorString(ret))
	}
	defer func() { _ = nvml.Shutdown() }()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device count: %s", nvml.ErrorString(ret))
	}

	devices := make([]Properties, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml device %d: %s", i, nvml.ErrorString(ret))
		}
		name, ret := dev.GetName()
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml device %d name: %s", i, nvml.ErrorString(ret))
		}
		major, minor, ret := dev.GetCudaComputeCapability()
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml device %d compute capability: %s", i, nvml.ErrorString(ret))
		}

		p := archProperties(major, minor)
		p.Name = name
		p.ComputeMajor = major
		p.ComputeMinor = minor

		if mem, ret := dev.GetMemoryInfo(); ret == nvml.SUCCESS {
			p.GlobalMemBytes = mem.Total
		}
		if cores, ret := dev.GetNumGpuCores(); ret == nvml.SUCCESS && cores > 0 {
			p.SMs = uint32(cores) / coresPerSM(major, minor)
		}
		if p.SMs == 0 {
			return nil, fmt.Errorf("nvml device %d (%s): could not determine multiprocessor count", i, name)
		}

		log.Debug().Str("name", name).Str("cc", p.ComputeCapability()).
			Uint32("sms", p.SMs).Msg("Probed device")
		devices = append(devices, p)
	}
	return devices, nil
}

// archProperties returns the per-multiprocessor limits for a compute
// capability generation. SM count, name and memory come from the probe.
func archProperties(major, minor int) Properties {
	p := Properties{
		WarpSize:               32,
		MaxThreads:             1024,
		MaxThreadsPerSM:        2048,
		MaxBlocksPerSM:         32,
		MaxBlockAxes:           grid.Block(1024, 1024, 64),
		MaxGridAxes:            grid.Grid(2147483647, 65535, 65535),
		SharedMemPerBlockBytes: 49152,
		SharedMemPerSMBytes:    98304,
		RegistersPerSM:         65536,
	}
	switch {
	case major == 7 && minor == 5:
		p.MaxThreadsPerSM = 1024
		p.MaxBlocksPerSM = 16
		p.SharedMemPerSMBytes = 65536
	case major == 8 && minor == 0:
		p.SharedMemPerSMBytes = 167936
	case major == 8 && minor >= 6:
		p.MaxThreadsPerSM = 1536
		p.MaxBlocksPerSM = 16
		p.SharedMemPerSMBytes = 102400
	case major >= 9:
		p.SharedMemPerSMBytes = 233472
	}
	return p
}

// coresPerSM maps a compute capability to CUDA cores per multiprocessor,
// used to recover the SM count from NVML's total core count.
func coresPerSM(major, minor int) uint32 {
	switch {
	case major == 7:
		return 64
	case major == 8 && minor == 0:
		return 64
	case major == 8 && minor >= 6:
		return 128
	case major >= 9:
		return 128
	default:
		return 64
	}
}
