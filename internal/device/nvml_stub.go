//go:build !linux || !nvml

package device

import "errors"

// Probe requires NVML. Build with -tags nvml on Linux.
func Probe() ([]Properties, error) {
	return nil, errors.New("device probing requires NVML; build with -tags nvml on Linux")
}
