//go:build !(linux && cgo)

package camera

import (
	"fmt"

	"calibrecorder/internal/clock"
)

func probeV4L2Device(path string) (*DeviceInfo, error) {
	return nil, fmt.Errorf("V4L2はLinuxでのみ利用できます: %w", ErrDeviceAccess)
}

func openV4L2Device(path string, bufferSize uint32, clk clock.Source, release func()) (Device, error) {
	return nil, fmt.Errorf("V4L2はLinuxでのみ利用できます: %w", ErrDeviceAccess)
}
