package camera

import (
	"context"
	"errors"
	"testing"
)

func TestDriverFactory_SupportedBackends(t *testing.T) {
	factory := NewDriverFactory()

	backends := factory.SupportedBackends()
	if len(backends) != 2 || backends[0] != BackendSimulated || backends[1] != BackendV4L2 {
		t.Errorf("Unexpected backends: %v", backends)
	}

	if _, err := factory.Create("gphoto", DriverOptions{}); err == nil {
		t.Error("Expected error for unsupported backend")
	}
}

func TestDriverFactory_Simulated(t *testing.T) {
	factory := NewDriverFactory()

	if _, err := factory.Create(BackendSimulated, DriverOptions{}); err == nil {
		t.Error("Expected error without camera IDs")
	}

	driver, err := factory.Create(BackendSimulated, DriverOptions{CameraIDs: []string{"0", "1"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	chars, err := driver.Characteristics(context.Background(), "1")
	if err != nil {
		t.Fatalf("Characteristics failed: %v", err)
	}
	if chars.TimestampSource != TimestampSourceRealtime {
		t.Errorf("Expected realtime timestamp source, got %s", chars.TimestampSource)
	}
}

func TestDriverFactory_V4L2WithMockDiscovery(t *testing.T) {
	factory := NewDriverFactory()
	discovery := NewMockDiscovery([]string{"/dev/video0"})

	driver, err := factory.Create(BackendV4L2, DriverOptions{Discovery: discovery})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	chars, err := driver.Characteristics(context.Background(), "0")
	if err != nil {
		t.Fatalf("Characteristics failed: %v", err)
	}
	if largest, _ := LargestSize(chars.JPEGSizes); largest != (Resolution{Width: 1280, Height: 720}) {
		t.Errorf("Expected largest size 1280x720, got %s", largest)
	}

	// 存在しないデバイスはアクセスエラー
	if _, err := driver.Open(context.Background(), "5"); !errors.Is(err, ErrDeviceAccess) {
		t.Errorf("Expected ErrDeviceAccess, got %v", err)
	}

	discovery.DenyAccess("/dev/video0")
	if _, err := driver.Open(context.Background(), "0"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got %v", err)
	}
}
