package camera

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"calibrecorder/internal/clock"
	"calibrecorder/internal/sink"
)

func testSimulatedConfig() SimulatedConfig {
	var now atomic.Int64
	return SimulatedConfig{
		FPS:                100,
		Sizes:              []Resolution{{Width: 64, Height: 48}, {Width: 160, Height: 120}},
		ExposureNS:         5000,
		RollingShutterSkew: 1000,
		SquareSize:         16,
		Clock: clock.SourceFunc(func() int64 {
			return now.Add(10_000_000)
		}),
	}
}

func TestRenderCheckerboard_DecodesAsJPEG(t *testing.T) {
	data, err := RenderCheckerboard(Resolution{Width: 160, Height: 120}, 20, "0 #00001")
	if err != nil {
		t.Fatalf("RenderCheckerboard failed: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Expected valid JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 160 || b.Dy() != 120 {
		t.Errorf("Expected 160x120, got %dx%d", b.Dx(), b.Dy())
	}

	if _, err := RenderCheckerboard(Resolution{}, 20, ""); err == nil {
		t.Error("Expected error for empty resolution")
	}
}

func TestSimulatedDriver_ExclusiveOpen(t *testing.T) {
	ctx := context.Background()
	driver := NewSimulatedDriver([]string{"0"}, testSimulatedConfig())

	dev, err := driver.Open(ctx, "0")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// 既に開かれているカメラは開けない
	if _, err := driver.Open(ctx, "0"); !errors.Is(err, ErrDeviceAccess) {
		t.Errorf("Expected ErrDeviceAccess for second open, got %v", err)
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if driver.IsOpen("0") {
		t.Error("Expected camera to be released after close")
	}

	dev, err = driver.Open(ctx, "0")
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	dev.Close()

	if _, err := driver.Characteristics(ctx, "9"); !errors.Is(err, ErrDeviceAccess) {
		t.Errorf("Expected ErrDeviceAccess for unknown camera, got %v", err)
	}
}

func TestSimulatedDriver_StreamWritesFrames(t *testing.T) {
	dir := t.TempDir()
	images, err := sink.NewImageDir(filepath.Join(dir, "left_images"))
	if err != nil {
		t.Fatalf("NewImageDir failed: %v", err)
	}
	metadata, err := sink.CreateLineWriter(filepath.Join(dir, "left_image_metadata.txt"))
	if err != nil {
		t.Fatalf("CreateLineWriter failed: %v", err)
	}
	defer metadata.Close()

	driver := NewSimulatedDriver([]string{"0"}, testSimulatedConfig())
	stream := NewStream(driver, StreamConfig{Name: "left", CameraID: "0"}, metadata, images)
	ctx := context.Background()

	if err := stream.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := stream.OutputSize(); got != (Resolution{Width: 160, Height: 120}) {
		t.Errorf("Expected largest size 160x120, got %s", got)
	}

	deadline := time.Now().Add(3 * time.Second)
	for stream.Stats().ImagesWritten < 3 {
		if time.Now().After(deadline) {
			t.Fatal("Expected at least 3 images to be written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := stream.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if driver.IsOpen("0") {
		t.Error("Expected camera to be released after stream close")
	}

	stats := stream.Stats()
	entries, err := os.ReadDir(filepath.Join(dir, "left_images"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if int64(len(entries)) != stats.ImagesWritten {
		t.Errorf("Expected %d files, got %d", stats.ImagesWritten, len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, "left_images", "00000.jpg")); err != nil {
		t.Errorf("Expected first image 00000.jpg: %v", err)
	}
	if stats.MetadataLines < stats.ImagesWritten {
		t.Errorf("Expected metadata for every image, got %d lines for %d images", stats.MetadataLines, stats.ImagesWritten)
	}
}

func TestSimulatedDriver_StillModeDeliversOneFrame(t *testing.T) {
	driver := NewSimulatedDriver([]string{"0"}, testSimulatedConfig())
	lines := &memoryLines{}
	images := &countingImages{}
	stream := NewStream(driver, StreamConfig{Name: "left", CameraID: "0", Mode: ModeStill}, lines, images)
	ctx := context.Background()

	if err := stream.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for stream.Stats().ImagesWritten < 1 {
		if time.Now().After(deadline) {
			t.Fatal("Expected one still image")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// 追加のフレームが来ないことを確認する
	time.Sleep(100 * time.Millisecond)

	if err := stream.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := images.count.Load(); n != 1 {
		t.Errorf("Expected exactly 1 image in still mode, got %d", n)
	}
	if n := len(lines.snapshot()); n != 1 {
		t.Errorf("Expected exactly 1 metadata line in still mode, got %d", n)
	}
}

// countingImages は書き込み回数だけを数えるImageSink
type countingImages struct {
	count atomic.Int32
}

func (c *countingImages) Write(index int64, data []byte) (string, error) {
	c.count.Add(1)
	return "", nil
}
