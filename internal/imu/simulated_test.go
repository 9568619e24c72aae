package imu

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"calibrecorder/internal/sink"
)

func TestSimulatedManager_Stream(t *testing.T) {
	dir := t.TempDir()
	accelOut, err := sink.CreateLineWriter(filepath.Join(dir, "accel.txt"))
	if err != nil {
		t.Fatalf("CreateLineWriter failed: %v", err)
	}
	gyroOut, err := sink.CreateLineWriter(filepath.Join(dir, "gyro.txt"))
	if err != nil {
		t.Fatalf("CreateLineWriter failed: %v", err)
	}

	mgr := NewSimulatedManager()
	defer mgr.Close()

	stream, err := NewStream(mgr, Options{Period: time.Millisecond})
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	if err := stream.Open(accelOut, gyroOut); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if mgr.Listeners() != 2 {
		t.Errorf("Expected 2 listeners, got %d", mgr.Listeners())
	}

	deadline := time.Now().Add(2 * time.Second)
	for accelOut.Lines() < 5 || gyroOut.Lines() < 5 {
		if time.Now().After(deadline) {
			t.Fatal("Expected samples on both channels")
		}
		time.Sleep(time.Millisecond)
	}

	stream.Close()
	if mgr.Listeners() != 0 {
		t.Errorf("Expected no listeners after close, got %d", mgr.Listeners())
	}

	stats := stream.Stats()
	if stats.AccelSamples != accelOut.Lines() || stats.GyroSamples != gyroOut.Lines() {
		t.Errorf("Stats do not match written lines: %+v", stats)
	}

	if err := sink.CloseAll(accelOut, gyroOut); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
}

func TestSimulatedManager_WithoutUncalibratedGyro(t *testing.T) {
	mgr := NewSimulatedManager(WithoutUncalibratedGyro())
	stream, err := NewStream(mgr, Options{})
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	if !strings.Contains(stream.GyroSensor().Name, "gyro") || stream.GyroSensor().Type != Gyroscope {
		t.Errorf("Expected calibrated gyro, got %+v", stream.GyroSensor())
	}
}

func TestWarnMinDelay(t *testing.T) {
	// 警告を出すだけでパニックしないこと
	warnMinDelay(&Sensor{Name: "fast", MinDelay: 10 * time.Millisecond}, DefaultSamplePeriod)
	warnMinDelay(&Sensor{Name: "unknown"}, DefaultSamplePeriod)
}
