package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"calibrecorder/internal/camera"
	"calibrecorder/internal/imu"
)

// failingDriver は指定したカメラのオープンを失敗させる
type failingDriver struct {
	camera.Driver
	fail map[string]error
}

func (d *failingDriver) Open(ctx context.Context, id string) (camera.Device, error) {
	if err, ok := d.fail[id]; ok {
		return nil, err
	}
	return d.Driver.Open(ctx, id)
}

func testDriver(ids ...string) *camera.SimulatedDriver {
	return camera.NewSimulatedDriver(ids, camera.SimulatedConfig{
		FPS:        100,
		Sizes:      []camera.Resolution{{Width: 64, Height: 48}},
		ExposureNS: 1000,
		SquareSize: 8,
	})
}

func testOptions(t *testing.T, driver camera.Driver, mgr imu.Manager) Options {
	return Options{
		RootDir:    t.TempDir(),
		Driver:     driver,
		Cameras:    []CameraSpec{{Name: "left", ID: "0"}, {Name: "right", ID: "1"}},
		IMUManager: mgr,
		IMUOptions: imu.Options{Period: time.Millisecond},
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open %s failed: %v", path, err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n
}

func TestController_StartStop(t *testing.T) {
	mgr := imu.NewSimulatedManager()
	defer mgr.Close()

	ctx := context.Background()
	controller := NewController(testOptions(t, testDriver("0", "1"), mgr))

	s, err := controller.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := []string{"imu", "left", "right"}
	if got := s.ActiveStreams(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected streams %v, got %v", want, got)
	}

	waitFor(t, func() bool {
		stats := s.CameraStats()
		return stats["left"].ImagesWritten >= 2 && stats["right"].ImagesWritten >= 2
	}, "Expected images from both cameras")

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Second stop failed: %v", err)
	}
	if !s.Stopped() {
		t.Error("Expected session to be stopped")
	}

	for _, name := range []string{AccelFileName, GyroFileName, MetadataFileName("left"), MetadataFileName("right"), ManifestFileName} {
		if _, err := os.Stat(filepath.Join(s.Dir, name)); err != nil {
			t.Errorf("Expected %s: %v", name, err)
		}
	}

	stats, ok := s.IMUStats()
	if !ok {
		t.Fatal("Expected IMU stats")
	}
	if n := countLines(t, filepath.Join(s.Dir, AccelFileName)); int64(n) != stats.AccelSamples || n == 0 {
		t.Errorf("Expected %d accel lines, got %d", stats.AccelSamples, n)
	}

	// 書き込まれた画像の数と連番が一致する
	for name, cs := range s.CameraStats() {
		for i := int64(0); i < cs.ImagesWritten; i++ {
			path := filepath.Join(s.Dir, ImageDirName(name), fmt.Sprintf("%05d.jpg", i))
			if _, err := os.Stat(path); err != nil {
				t.Errorf("Expected image %s: %v", path, err)
			}
		}
		if n := countLines(t, filepath.Join(s.Dir, MetadataFileName(name))); int64(n) != cs.MetadataLines {
			t.Errorf("Expected %d metadata lines for %s, got %d", cs.MetadataLines, name, n)
		}
	}

	m, err := ReadManifest(filepath.Join(s.Dir, ManifestFileName))
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m.SessionID != s.ID {
		t.Errorf("Expected session id %s, got %s", s.ID, m.SessionID)
	}
	if len(m.Cameras) != 2 || m.Cameras[0].Width != 64 || m.Cameras[0].TimestampSource != "realtime" {
		t.Errorf("Unexpected camera manifest: %+v", m.Cameras)
	}
	if m.IMU == nil || m.IMU.GyroType != "gyroscope_uncalibrated" || m.IMU.PeriodUS != 1000 {
		t.Errorf("Unexpected IMU manifest: %+v", m.IMU)
	}
	if m.CaptureMode != "repeating" {
		t.Errorf("Expected repeating mode, got %s", m.CaptureMode)
	}
}

func TestController_RunDirIsNeverReused(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	mgr := imu.NewSimulatedManager()
	defer mgr.Close()

	opts := testOptions(t, nil, mgr)
	opts.Now = func() time.Time { return fixed }
	controller := NewController(opts)
	ctx := context.Background()

	first, err := controller.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer first.Stop(ctx)

	second, err := controller.Start(ctx)
	if err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	defer second.Stop(ctx)

	if filepath.Base(first.Dir) != "20240301123045" {
		t.Errorf("Unexpected run dir: %s", first.Dir)
	}
	if filepath.Base(second.Dir) != "20240301123045-2" {
		t.Errorf("Expected suffixed run dir, got %s", second.Dir)
	}
	if first.ID == second.ID {
		t.Error("Expected distinct session ids")
	}
}

func TestController_OpenTimeoutAbortsSession(t *testing.T) {
	sim := testDriver("0", "1")
	driver := &failingDriver{Driver: sim, fail: map[string]error{
		"1": fmt.Errorf("右カメラ: %w", camera.ErrOpenTimeout),
	}}
	mgr := imu.NewSimulatedManager()
	defer mgr.Close()

	controller := NewController(testOptions(t, driver, mgr))
	s, err := controller.Start(context.Background())
	if !errors.Is(err, camera.ErrOpenTimeout) {
		t.Fatalf("Expected ErrOpenTimeout, got %v", err)
	}
	if s != nil {
		t.Error("Expected no session")
	}

	// 開始済みのストリームは全て停止している
	if sim.IsOpen("0") {
		t.Error("Expected left camera to be closed")
	}
	if mgr.Listeners() != 0 {
		t.Errorf("Expected sensors to be unregistered, got %d listeners", mgr.Listeners())
	}
}

func TestController_CameraErrorAbandonsOnlyThatCamera(t *testing.T) {
	driver := &failingDriver{Driver: testDriver("0", "1"), fail: map[string]error{
		"1": camera.ErrPermissionDenied,
	}}
	mgr := imu.NewSimulatedManager()
	defer mgr.Close()

	ctx := context.Background()
	s, err := NewController(testOptions(t, driver, mgr)).Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop(ctx)

	if got := strings.Join(s.ActiveStreams(), ","); got != "imu,left" {
		t.Errorf("Expected imu,left, got %s", got)
	}
}

func TestController_NoActiveStreams(t *testing.T) {
	driver := &failingDriver{Driver: testDriver("0", "1"), fail: map[string]error{
		"0": camera.ErrDeviceAccess,
		"1": camera.ErrDeviceAccess,
	}}

	_, err := NewController(testOptions(t, driver, nil)).Start(context.Background())
	if !errors.Is(err, ErrNoActiveStreams) {
		t.Errorf("Expected ErrNoActiveStreams, got %v", err)
	}
}

func TestController_SensorUnavailableSkipsIMU(t *testing.T) {
	mgr := imu.NewSimulatedManager(imu.WithoutSensor(imu.Accelerometer))
	opts := testOptions(t, testDriver("0", "1"), mgr)
	opts.Cameras = opts.Cameras[:1]
	opts.CaptureMode = camera.ModeStill

	ctx := context.Background()
	s, err := NewController(opts).Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, func() bool {
		return s.CameraStats()["left"].ImagesWritten == 1
	}, "Expected one still image")

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := strings.Join(s.ActiveStreams(), ","); got != "left" {
		t.Errorf("Expected left only, got %s", got)
	}
	if _, err := os.Stat(filepath.Join(s.Dir, AccelFileName)); !os.IsNotExist(err) {
		t.Errorf("Expected no accel file, got %v", err)
	}
	if _, ok := s.IMUStats(); ok {
		t.Error("Expected no IMU stats")
	}
}

func TestRunDirName(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	got := RunDirName(time.Date(2024, 1, 2, 9, 4, 5, 0, jst))
	if got != "20240102000405" {
		t.Errorf("Expected UTC name 20240102000405, got %s", got)
	}
}

func TestSession_StopWithExpiredContext(t *testing.T) {
	sim := testDriver("0", "1")
	ctx := context.Background()

	s, err := NewController(testOptions(t, sim, nil)).Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, func() bool {
		stats := s.CameraStats()
		return stats["left"].ImagesWritten >= 1 && stats["right"].ImagesWritten >= 1
	}, "Expected images from both cameras")

	expired, cancel := context.WithCancel(ctx)
	cancel()

	// 期限切れでもカメラは必ず閉じられる
	if err := s.Stop(expired); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sim.IsOpen("0") || sim.IsOpen("1") {
		t.Error("Expected all cameras to be closed")
	}

	for name, stats := range s.CameraStats() {
		if stats.MetadataErrors != 0 || stats.ImageErrors != 0 {
			t.Errorf("Expected no write errors for %s, got %+v", name, stats)
		}
	}
}

func TestController_RecordsThermalZones(t *testing.T) {
	root := t.TempDir()
	for n, milli := range map[int]string{0: "41000\n", 2: "38500\n"} {
		dir := filepath.Join(root, fmt.Sprintf("thermal_zone%d", n))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "temp"), []byte(milli), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	opts := testOptions(t, testDriver("0", "1"), nil)
	opts.Cameras = opts.Cameras[:1]
	opts.ThermalRoot = root
	opts.ThermalZones = []int{0, 2}
	opts.ThermalPeriod = 10 * time.Millisecond

	ctx := context.Background()
	s, err := NewController(opts).Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := strings.Join(s.ActiveStreams(), ","); got != "thermal,left" {
		t.Errorf("Expected thermal,left, got %s", got)
	}
	waitFor(t, func() bool {
		stats, _ := s.ThermalStats()
		return stats.Rows >= 2
	}, "Expected thermal rows")

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.Dir, ThermalFileName))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "timestamp_ns,temp0_C,temp2_C" {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",41,38.5") {
		t.Errorf("Unexpected row: %s", lines[1])
	}

	m, err := ReadManifest(filepath.Join(s.Dir, ManifestFileName))
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m.Thermal == nil || m.Thermal.PeriodMS != 10 || len(m.Thermal.Zones) != 2 || m.Thermal.File != ThermalFileName {
		t.Errorf("Unexpected thermal manifest: %+v", m.Thermal)
	}
}

func TestController_MissingThermalZoneSkipsThermal(t *testing.T) {
	opts := testOptions(t, testDriver("0", "1"), nil)
	opts.Cameras = opts.Cameras[:1]
	opts.ThermalRoot = t.TempDir()
	opts.ThermalZones = []int{7}

	ctx := context.Background()
	s, err := NewController(opts).Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop(ctx)

	if got := strings.Join(s.ActiveStreams(), ","); got != "left" {
		t.Errorf("Expected left only, got %s", got)
	}
	if _, err := os.Stat(filepath.Join(s.Dir, ThermalFileName)); !os.IsNotExist(err) {
		t.Errorf("Expected no thermal file, got %v", err)
	}
}
