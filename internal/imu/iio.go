package imu

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	log "github.com/sirupsen/logrus"

	"calibrecorder/internal/clock"
)

// DefaultIIORoot はIIOデバイスのsysfsルート
const DefaultIIORoot = "/sys/bus/iio/devices"

// iioChannel は1種類のチャンネル（in_accel, in_anglvel）の3軸
type iioChannel struct {
	raw    [3]string
	scale  [3]float64
	offset [3]float64
}

var axes = [3]string{"x", "y", "z"}

// IIOManager はLinux IIOのsysfsからセンサーを読むManager
//
// 加速度は in_accel_*_raw、角速度は in_anglvel_*_raw を読み、(raw + *_offset) * *_scale とする。
// 角速度だけは offset を加えない値を未校正ジャイロとしても提供する
type IIOManager struct {
	dir     string
	clock   clock.Source
	sensors map[SensorType]*Sensor

	accel *iioChannel
	gyro  *iioChannel

	registry *registry
}

// FindIIODevice は加速度と角速度の両方を持つ最初のIIOデバイスを探す
//
// name を指定した場合は name ファイルが一致するデバイスを選ぶ
func FindIIODevice(root, name string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("IIOデバイスの列挙に失敗: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "iio:device") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, n := range names {
		dir := filepath.Join(root, n)
		if !fileExists(filepath.Join(dir, "in_accel_x_raw")) || !fileExists(filepath.Join(dir, "in_anglvel_x_raw")) {
			continue
		}
		if name != "" && readDeviceName(dir) != name {
			continue
		}
		return dir, nil
	}

	if name != "" {
		return "", fmt.Errorf("IIOデバイス %q: %w", name, ErrSensorUnavailable)
	}
	return "", fmt.Errorf("IIOデバイス: %w", ErrSensorUnavailable)
}

// NewIIOManager はIIOデバイスのディレクトリからManagerを作成する
func NewIIOManager(dir string) (*IIOManager, error) {
	if !fileExists(dir) {
		return nil, fmt.Errorf("IIOデバイス %s: %w", dir, ErrSensorUnavailable)
	}

	m := &IIOManager{
		dir:      dir,
		clock:    clock.BootTime(),
		sensors:  make(map[SensorType]*Sensor),
		registry: newRegistry(),
	}

	name := readDeviceName(dir)
	if name == "" {
		name = filepath.Base(dir)
	}

	if ch, ok := openIIOChannel(dir, "in_accel"); ok {
		m.accel = ch
		m.sensors[Accelerometer] = &Sensor{
			Type:     Accelerometer,
			Name:     name + " accel",
			Vendor:   "iio",
			MinDelay: minDelay(dir, "in_accel"),
		}
	}

	if ch, ok := openIIOChannel(dir, "in_anglvel"); ok {
		m.gyro = ch
		delay := minDelay(dir, "in_anglvel")
		m.sensors[GyroscopeUncalibrated] = &Sensor{
			Type:     GyroscopeUncalibrated,
			Name:     name + " gyro uncalibrated",
			Vendor:   "iio",
			MinDelay: delay,
		}
		m.sensors[Gyroscope] = &Sensor{
			Type:     Gyroscope,
			Name:     name + " gyro",
			Vendor:   "iio",
			MinDelay: delay,
		}
	}

	if len(m.sensors) == 0 {
		return nil, fmt.Errorf("%s に加速度・角速度チャンネルがありません: %w", dir, ErrSensorUnavailable)
	}

	log.WithField("device", dir).Infof("IIOデバイス %s を使用します", name)
	return m, nil
}

// Dir はIIOデバイスのディレクトリを返す
func (m *IIOManager) Dir() string {
	return m.dir
}

// DefaultSensor は指定した種類のセンサーを返す
func (m *IIOManager) DefaultSensor(sensorType SensorType) *Sensor {
	return m.sensors[sensorType]
}

// RegisterListener はセンサーのポーリングを開始する
func (m *IIOManager) RegisterListener(listener Listener, sensor *Sensor, period time.Duration) error {
	if sensor == nil || m.sensors[sensor.Type] != sensor {
		return fmt.Errorf("このManagerのセンサーではありません: %w", ErrSensorUnavailable)
	}

	var read readFunc
	switch sensor.Type {
	case Accelerometer:
		read = func() (r3.Vector, error) { return m.accel.read(true) }
	case GyroscopeUncalibrated:
		read = func() (r3.Vector, error) { return m.gyro.read(false) }
	case Gyroscope:
		read = func() (r3.Vector, error) { return m.gyro.read(true) }
	}

	return m.registry.register(listener, sensor, period, m.clock, read)
}

// UnregisterListener はポーリングを停止する
func (m *IIOManager) UnregisterListener(listener Listener, sensor *Sensor) {
	m.registry.unregister(listener, sensor)
}

// Close は全てのポーリングを停止する
func (m *IIOManager) Close() error {
	m.registry.closeAll()
	return nil
}

// openIIOChannel は prefix (in_accel, in_anglvel) の3軸を開く
func openIIOChannel(dir, prefix string) (*iioChannel, bool) {
	ch := &iioChannel{}
	for i, axis := range axes {
		ch.raw[i] = filepath.Join(dir, fmt.Sprintf("%s_%s_raw", prefix, axis))
		if !fileExists(ch.raw[i]) {
			return nil, false
		}
	}

	shared, hasShared := readFloatIfExists(filepath.Join(dir, prefix+"_scale"))
	sharedOffset, _ := readFloatIfExists(filepath.Join(dir, prefix+"_offset"))
	for i, axis := range axes {
		if v, ok := readFloatIfExists(filepath.Join(dir, fmt.Sprintf("%s_%s_scale", prefix, axis))); ok {
			ch.scale[i] = v
		} else if hasShared {
			ch.scale[i] = shared
		} else {
			ch.scale[i] = 1
		}

		if v, ok := readFloatIfExists(filepath.Join(dir, fmt.Sprintf("%s_%s_offset", prefix, axis))); ok {
			ch.offset[i] = v
		} else {
			ch.offset[i] = sharedOffset
		}
	}

	return ch, true
}

// read は3軸を読み、(raw [+ offset]) * scale を返す
func (ch *iioChannel) read(applyOffset bool) (r3.Vector, error) {
	var v [3]float64
	for i := range axes {
		raw, err := readInt(ch.raw[i])
		if err != nil {
			return r3.Vector{}, err
		}
		value := float64(raw)
		if applyOffset {
			value += ch.offset[i]
		}
		v[i] = value * ch.scale[i]
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}

// minDelay はサンプリング周波数から最短周期を求める
//
// *_sampling_frequency_available があればその最大値、なければ現在の周波数を使う
func minDelay(dir, prefix string) time.Duration {
	var hz float64
	if list, err := readFloatList(filepath.Join(dir, prefix+"_sampling_frequency_available")); err == nil {
		for _, f := range list {
			if f > hz {
				hz = f
			}
		}
	}
	if hz == 0 {
		if f, ok := readFloatIfExists(filepath.Join(dir, prefix+"_sampling_frequency")); ok {
			hz = f
		} else if f, ok := readFloatIfExists(filepath.Join(dir, "sampling_frequency")); ok {
			hz = f
		}
	}
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

func readDeviceName(dir string) string {
	b, err := os.ReadFile(filepath.Join(dir, "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readInt(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s の値が不正です: %w", path, err)
	}
	return v, nil
}

func readFloatIfExists(path string) (float64, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func readFloatList(path string) ([]float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, field := range strings.Fields(string(b)) {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("%s の値が不正です: %w", path, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
