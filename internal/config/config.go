package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"calibrecorder/internal/camera"
	"calibrecorder/internal/imu"
	"calibrecorder/internal/thermal"
)

// EnvPrefix は環境変数の接頭辞
const EnvPrefix = "CALIBREC_"

// IMUバックエンド名
const (
	IMUBackendIIO       = "iio"
	IMUBackendSimulated = "simulated"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL"`
	Recorder RecorderConfig `yaml:"recorder" envPrefix:"RECORDER_"`
	Camera   CameraConfig   `yaml:"camera" envPrefix:"CAMERA_"`
	IMU      IMUConfig      `yaml:"imu" envPrefix:"IMU_"`
	Thermal  ThermalConfig  `yaml:"thermal" envPrefix:"THERMAL_"`
}

// RecorderConfig は記録全体の設定
type RecorderConfig struct {
	RootDir       string `yaml:"root_dir" env:"ROOT_DIR"`             // セッションディレクトリを作成する場所
	EnableCameras bool   `yaml:"enable_cameras" env:"ENABLE_CAMERAS"` // カメラを記録するか
	EnableSensors bool   `yaml:"enable_sensors" env:"ENABLE_SENSORS"` // IMUを記録するか
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend string         `yaml:"backend" env:"BACKEND"`        // v4l2 | simulated
	Devices []CameraDevice `yaml:"devices" envPrefix:"DEVICES_"` // 記録するカメラ（開始順）
	Mode    string         `yaml:"mode" env:"MODE"`              // repeating | still

	OpenTimeout       time.Duration `yaml:"open_timeout" env:"OPEN_TIMEOUT"`               // open/close ゲートの待ち時間
	MaxImages         int           `yaml:"max_images" env:"MAX_IMAGES"`                   // 同時に保持できる画像数
	BufferSize        int           `yaml:"buffer_size" env:"BUFFER_SIZE"`                 // V4L2のバッファ数
	TimestampOffsetNS int64         `yaml:"timestamp_offset_ns" env:"TIMESTAMP_OFFSET_NS"` // センサータイムスタンプのオフセット

	SimulatedFPS int `yaml:"simulated_fps" env:"SIMULATED_FPS"` // シミュレーション時のフレームレート
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	ID     string `yaml:"id" env:"ID"`         // カメラID (例: 0)
	Name   string `yaml:"name" env:"NAME"`     // 出力名 (例: left)
	Device string `yaml:"device" env:"DEVICE"` // デバイスパス。空ならIDから決まる
}

// DriverID はドライバーに渡すカメラIDを返す
func (d CameraDevice) DriverID() string {
	if d.Device != "" {
		return d.Device
	}
	return d.ID
}

// IMUConfig はIMU関連の設定
type IMUConfig struct {
	Backend      string        `yaml:"backend" env:"BACKEND"`             // iio | simulated
	IIORoot      string        `yaml:"iio_root" env:"IIO_ROOT"`           // IIOのsysfsルート
	IIODevice    string        `yaml:"iio_device" env:"IIO_DEVICE"`       // IIOデバイスのディレクトリ。空なら自動検出
	IIOName      string        `yaml:"iio_name" env:"IIO_NAME"`           // 自動検出時に一致させるデバイス名
	SamplePeriod time.Duration `yaml:"sample_period" env:"SAMPLE_PERIOD"` // 登録周期

	AccelOffsetNS int64 `yaml:"accel_offset_ns" env:"ACCEL_OFFSET_NS"` // 加速度のLPF遅延 (BMI160: 1370833)
	GyroOffsetNS  int64 `yaml:"gyro_offset_ns" env:"GYRO_OFFSET_NS"`   // ジャイロのLPF遅延 (BMI160: 1370833)
}

// ThermalConfig は温度記録の設定
type ThermalConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`              // 温度を記録するか
	Root    string        `yaml:"root" env:"ROOT"`                    // サーマルゾーンのsysfsルート
	Zones   []int         `yaml:"zones" env:"ZONES" envSeparator:","` // 記録するゾーン番号
	Period  time.Duration `yaml:"period" env:"PERIOD"`                // 記録周期
}

// Default はデフォルト設定を返す
//
// 2台のカメラ (left: 0, right: 1) を連続キャプチャで記録する
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Recorder: RecorderConfig{
			RootDir:       "recordings",
			EnableCameras: true,
			EnableSensors: true,
		},
		Camera: CameraConfig{
			Backend: camera.BackendV4L2,
			Devices: []CameraDevice{
				{ID: "0", Name: "left"},
				{ID: "1", Name: "right"},
			},
			Mode:         string(camera.ModeRepeating),
			OpenTimeout:  camera.DefaultOpenTimeout,
			MaxImages:    2,
			BufferSize:   camera.DefaultV4L2BufferSize,
			SimulatedFPS: 15,
		},
		IMU: IMUConfig{
			Backend:      IMUBackendIIO,
			IIORoot:      imu.DefaultIIORoot,
			SamplePeriod: imu.DefaultSamplePeriod,
		},
		Thermal: ThermalConfig{
			Root:   thermal.DefaultRoot,
			Period: thermal.DefaultPeriod,
		},
	}
}

// Load は設定を読み込む
//
// デフォルト値、YAMLファイル（path が空でなければ）、環境変数の順に上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// decodeYAML は未知のキーをエラーにしてYAMLを読み込む
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("無効なログレベル: %q", c.LogLevel)
	}

	if c.Recorder.RootDir == "" {
		return fmt.Errorf("出力先ディレクトリが設定されていません")
	}
	if !c.Recorder.EnableCameras && !c.Recorder.EnableSensors {
		return fmt.Errorf("カメラとセンサーの両方が無効です")
	}

	if c.Recorder.EnableCameras {
		if err := c.Camera.validate(); err != nil {
			return err
		}
	}
	if c.Recorder.EnableSensors {
		if err := c.IMU.validate(); err != nil {
			return err
		}
	}
	if c.Thermal.Enabled {
		if err := c.Thermal.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (c *CameraConfig) validate() error {
	switch c.Backend {
	case camera.BackendV4L2, camera.BackendSimulated:
	default:
		return fmt.Errorf("無効なカメラバックエンド: %q", c.Backend)
	}

	if _, err := camera.ParseCaptureMode(c.Mode); err != nil {
		return err
	}

	if len(c.Devices) == 0 {
		return fmt.Errorf("カメラデバイスが設定されていません")
	}

	names := make(map[string]bool)
	ids := make(map[string]bool)
	for i, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("カメラ %d のIDが設定されていません", i)
		}
		if d.Name == "" {
			return fmt.Errorf("カメラ %s の名前が設定されていません", d.ID)
		}
		if names[d.Name] {
			return fmt.Errorf("カメラ名が重複しています: %s", d.Name)
		}
		if ids[d.DriverID()] {
			return fmt.Errorf("カメラIDが重複しています: %s", d.DriverID())
		}
		names[d.Name] = true
		ids[d.DriverID()] = true
	}

	if c.OpenTimeout <= 0 {
		return fmt.Errorf("無効なオープンタイムアウト: %s", c.OpenTimeout)
	}
	if c.MaxImages < 1 {
		return fmt.Errorf("無効な画像バッファ数: %d", c.MaxImages)
	}
	if c.Backend == camera.BackendSimulated && c.SimulatedFPS < 1 {
		return fmt.Errorf("無効なフレームレート: %d", c.SimulatedFPS)
	}

	return nil
}

func (c *IMUConfig) validate() error {
	switch c.Backend {
	case IMUBackendIIO, IMUBackendSimulated:
	default:
		return fmt.Errorf("無効なIMUバックエンド: %q", c.Backend)
	}

	if c.SamplePeriod <= 0 {
		return fmt.Errorf("無効なサンプリング周期: %s", c.SamplePeriod)
	}

	return nil
}

func (c *ThermalConfig) validate() error {
	if len(c.Zones) == 0 {
		return fmt.Errorf("サーマルゾーンが設定されていません")
	}

	seen := make(map[int]bool)
	for _, n := range c.Zones {
		if n < 0 {
			return fmt.Errorf("無効なサーマルゾーン番号: %d", n)
		}
		if seen[n] {
			return fmt.Errorf("サーマルゾーンが重複しています: %d", n)
		}
		seen[n] = true
	}

	if c.Period <= 0 {
		return fmt.Errorf("無効な温度の記録周期: %s", c.Period)
	}

	return nil
}

// CaptureMode はキャプチャモードを返す
func (c *Config) CaptureMode() camera.CaptureMode {
	mode, err := camera.ParseCaptureMode(c.Camera.Mode)
	if err != nil {
		return camera.ModeRepeating
	}
	return mode
}
