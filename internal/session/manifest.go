package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest はセッションの概要
type Manifest struct {
	SessionID   string           `yaml:"session_id"`
	StartedAt   time.Time        `yaml:"started_at"`
	CaptureMode string           `yaml:"capture_mode,omitempty"`
	Cameras     []CameraManifest `yaml:"cameras,omitempty"`
	IMU         *IMUManifest     `yaml:"imu,omitempty"`
	Thermal     *ThermalManifest `yaml:"thermal,omitempty"`
}

// CameraManifest はカメラ1台分の概要
type CameraManifest struct {
	Name            string `yaml:"name"`
	ID              string `yaml:"id"`
	Model           string `yaml:"model,omitempty"`
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
	TimestampSource string `yaml:"timestamp_source"`
	OffsetNS        int64  `yaml:"timestamp_offset_ns"`
	ImageDir        string `yaml:"image_dir"`
	MetadataFile    string `yaml:"metadata_file"`
}

// IMUManifest はIMUの概要
type IMUManifest struct {
	AccelSensor   string `yaml:"accel_sensor"`
	GyroSensor    string `yaml:"gyro_sensor"`
	GyroType      string `yaml:"gyro_type"`
	PeriodUS      int64  `yaml:"period_us"`
	AccelOffsetNS int64  `yaml:"accel_offset_ns"`
	GyroOffsetNS  int64  `yaml:"gyro_offset_ns"`
	AccelFile     string `yaml:"accel_file"`
	GyroFile      string `yaml:"gyro_file"`
}

// ThermalManifest は温度記録の概要
type ThermalManifest struct {
	Zones    []int  `yaml:"zones"`
	PeriodMS int64  `yaml:"period_ms"`
	File     string `yaml:"file"`
}

// WriteManifest は概要をYAMLで書き出す。既存のファイルは上書きしない
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("セッション概要の変換に失敗: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("セッション概要の作成に失敗: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("セッション概要の書き込みに失敗: %w", err)
	}
	return file.Close()
}

// ReadManifest はセッション概要を読み込む
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("セッション概要の読み込みに失敗: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("セッション概要の解析に失敗: %w", err)
	}
	return &m, nil
}
