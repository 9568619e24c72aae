package imu

import (
	"errors"
	"time"

	"github.com/golang/geo/r3"
)

// DefaultSamplePeriod はセンサーの既定の登録周期（200Hz）
const DefaultSamplePeriod = 5000 * time.Microsecond

// ErrSensorUnavailable は必要なセンサーが見つからない場合に返される
var ErrSensorUnavailable = errors.New("センサーが見つかりません")

// SensorType はセンサーの種類
type SensorType int

const (
	Accelerometer         SensorType = iota + 1 // 加速度センサー (m/s^2)
	Gyroscope                                   // 校正済みジャイロ (rad/s)
	GyroscopeUncalibrated                       // 未校正ジャイロ (rad/s)
)

func (t SensorType) String() string {
	switch t {
	case Accelerometer:
		return "accelerometer"
	case Gyroscope:
		return "gyroscope"
	case GyroscopeUncalibrated:
		return "gyroscope_uncalibrated"
	default:
		return "unknown"
	}
}

// 精度
const (
	AccuracyUnreliable = 0
	AccuracyLow        = 1
	AccuracyMedium     = 2
	AccuracyHigh       = 3
)

// Sensor はセンサーの情報
type Sensor struct {
	Type     SensorType
	Name     string
	Vendor   string
	MinDelay time.Duration // 対応する最短の周期。0は不明
}

// Event は1サンプル分のセンサーイベント
type Event struct {
	Sensor    *Sensor
	Timestamp int64     // CLOCK_BOOTTIME (ns)
	Values    r3.Vector // 3軸の値
}

// Listener はセンサーイベントを受け取る
type Listener interface {
	OnSensorChanged(event Event)
	OnAccuracyChanged(sensor *Sensor, accuracy int)
}

// Manager はセンサーフレームワークへのアクセスを抽象化する
type Manager interface {
	// DefaultSensor は指定した種類の既定のセンサーを返す。なければnil
	DefaultSensor(sensorType SensorType) *Sensor

	// RegisterListener は指定周期でイベントを配信するよう登録する
	RegisterListener(listener Listener, sensor *Sensor, period time.Duration) error

	// UnregisterListener は登録を解除する。戻った後はイベントを配信しない
	UnregisterListener(listener Listener, sensor *Sensor)
}

// LineSink はサンプル行の書き込み先
type LineSink interface {
	WriteLine(line string) error
}
