package imu

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"

	"calibrecorder/internal/clock"
)

// StandardGravity は標準重力加速度 (m/s^2)
const StandardGravity = 9.80665

// SimulatedManager は合成信号を配信するManager
//
// 加速度は重力と小さな揺れ、角速度はゆっくりした正弦波の回転を返す
type SimulatedManager struct {
	clock    clock.Source
	sensors  map[SensorType]*Sensor
	registry *registry
}

// SimulatedOption はSimulatedManagerの設定
type SimulatedOption func(*SimulatedManager)

// WithoutUncalibratedGyro は未校正ジャイロを持たない構成にする
func WithoutUncalibratedGyro() SimulatedOption {
	return func(m *SimulatedManager) {
		delete(m.sensors, GyroscopeUncalibrated)
	}
}

// WithoutSensor は指定した種類のセンサーを持たない構成にする
func WithoutSensor(sensorType SensorType) SimulatedOption {
	return func(m *SimulatedManager) {
		delete(m.sensors, sensorType)
	}
}

// WithClock は時刻源を差し替える
func WithClock(source clock.Source) SimulatedOption {
	return func(m *SimulatedManager) {
		m.clock = source
	}
}

// NewSimulatedManager は新しいSimulatedManagerを作成する
func NewSimulatedManager(opts ...SimulatedOption) *SimulatedManager {
	m := &SimulatedManager{
		clock:    clock.BootTime(),
		registry: newRegistry(),
		sensors: map[SensorType]*Sensor{
			Accelerometer:         {Type: Accelerometer, Name: "simulated accel", Vendor: "simulated", MinDelay: 2500 * time.Microsecond},
			Gyroscope:             {Type: Gyroscope, Name: "simulated gyro", Vendor: "simulated", MinDelay: 2500 * time.Microsecond},
			GyroscopeUncalibrated: {Type: GyroscopeUncalibrated, Name: "simulated gyro uncalibrated", Vendor: "simulated", MinDelay: 2500 * time.Microsecond},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultSensor は指定した種類のセンサーを返す
func (m *SimulatedManager) DefaultSensor(sensorType SensorType) *Sensor {
	return m.sensors[sensorType]
}

// RegisterListener は合成信号の配信を開始する
func (m *SimulatedManager) RegisterListener(listener Listener, sensor *Sensor, period time.Duration) error {
	if sensor == nil || m.sensors[sensor.Type] != sensor {
		return fmt.Errorf("このManagerのセンサーではありません: %w", ErrSensorUnavailable)
	}

	start := time.Now()
	var read readFunc
	switch sensor.Type {
	case Accelerometer:
		read = func() (r3.Vector, error) {
			t := time.Since(start).Seconds()
			return r3.Vector{
				X: 0.2 * math.Sin(2*math.Pi*0.5*t),
				Y: 0.2 * math.Cos(2*math.Pi*0.5*t),
				Z: StandardGravity,
			}, nil
		}
	default:
		bias := 0.0
		if sensor.Type == GyroscopeUncalibrated {
			bias = 0.01
		}
		read = func() (r3.Vector, error) {
			t := time.Since(start).Seconds()
			return r3.Vector{
				X: 0.5*math.Sin(2*math.Pi*0.25*t) + bias,
				Y: 0.3*math.Cos(2*math.Pi*0.25*t) + bias,
				Z: 0.1 + bias,
			}, nil
		}
	}

	return m.registry.register(listener, sensor, period, m.clock, read)
}

// UnregisterListener は配信を停止する
func (m *SimulatedManager) UnregisterListener(listener Listener, sensor *Sensor) {
	m.registry.unregister(listener, sensor)
}

// Listeners は登録中のリスナー数を返す
func (m *SimulatedManager) Listeners() int {
	return m.registry.count()
}

// Close は全ての配信を停止する
func (m *SimulatedManager) Close() error {
	m.registry.closeAll()
	return nil
}
