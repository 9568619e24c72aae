package imu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"calibrecorder/internal/clock"
	"calibrecorder/internal/sink"
)

// Options はIMUストリームの設定
type Options struct {
	Period        time.Duration // 登録周期
	AccelOffsetNS int64         // 加速度センサーのLPF遅延オフセット
	GyroOffsetNS  int64         // ジャイロのLPF遅延オフセット
}

// Stats はIMUストリームの統計情報
type Stats struct {
	AccelSamples int64
	GyroSamples  int64
	WriteErrors  int64
}

// Stream は加速度センサーとジャイロのサンプルをファイルへ記録する
type Stream struct {
	manager Manager
	opts    Options

	accel *Sensor
	gyro  *Sensor

	mu            sync.Mutex
	registered    bool
	accelListener *channelListener
	gyroListener  *channelListener
}

// NewStream はセンサーを選択して新しいStreamを作成する
//
// 未校正ジャイロがない場合は校正済みジャイロで代替し、警告を出す
func NewStream(manager Manager, opts Options) (*Stream, error) {
	if opts.Period <= 0 {
		opts.Period = DefaultSamplePeriod
	}

	accel := manager.DefaultSensor(Accelerometer)
	if accel == nil {
		return nil, fmt.Errorf("加速度センサー: %w", ErrSensorUnavailable)
	}

	gyro := manager.DefaultSensor(GyroscopeUncalibrated)
	if gyro == nil {
		log.Warn("未校正ジャイロが見つかりません。校正済みジャイロで代替します")
		gyro = manager.DefaultSensor(Gyroscope)
	}
	if gyro == nil {
		return nil, fmt.Errorf("ジャイロ: %w", ErrSensorUnavailable)
	}

	return &Stream{
		manager: manager,
		opts:    opts,
		accel:   accel,
		gyro:    gyro,
	}, nil
}

// AccelSensor は選択した加速度センサーを返す
func (s *Stream) AccelSensor() *Sensor {
	return s.accel
}

// GyroSensor は選択したジャイロを返す
func (s *Stream) GyroSensor() *Sensor {
	return s.gyro
}

// Open はリスナーを登録してサンプルの記録を開始する
func (s *Stream) Open(accelOut, gyroOut LineSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return fmt.Errorf("IMUストリームは既に開始されています")
	}

	log.Info("センサーのリスナーを登録します")
	warnMinDelay(s.accel, s.opts.Period)
	warnMinDelay(s.gyro, s.opts.Period)

	accelListener := newChannelListener("accel", accelOut, s.opts.AccelOffsetNS)
	gyroListener := newChannelListener("gyro", gyroOut, s.opts.GyroOffsetNS)

	if err := s.manager.RegisterListener(accelListener, s.accel, s.opts.Period); err != nil {
		return fmt.Errorf("加速度センサーの登録に失敗: %w", err)
	}
	if err := s.manager.RegisterListener(gyroListener, s.gyro, s.opts.Period); err != nil {
		s.manager.UnregisterListener(accelListener, s.accel)
		return fmt.Errorf("ジャイロの登録に失敗: %w", err)
	}

	s.accelListener = accelListener
	s.gyroListener = gyroListener
	s.registered = true
	return nil
}

// Close はリスナーの登録を解除する。複数回呼び出しても安全
//
// 戻った後はサンプルを書き込まない
func (s *Stream) Close() {
	s.mu.Lock()
	if !s.registered {
		s.mu.Unlock()
		return
	}
	s.registered = false
	accelListener := s.accelListener
	gyroListener := s.gyroListener
	s.mu.Unlock()

	s.manager.UnregisterListener(accelListener, s.accel)
	s.manager.UnregisterListener(gyroListener, s.gyro)

	log.WithFields(log.Fields{
		"accel":  accelListener.samples.Load(),
		"gyro":   gyroListener.samples.Load(),
		"errors": accelListener.errors.Load() + gyroListener.errors.Load(),
	}).Info("センサーのリスナーを解除しました")
}

// Stats は統計情報を返す
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats
	if s.accelListener != nil {
		stats.AccelSamples = s.accelListener.samples.Load()
		stats.WriteErrors += s.accelListener.errors.Load()
	}
	if s.gyroListener != nil {
		stats.GyroSamples = s.gyroListener.samples.Load()
		stats.WriteErrors += s.gyroListener.errors.Load()
	}
	return stats
}

// warnMinDelay は要求周期がセンサーの最短周期より短い場合に警告する
func warnMinDelay(sensor *Sensor, period time.Duration) {
	logger := log.WithField("sensor", sensor.Name)
	if sensor.MinDelay <= 0 {
		logger.Infof("要求周期 = %d [us]", period.Microseconds())
		return
	}
	logger.Infof("最短周期 = %d [us], 要求周期 = %d [us]", sensor.MinDelay.Microseconds(), period.Microseconds())
	if period < sensor.MinDelay {
		logger.Warn("要求周期がセンサーの最短周期より短いです")
	}
}

// channelListener は1つのデータチャンネルへサンプルを書き込むリスナー
type channelListener struct {
	name       string
	out        LineSink
	normalizer clock.Normalizer

	samples atomic.Int64
	errors  atomic.Int64
}

func newChannelListener(name string, out LineSink, offsetNS int64) *channelListener {
	return &channelListener{
		name:       name,
		out:        out,
		normalizer: clock.NewNormalizer(offsetNS),
	}
}

// OnSensorChanged はサンプルを配信ゴルーチン上で同期的に書き込む
func (l *channelListener) OnSensorChanged(event Event) {
	line := sink.FormatIMULine(l.normalizer.Adjust(event.Timestamp), event.Values)
	if err := l.out.WriteLine(line); err != nil {
		// 失敗が続く場合にログが溢れないよう間引く
		if n := l.errors.Add(1); n == 1 || n%1000 == 0 {
			log.WithField("channel", l.name).Errorf("サンプルの書き込みに失敗 (%d 回目): %v", n, err)
		}
		return
	}
	l.samples.Add(1)
}

// OnAccuracyChanged は精度の変化をログに出力する
func (l *channelListener) OnAccuracyChanged(sensor *Sensor, accuracy int) {
	log.WithField("channel", l.name).Infof("%s の精度が %d に変わりました", sensor.Name, accuracy)
}
