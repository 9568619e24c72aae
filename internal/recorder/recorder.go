package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"calibrecorder/internal/camera"
	"calibrecorder/internal/config"
	"calibrecorder/internal/imu"
	"calibrecorder/internal/session"
)

// shutdownTimeout は停止処理の待ち時間
const shutdownTimeout = 5 * time.Second

// imuManager は閉じることのできるIMUマネージャー
type imuManager interface {
	imu.Manager
	Close() error
}

// Recorder は1回の記録を管理する構造体
type Recorder struct {
	config     *config.Config
	driver     camera.Driver
	imu        imuManager
	controller *session.Controller
	session    *session.Session
}

// New は設定からRecorderを作成する
func New(cfg *config.Config) (*Recorder, error) {
	r := &Recorder{config: cfg}

	if cfg.Recorder.EnableCameras {
		driver, err := newDriver(cfg)
		if err != nil {
			return nil, err
		}
		r.driver = driver
	}

	if cfg.Recorder.EnableSensors {
		mgr, err := newIMUManager(&cfg.IMU)
		switch {
		case err == nil:
			r.imu = mgr
		case errors.Is(err, imu.ErrSensorUnavailable):
			log.Warnf("IMUなしで記録します: %v", err)
		default:
			return nil, err
		}
	}

	opts := session.Options{
		RootDir:        cfg.Recorder.RootDir,
		Driver:         r.driver,
		CaptureMode:    cfg.CaptureMode(),
		OpenTimeout:    cfg.Camera.OpenTimeout,
		MaxImages:      cfg.Camera.MaxImages,
		CameraOffsetNS: cfg.Camera.TimestampOffsetNS,
		IMUOptions: imu.Options{
			Period:        cfg.IMU.SamplePeriod,
			AccelOffsetNS: cfg.IMU.AccelOffsetNS,
			GyroOffsetNS:  cfg.IMU.GyroOffsetNS,
		},
	}
	for _, d := range cfg.Camera.Devices {
		opts.Cameras = append(opts.Cameras, session.CameraSpec{Name: d.Name, ID: d.DriverID()})
	}
	if r.imu != nil {
		opts.IMUManager = r.imu
	}
	if cfg.Thermal.Enabled {
		opts.ThermalRoot = cfg.Thermal.Root
		opts.ThermalZones = cfg.Thermal.Zones
		opts.ThermalPeriod = cfg.Thermal.Period
	}
	r.controller = session.NewController(opts)

	return r, nil
}

// newDriver はバックエンド名からカメラドライバーを作成する
func newDriver(cfg *config.Config) (camera.Driver, error) {
	ids := make([]string, 0, len(cfg.Camera.Devices))
	for _, d := range cfg.Camera.Devices {
		ids = append(ids, d.DriverID())
	}

	simulated := camera.DefaultSimulatedConfig()
	simulated.FPS = cfg.Camera.SimulatedFPS

	driver, err := camera.NewDriverFactory().Create(cfg.Camera.Backend, camera.DriverOptions{
		CameraIDs:  ids,
		BufferSize: cfg.Camera.BufferSize,
		Simulated:  simulated,
	})
	if err != nil {
		return nil, fmt.Errorf("カメラドライバーの作成に失敗: %w", err)
	}
	return driver, nil
}

// newIMUManager はIMUマネージャーを作成する
func newIMUManager(cfg *config.IMUConfig) (imuManager, error) {
	if cfg.Backend == config.IMUBackendSimulated {
		return imu.NewSimulatedManager(), nil
	}

	dir := cfg.IIODevice
	if dir == "" {
		found, err := imu.FindIIODevice(cfg.IIORoot, cfg.IIOName)
		if err != nil {
			return nil, err
		}
		dir = found
	}

	mgr, err := imu.NewIIOManager(dir)
	if err != nil {
		return nil, err
	}
	log.Infof("IIOデバイスを使用します: %s", mgr.Dir())
	return mgr, nil
}

// Session は実行中のセッションを返す
func (r *Recorder) Session() *session.Session {
	return r.session
}

// Start はセッションを開始し、停止要求まで記録を続ける
func (r *Recorder) Start(ctx context.Context) error {
	s, err := r.controller.Start(ctx)
	if err != nil {
		r.closeIMU()
		return fmt.Errorf("記録の開始に失敗: %w", err)
	}
	r.session = s

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Infof("シグナルを受信しました: %v", sig)
	}

	return r.Shutdown()
}

// Shutdown はセッションを停止し、センサーを閉じる
func (r *Recorder) Shutdown() error {
	log.Info("記録を停止しています...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if r.session != nil {
		err = r.session.Stop(ctx)
	}
	r.closeIMU()

	if err != nil {
		return fmt.Errorf("記録の停止に失敗: %w", err)
	}

	log.Info("記録が正常に停止しました")
	return nil
}

func (r *Recorder) closeIMU() {
	if r.imu == nil {
		return
	}
	if err := r.imu.Close(); err != nil {
		log.Errorf("IMUのクローズに失敗: %v", err)
	}
}
