package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"calibrecorder/internal/camera"
	"calibrecorder/internal/imu"
	"calibrecorder/internal/sink"
	"calibrecorder/internal/thermal"
)

// ErrNoActiveStreams は開始できたストリームが1つもない場合に返される
var ErrNoActiveStreams = errors.New("開始できたストリームがありません")

// CameraSpec は記録するカメラ
type CameraSpec struct {
	Name string // 出力名 (left, right)
	ID   string // ドライバーに渡すカメラID
}

// Options はセッションの設定
type Options struct {
	RootDir string

	// カメラ（Driver が nil ならカメラを記録しない）
	Driver         camera.Driver
	Cameras        []CameraSpec
	CaptureMode    camera.CaptureMode
	OpenTimeout    time.Duration
	MaxImages      int
	CameraOffsetNS int64

	// IMU（Manager が nil ならIMUを記録しない）
	IMUManager imu.Manager
	IMUOptions imu.Options

	// 温度（ゾーンが空なら記録しない）
	ThermalRoot   string
	ThermalZones  []int
	ThermalPeriod time.Duration

	// テスト用の時刻源
	Now func() time.Time
}

// Controller はセッションの開始を担う
type Controller struct {
	opts Options
}

// NewController は新しいControllerを作成する
func NewController(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CaptureMode == "" {
		opts.CaptureMode = camera.ModeRepeating
	}
	return &Controller{opts: opts}
}

// cameraEntry はセッション内のカメラ1台分
type cameraEntry struct {
	spec     CameraSpec
	stream   *camera.Stream
	metadata *sink.LineWriter
	images   *sink.ImageDir
}

// Session は動作中の記録セッション
type Session struct {
	ID        string
	Dir       string
	StartedAt time.Time

	cameras []*cameraEntry
	imu     *imu.Stream
	thermal *thermal.Stream
	writers []io.Closer

	mu       sync.Mutex
	stopped  bool
	stopErr  error
	stopOnce sync.Once
}

// Start はセッションディレクトリを作成し、全ストリームを開始する
//
// カメラのオープン待ちがタイムアウトした場合は開始済みのストリームを全て止め、
// ライターを閉じてエラーを返す
func (c *Controller) Start(ctx context.Context) (*Session, error) {
	startedAt := c.opts.Now()

	dir, err := createRunDir(c.opts.RootDir, startedAt)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.New().String(),
		Dir:       dir,
		StartedAt: startedAt.UTC(),
	}
	logger := log.WithField("session", s.ID)
	logger.Infof("セッションを開始します: %s", dir)

	// ストリームを開始する前に全てのライターを開く
	accelOut, gyroOut, err := c.prepareIMU(s)
	if err != nil {
		s.abort(ctx)
		return nil, err
	}
	thermalOut, err := c.prepareThermal(s)
	if err != nil {
		s.abort(ctx)
		return nil, err
	}
	if err := c.prepareCameras(s); err != nil {
		s.abort(ctx)
		return nil, err
	}

	// センサー、カメラの順に開始する
	if s.imu != nil {
		if err := s.imu.Open(accelOut, gyroOut); err != nil {
			logger.Errorf("IMUの開始に失敗したため記録しません: %v", err)
			s.imu = nil
		}
	}
	if s.thermal != nil {
		if err := s.thermal.Open(thermalOut); err != nil {
			logger.Errorf("温度の記録を開始できませんでした: %v", err)
			s.thermal = nil
		}
	}

	started := make([]*cameraEntry, 0, len(s.cameras))
	for _, entry := range s.cameras {
		err := entry.stream.Open(ctx)
		if err == nil {
			started = append(started, entry)
			continue
		}
		if errors.Is(err, camera.ErrOpenTimeout) {
			logger.Errorf("カメラ %s のオープン待ちがタイムアウトしました。セッションを中止します", entry.spec.Name)
			s.cameras = started
			s.abort(ctx)
			return nil, fmt.Errorf("セッションの開始に失敗: %w", err)
		}
		logger.Errorf("カメラ %s を記録から除外します: %v", entry.spec.Name, err)
	}
	s.cameras = started

	if len(s.cameras) == 0 && s.imu == nil {
		s.abort(ctx)
		return nil, ErrNoActiveStreams
	}

	if err := WriteManifest(filepath.Join(dir, ManifestFileName), c.manifest(s)); err != nil {
		logger.Errorf("セッション概要の書き出しに失敗: %v", err)
	}

	logger.Infof("記録中のストリーム: %v", s.ActiveStreams())
	return s, nil
}

// prepareIMU はIMUストリームを作成し、出力ファイルを開く
func (c *Controller) prepareIMU(s *Session) (*sink.LineWriter, *sink.LineWriter, error) {
	if c.opts.IMUManager == nil {
		return nil, nil, nil
	}

	stream, err := imu.NewStream(c.opts.IMUManager, c.opts.IMUOptions)
	if err != nil {
		log.Errorf("IMUを記録しません: %v", err)
		return nil, nil, nil
	}

	accelOut, err := sink.CreateLineWriter(filepath.Join(s.Dir, AccelFileName))
	if err != nil {
		return nil, nil, err
	}
	s.writers = append(s.writers, accelOut)

	gyroOut, err := sink.CreateLineWriter(filepath.Join(s.Dir, GyroFileName))
	if err != nil {
		return nil, nil, err
	}
	s.writers = append(s.writers, gyroOut)

	s.imu = stream
	return accelOut, gyroOut, nil
}

// prepareThermal は温度ストリームを作成し、出力ファイルを開く
//
// ゾーンが読めない場合は温度を記録せずに続ける
func (c *Controller) prepareThermal(s *Session) (*sink.LineWriter, error) {
	if len(c.opts.ThermalZones) == 0 {
		return nil, nil
	}

	root := c.opts.ThermalRoot
	if root == "" {
		root = thermal.DefaultRoot
	}
	zones, err := thermal.OpenZones(root, c.opts.ThermalZones)
	if err != nil {
		log.Errorf("温度を記録しません: %v", err)
		return nil, nil
	}

	out, err := sink.CreateLineWriter(filepath.Join(s.Dir, ThermalFileName))
	if err != nil {
		return nil, err
	}
	s.writers = append(s.writers, out)

	s.thermal = thermal.NewStream(zones, thermal.Options{Period: c.opts.ThermalPeriod})
	return out, nil
}

// prepareCameras はカメラごとの出力先とストリームを作成する
func (c *Controller) prepareCameras(s *Session) error {
	if c.opts.Driver == nil {
		return nil
	}

	for _, spec := range c.opts.Cameras {
		images, err := sink.NewImageDir(filepath.Join(s.Dir, ImageDirName(spec.Name)))
		if err != nil {
			return err
		}

		metadata, err := sink.CreateLineWriter(filepath.Join(s.Dir, MetadataFileName(spec.Name)))
		if err != nil {
			return err
		}
		s.writers = append(s.writers, metadata)

		stream := camera.NewStream(c.opts.Driver, camera.StreamConfig{
			Name:              spec.Name,
			CameraID:          spec.ID,
			Mode:              c.opts.CaptureMode,
			OpenTimeout:       c.opts.OpenTimeout,
			MaxImages:         c.opts.MaxImages,
			TimestampOffsetNS: c.opts.CameraOffsetNS,
		}, metadata, images)

		s.cameras = append(s.cameras, &cameraEntry{
			spec:     spec,
			stream:   stream,
			metadata: metadata,
			images:   images,
		})
	}

	return nil
}

func (c *Controller) manifest(s *Session) *Manifest {
	m := &Manifest{
		SessionID: s.ID,
		StartedAt: s.StartedAt,
	}

	if len(s.cameras) > 0 {
		m.CaptureMode = string(c.opts.CaptureMode)
	}
	for _, entry := range s.cameras {
		chars := entry.stream.Characteristics()
		size := entry.stream.OutputSize()
		m.Cameras = append(m.Cameras, CameraManifest{
			Name:            entry.spec.Name,
			ID:              entry.spec.ID,
			Model:           chars.Name,
			Width:           size.Width,
			Height:          size.Height,
			TimestampSource: string(chars.TimestampSource),
			OffsetNS:        c.opts.CameraOffsetNS,
			ImageDir:        ImageDirName(entry.spec.Name),
			MetadataFile:    MetadataFileName(entry.spec.Name),
		})
	}

	if s.imu != nil {
		period := c.opts.IMUOptions.Period
		if period <= 0 {
			period = imu.DefaultSamplePeriod
		}
		m.IMU = &IMUManifest{
			AccelSensor:   s.imu.AccelSensor().Name,
			GyroSensor:    s.imu.GyroSensor().Name,
			GyroType:      s.imu.GyroSensor().Type.String(),
			PeriodUS:      period.Microseconds(),
			AccelOffsetNS: c.opts.IMUOptions.AccelOffsetNS,
			GyroOffsetNS:  c.opts.IMUOptions.GyroOffsetNS,
			AccelFile:     AccelFileName,
			GyroFile:      GyroFileName,
		}
	}

	if s.thermal != nil {
		m.Thermal = &ThermalManifest{
			Zones:    thermal.Numbers(s.thermal.Zones()),
			PeriodMS: s.thermal.Period().Milliseconds(),
			File:     ThermalFileName,
		}
	}

	return m
}

// ActiveStreams は記録中のストリーム名を返す
func (s *Session) ActiveStreams() []string {
	var names []string
	if s.imu != nil {
		names = append(names, "imu")
	}
	if s.thermal != nil {
		names = append(names, "thermal")
	}
	for _, entry := range s.cameras {
		names = append(names, entry.spec.Name)
	}
	return names
}

// CameraStats はカメラごとの統計情報を返す
func (s *Session) CameraStats() map[string]camera.Stats {
	stats := make(map[string]camera.Stats, len(s.cameras))
	for _, entry := range s.cameras {
		stats[entry.spec.Name] = entry.stream.Stats()
	}
	return stats
}

// IMUStats はIMUの統計情報を返す
func (s *Session) IMUStats() (imu.Stats, bool) {
	if s.imu == nil {
		return imu.Stats{}, false
	}
	return s.imu.Stats(), true
}

// ThermalStats は温度記録の統計情報を返す
func (s *Session) ThermalStats() (thermal.Stats, bool) {
	if s.thermal == nil {
		return thermal.Stats{}, false
	}
	return s.thermal.Stats(), true
}

// Stop はカメラを逆順に閉じ、センサーを止め、全ライターを閉じる
//
// 途中で失敗しても残りの停止処理は必ず行う。複数回呼び出しても安全
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		logger := log.WithField("session", s.ID)
		logger.Info("セッションを停止します")

		err := s.shutdown(ctx)

		for name, stats := range s.CameraStats() {
			logger.WithFields(log.Fields{
				"camera":   name,
				"images":   stats.ImagesWritten,
				"metadata": stats.MetadataLines,
				"dropped":  stats.FramesDropped,
				"errors":   stats.ImageErrors + stats.MetadataErrors,
			}).Info("カメラの記録結果")
		}
		if stats, ok := s.IMUStats(); ok {
			logger.WithFields(log.Fields{
				"accel":  stats.AccelSamples,
				"gyro":   stats.GyroSamples,
				"errors": stats.WriteErrors,
			}).Info("IMUの記録結果")
		}
		if stats, ok := s.ThermalStats(); ok {
			logger.WithFields(log.Fields{
				"rows":   stats.Rows,
				"errors": stats.ReadErrors + stats.WriteErrors,
			}).Info("温度の記録結果")
		}

		s.mu.Lock()
		s.stopped = true
		s.stopErr = err
		s.mu.Unlock()

		logger.Info("セッションを停止しました")
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopErr
}

// Stopped は停止済みかを返す
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// abort は開始途中のセッションを片付ける
func (s *Session) abort(ctx context.Context) {
	if err := s.shutdown(ctx); err != nil {
		log.WithField("session", s.ID).Errorf("開始失敗時の後片付けでエラー: %v", err)
	}
}

func (s *Session) shutdown(ctx context.Context) error {
	var errs []error

	for i := len(s.cameras) - 1; i >= 0; i-- {
		entry := s.cameras[i]
		if err := entry.stream.Close(ctx); err != nil {
			log.Errorf("カメラ %s の停止に失敗: %v", entry.spec.Name, err)
			errs = append(errs, fmt.Errorf("カメラ %s: %w", entry.spec.Name, err))
		}
	}

	if s.imu != nil {
		s.imu.Close()
	}
	if s.thermal != nil {
		s.thermal.Close()
	}

	if err := sink.CloseAll(s.writers...); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
