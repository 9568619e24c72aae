package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"calibrecorder/internal/clock"
)

// SimulatedConfig はシミュレーションカメラの設定
type SimulatedConfig struct {
	FPS                int          // フレームレート
	Sizes              []Resolution // 対応するJPEG解像度
	ExposureNS         int64        // 露光時間 (ns)
	RollingShutterSkew int64        // ローリングシャッターの走査時間 (ns)
	SquareSize         int          // チェッカーボードのマスの大きさ (px)
	Clock              clock.Source // タイムスタンプの時刻源
}

// DefaultSimulatedConfig は既定のシミュレーション設定を返す
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		FPS:                15,
		Sizes:              []Resolution{{Width: 320, Height: 240}, {Width: 640, Height: 480}},
		ExposureNS:         10_000_000,
		RollingShutterSkew: 8_000_000,
		SquareSize:         40,
		Clock:              clock.BootTime(),
	}
}

// SimulatedDriver はチェッカーボード画像を生成するカメラドライバー
//
// 実機のないテストや動作確認に使う。デバイスは1プロセス内で排他的に開かれる
type SimulatedDriver struct {
	cfg SimulatedConfig

	mu   sync.Mutex
	ids  map[string]bool
	open map[string]bool
}

// NewSimulatedDriver は新しいSimulatedDriverを作成する
func NewSimulatedDriver(ids []string, cfg SimulatedConfig) *SimulatedDriver {
	def := DefaultSimulatedConfig()
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = def.Sizes
	}
	if cfg.SquareSize <= 0 {
		cfg.SquareSize = def.SquareSize
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}

	d := &SimulatedDriver{
		cfg:  cfg,
		ids:  make(map[string]bool),
		open: make(map[string]bool),
	}
	for _, id := range ids {
		d.ids[id] = true
	}
	return d
}

// Characteristics はカメラの特性を返す
func (d *SimulatedDriver) Characteristics(ctx context.Context, id string) (Characteristics, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ids[id] {
		return Characteristics{}, fmt.Errorf("シミュレーションカメラ %s は存在しません: %w", id, ErrDeviceAccess)
	}

	return Characteristics{
		ID:              id,
		Name:            "Simulated Camera " + id,
		JPEGSizes:       append([]Resolution(nil), d.cfg.Sizes...),
		TimestampSource: TimestampSourceRealtime,
	}, nil
}

// Open はカメラを排他的に開く
func (d *SimulatedDriver) Open(ctx context.Context, id string) (Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ids[id] {
		return nil, fmt.Errorf("シミュレーションカメラ %s は存在しません: %w", id, ErrDeviceAccess)
	}
	if d.open[id] {
		return nil, fmt.Errorf("シミュレーションカメラ %s は使用中です: %w", id, ErrDeviceAccess)
	}
	d.open[id] = true

	return &simDevice{driver: d, id: id}, nil
}

func (d *SimulatedDriver) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.open, id)
}

// IsOpen はカメラが開かれているかを返す
func (d *SimulatedDriver) IsOpen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open[id]
}

type simDevice struct {
	driver *SimulatedDriver
	id     string

	mu      sync.Mutex
	session *simSession
	closed  bool
}

func (dev *simDevice) CreateSession(ctx context.Context, cfg SessionConfig, handler EventHandler) (Session, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return nil, fmt.Errorf("シミュレーションカメラ %s は閉じられています: %w", dev.id, ErrDeviceAccess)
	}
	if cfg.Reader == nil {
		return nil, fmt.Errorf("ImageReaderが指定されていません")
	}
	if dev.session != nil {
		dev.session.Close()
	}

	s := &simSession{
		id:      dev.id,
		cfg:     cfg,
		sim:     dev.driver.cfg,
		handler: handler,
		stopCh:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()

	dev.session = s
	return s, nil
}

func (dev *simDevice) Close() error {
	dev.mu.Lock()
	if dev.closed {
		dev.mu.Unlock()
		return nil
	}
	dev.closed = true
	session := dev.session
	dev.session = nil
	dev.mu.Unlock()

	if session != nil {
		session.Close()
	}
	dev.driver.release(dev.id)
	return nil
}

type simSession struct {
	id      string
	cfg     SessionConfig
	sim     SimulatedConfig
	handler EventHandler

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (s *simSession) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	return nil
}

// run はフレームを生成して配信する
func (s *simSession) run() {
	defer s.wg.Done()

	interval := time.Second / time.Duration(s.sim.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var frame int64
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		s.deliver(frame)
		frame++

		if s.cfg.Mode == ModeStill {
			// 静止画モードは1枚だけ配信して停止を待つ
			<-s.stopCh
			return
		}
	}
}

func (s *simSession) deliver(frame int64) {
	ts := s.sim.Clock.Now()

	s.handler.OnCaptureCompleted(CaptureResult{
		FrameNumber:        frame,
		SensorTimestamp:    ts,
		ExposureTime:       s.sim.ExposureNS,
		RollingShutterSkew: s.sim.RollingShutterSkew,
	})

	data, err := RenderCheckerboard(s.cfg.Size, s.sim.SquareSize, fmt.Sprintf("%s #%05d", s.id, frame))
	if err != nil {
		log.WithField("camera", s.id).Errorf("シミュレーション画像の生成に失敗: %v", err)
		return
	}

	img, err := s.cfg.Reader.Acquire(data, ts)
	if err != nil {
		log.WithField("camera", s.id).Debugf("フレーム %d を破棄しました: %v", frame, err)
		return
	}
	s.handler.OnImageAvailable(img)
}

// RenderCheckerboard はラベル付きのチェッカーボードをJPEGで生成する
func RenderCheckerboard(size Resolution, square int, label string) ([]byte, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("無効な解像度: %s", size)
	}
	if square <= 0 {
		square = 40
	}

	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	for y := 0; y < size.Height; y += square {
		for x := 0; x < size.Width; x += square {
			if (x/square+y/square)%2 == 0 {
				continue
			}
			r := image.Rect(x, y, x+square, y+square).Intersect(img.Bounds())
			draw.Draw(img, r, image.Black, image.Point{}, draw.Src)
		}
	}

	// ラベルの背景
	labelWidth := len(label)*7 + 8
	draw.Draw(img, image.Rect(0, 0, labelWidth, 20).Intersect(img.Bounds()), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 255, A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, 15),
	}
	d.DrawString(label)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}
