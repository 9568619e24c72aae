//go:build linux && cgo

package camera

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"calibrecorder/internal/clock"
)

// jpegPixelFormats は優先順に並べたJPEG系のピクセルフォーマット
var jpegPixelFormats = []v4l2.FourCCType{v4l2.PixelFmtJPEG, v4l2.PixelFmtMJPEG}

// probeV4L2Device はデバイスのカード名とJPEG出力解像度を取得する
func probeV4L2Device(path string) (*DeviceInfo, error) {
	dev, err := device.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceAccess, err)
	}
	defer func() {
		_ = dev.Close()
	}()

	info := &DeviceInfo{Device: path}
	if capability, err := v4l2.GetCapability(dev.Fd()); err == nil {
		info.Name = capability.Card
		info.Driver = capability.Driver
	}

	pixFmt, ok := selectJPEGFormat(dev)
	if !ok {
		return info, nil
	}

	frameSizes, err := v4l2.GetFormatFrameSizes(dev.Fd(), pixFmt)
	if err != nil {
		return nil, fmt.Errorf("フレームサイズの取得に失敗: %w", err)
	}
	for _, fs := range frameSizes {
		// 離散値はMin/Maxが等しい。連続・段階的な場合は最大値を使う
		info.JPEGSizes = append(info.JPEGSizes, Resolution{
			Width:  int(fs.Size.MaxWidth),
			Height: int(fs.Size.MaxHeight),
		})
	}

	return info, nil
}

// selectJPEGFormat はデバイスが対応するJPEG系フォーマットを選ぶ
func selectJPEGFormat(dev *device.Device) (v4l2.FourCCType, bool) {
	descs, err := dev.GetFormatDescriptions()
	if err != nil {
		return 0, false
	}

	for _, want := range jpegPixelFormats {
		for _, desc := range descs {
			if desc.PixelFormat == want {
				return want, true
			}
		}
	}
	return 0, false
}

// v4l2Device は開いたV4L2デバイス
type v4l2Device struct {
	path    string
	dev     *device.Device
	clock   clock.Source
	release func()

	mu      sync.Mutex
	session *v4l2Session
	closed  bool
}

func openV4L2Device(path string, bufferSize uint32, clk clock.Source, release func()) (Device, error) {
	dev, err := device.Open(path, device.WithBufferSize(bufferSize))
	if err != nil {
		return nil, fmt.Errorf("%s のオープンに失敗: %w: %v", path, ErrDeviceAccess, err)
	}

	return &v4l2Device{
		path:    path,
		dev:     dev,
		clock:   clk,
		release: release,
	}, nil
}

func (d *v4l2Device) CreateSession(ctx context.Context, cfg SessionConfig, handler EventHandler) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("%s は閉じられています: %w", d.path, ErrDeviceAccess)
	}
	if d.session != nil {
		return nil, fmt.Errorf("%s のセッションは既に動作中です", d.path)
	}
	if cfg.Reader == nil {
		return nil, fmt.Errorf("ImageReaderが指定されていません")
	}

	pixFmt, ok := selectJPEGFormat(d.dev)
	if !ok {
		return nil, fmt.Errorf("%s: %w", d.path, ErrNoJPEGOutput)
	}

	if err := d.dev.SetPixFormat(v4l2.PixFormat{
		PixelFormat: pixFmt,
		Width:       uint32(cfg.Size.Width),
		Height:      uint32(cfg.Size.Height),
		Field:       v4l2.FieldNone,
	}); err != nil {
		return nil, fmt.Errorf("ピクセルフォーマットの設定に失敗 (%s): %w", cfg.Size, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if err := d.dev.Start(streamCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("ストリームの開始に失敗: %w", err)
	}

	fd := d.dev.Fd()
	exposure := newExposureReader(func(id uint32) (int64, error) {
		value, err := v4l2.GetControlValue(fd, v4l2.CtrlID(id))
		return int64(value), err
	})
	log.WithField("device", d.path).Infof("露光時間: %dns (固定: %t)", exposure.ExposureNS(), exposure.Fixed())

	s := &v4l2Session{
		path:     d.path,
		dev:      d.dev,
		cfg:      cfg,
		clock:    d.clock,
		exposure: exposure,
		handler:  handler,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(streamCtx)

	d.session = s
	return s, nil
}

func (d *v4l2Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	session := d.session
	d.session = nil
	d.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}

	err := d.dev.Close()
	if d.release != nil {
		d.release()
	}
	if err != nil {
		return fmt.Errorf("%s のクローズに失敗: %w", d.path, err)
	}
	return nil
}

// v4l2Session はフレームを読み出してハンドラーへ配信する
//
// go4vl はキャンセルを受けるとストリームを止めて出力チャネルを閉じる。
// それまで出力を読み続けないと go4vl のゴルーチンが送信で止まる
type v4l2Session struct {
	path     string
	dev      *device.Device
	cfg      SessionConfig
	clock    clock.Source
	exposure *exposureReader
	handler  EventHandler

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *v4l2Session) run(ctx context.Context) {
	defer close(s.done)

	logger := log.WithField("device", s.path)
	output := s.dev.GetOutput()
	var frame int64

	for {
		var data []byte
		var ok bool
		select {
		case <-ctx.Done():
			// go4vl が出力を閉じるまで読み捨てる
			for range output {
			}
			return
		case data, ok = <-output:
		}

		if !ok {
			// キャンセル以外で閉じた場合は切断とみなす
			if ctx.Err() == nil {
				s.handler.OnDeviceError(fmt.Errorf("%s のフレーム出力が停止しました: %w", s.path, ErrDeviceAccess))
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		// 静止画モードは1枚目以降を読み捨てる
		if s.cfg.Mode == ModeStill && frame > 0 {
			continue
		}

		ts := s.clock.Now()
		s.handler.OnCaptureCompleted(CaptureResult{
			FrameNumber:     frame,
			SensorTimestamp: ts,
			ExposureTime:    s.exposure.ExposureNS(),
		})

		img, err := s.cfg.Reader.Acquire(data, ts)
		if err != nil {
			logger.Debugf("フレーム %d を破棄しました: %v", frame, err)
		} else {
			s.handler.OnImageAvailable(img)
		}
		frame++
	}
}

// Close はストリームを止め、go4vl が出力を閉じるまで待つ
func (s *v4l2Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
