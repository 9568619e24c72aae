package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"calibrecorder/internal/clock"
	"calibrecorder/internal/sink"
	"calibrecorder/internal/worker"
)

// DefaultOpenTimeout はゲート取得の既定の待ち時間
const DefaultOpenTimeout = 2500 * time.Millisecond

// StreamConfig はカメラストリームの設定
type StreamConfig struct {
	Name              string        // 出力名 (left, right)
	CameraID          string        // ドライバーに渡すカメラID
	Mode              CaptureMode   // キャプチャ方式
	OpenTimeout       time.Duration // ゲート取得の待ち時間
	MaxImages         int           // 同時に保持できる画像数
	TimestampOffsetNS int64         // センサータイムスタンプのオフセット
}

// Stats はストリームの統計情報
type Stats struct {
	ImagesWritten   int64 // 書き込んだ画像数
	ImageErrors     int64 // 画像の書き込み失敗数
	ImagesDiscarded int64 // 停止中に受け取り破棄した画像数
	MetadataLines   int64 // 書き込んだメタデータ行数
	MetadataErrors  int64 // メタデータの書き込み失敗数
	FramesDropped   int64 // バッファ不足で破棄されたフレーム数
	DeviceErrors    int64 // デバイスエラー・切断の回数
}

// Stream はカメラ1台分のキャプチャを管理する
type Stream struct {
	cfg        StreamConfig
	driver     Driver
	metadata   LineSink
	images     ImageSink
	normalizer clock.Normalizer

	// open/close の排他ゲート（容量1）
	gate chan struct{}

	mu      sync.Mutex
	status  Status
	device  Device
	session Session
	reader  *ImageReader
	worker  *worker.Worker
	chars   Characteristics
	size    Resolution

	// ストリーム専用のカウンタ
	imageSeq    sink.Sequence
	metadataSeq sink.Sequence

	imagesWritten   atomic.Int64
	imageErrors     atomic.Int64
	imagesDiscarded atomic.Int64
	metadataLines   atomic.Int64
	metadataErrors  atomic.Int64
	framesDropped   atomic.Int64
	deviceErrors    atomic.Int64
}

// NewStream は新しいStreamを作成する
func NewStream(driver Driver, cfg StreamConfig, metadata LineSink, images ImageSink) *Stream {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 2
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeRepeating
	}
	if cfg.Name == "" {
		cfg.Name = cfg.CameraID
	}

	return &Stream{
		cfg:        cfg,
		driver:     driver,
		metadata:   metadata,
		images:     images,
		normalizer: clock.NewNormalizer(cfg.TimestampOffsetNS),
		gate:       make(chan struct{}, 1),
		status:     StatusInactive,
	}
}

// Name はストリーム名を返す
func (s *Stream) Name() string {
	return s.cfg.Name
}

// CameraID はカメラIDを返す
func (s *Stream) CameraID() string {
	return s.cfg.CameraID
}

// GetStatus は現在の状態を取得する
func (s *Stream) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Characteristics はオープン時に取得したカメラ特性を返す
func (s *Stream) Characteristics() Characteristics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chars
}

// OutputSize は選択した出力解像度を返す
func (s *Stream) OutputSize() Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Stats は統計情報を返す
func (s *Stream) Stats() Stats {
	stats := Stats{
		ImagesWritten:   s.imagesWritten.Load(),
		ImageErrors:     s.imageErrors.Load(),
		ImagesDiscarded: s.imagesDiscarded.Load(),
		MetadataLines:   s.metadataLines.Load(),
		MetadataErrors:  s.metadataErrors.Load(),
		DeviceErrors:    s.deviceErrors.Load(),
	}

	s.mu.Lock()
	stats.FramesDropped = s.framesDropped.Load()
	if s.reader != nil {
		stats.FramesDropped += s.reader.Dropped()
	}
	s.mu.Unlock()

	return stats
}

func (s *Stream) logger() *log.Entry {
	return log.WithFields(log.Fields{"camera": s.cfg.CameraID, "stream": s.cfg.Name})
}

// acquireGate はゲートを取得する。timeout が0以下の場合は ctx が終わるまで待つ
func (s *Stream) acquireGate(ctx context.Context, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	// 空いていれば ctx の状態に関わらず取得する
	select {
	case s.gate <- struct{}{}:
		return nil
	default:
	}

	select {
	case s.gate <- struct{}{}:
		return nil
	case <-timer:
		return fmt.Errorf("カメラ %s: %w", s.cfg.CameraID, ErrOpenTimeout)
	case <-ctx.Done():
		return fmt.Errorf("カメラ %s のゲート待ちが中断されました: %w", s.cfg.CameraID, ctx.Err())
	}
}

// acquireCloseGate はゲートが空くまで待つ
//
// ctx が終わっても後片付けを諦めずに待ち続ける
func (s *Stream) acquireCloseGate(ctx context.Context) {
	select {
	case s.gate <- struct{}{}:
		return
	default:
	}

	select {
	case s.gate <- struct{}{}:
		return
	case <-ctx.Done():
		s.logger().Warnf("ゲート待ちの期限を過ぎましたが、クローズのため待ち続けます: %v", ctx.Err())
	}
	s.gate <- struct{}{}
}

// releaseGate はゲートを解放する
func (s *Stream) releaseGate() {
	<-s.gate
}

// Open はカメラを開いてキャプチャを開始する
//
// ゲートを OpenTimeout 以内に取得できない場合は ErrOpenTimeout を返し、
// ドライバーを一切呼び出さない。デバイスアクセスや権限のエラーはログに出力し、
// ストリームを未オープンのまま返す
func (s *Stream) Open(ctx context.Context) error {
	logger := s.logger()
	logger.Infof("カメラを開きます (モード: %s)", s.cfg.Mode)

	if err := s.acquireGate(ctx, s.cfg.OpenTimeout); err != nil {
		logger.Errorf("ゲートの取得に失敗: %v", err)
		return err
	}
	gateHeld := true
	defer func() {
		if gateHeld {
			s.releaseGate()
		}
	}()

	s.mu.Lock()
	if s.status == StatusActive {
		s.mu.Unlock()
		return fmt.Errorf("カメラ %s は既に開始されています", s.cfg.CameraID)
	}
	if s.worker != nil {
		// デバイスエラー後もワーカーとImageReaderは Close まで残っている
		s.mu.Unlock()
		return fmt.Errorf("カメラ %s はエラー後にクローズされていません", s.cfg.CameraID)
	}
	s.mu.Unlock()

	chars, err := s.driver.Characteristics(ctx, s.cfg.CameraID)
	if err != nil {
		s.setStatus(StatusError)
		logger.Errorf("カメラ特性の取得に失敗: %v", err)
		return fmt.Errorf("カメラ %s の特性取得に失敗: %w", s.cfg.CameraID, err)
	}

	switch chars.TimestampSource {
	case TimestampSourceRealtime:
		logger.Info("タイムスタンプの時刻系はrealtimeです")
	default:
		logger.Error("タイムスタンプの時刻系が不明です。IMUとの同期は保証されません")
	}

	size, ok := LargestSize(chars.JPEGSizes)
	if !ok {
		s.setStatus(StatusError)
		logger.Error("JPEG出力の解像度がありません")
		return fmt.Errorf("カメラ %s: %w", s.cfg.CameraID, ErrNoJPEGOutput)
	}
	logger.Infof("最大出力解像度: %s", size)

	reader := NewImageReader(size, s.cfg.MaxImages)
	w := worker.New("camera-" + s.cfg.Name)

	device, err := s.driver.Open(ctx, s.cfg.CameraID)
	if err != nil {
		w.Stop()
		reader.Close()
		s.setStatus(StatusError)
		logger.Errorf("カメラデバイスのオープンに失敗: %v", err)
		return fmt.Errorf("カメラ %s のオープンに失敗: %w", s.cfg.CameraID, err)
	}

	s.mu.Lock()
	s.device = device
	s.reader = reader
	s.worker = w
	s.chars = chars
	s.size = size
	s.status = StatusActive
	s.mu.Unlock()

	logger.Info("カメラデバイスを開きました")

	// デバイスが開いた時点でゲートを解放し、セッション構成はワーカーで行う
	gateHeld = false
	s.releaseGate()

	sessionCtx := context.WithoutCancel(ctx)
	if !w.Post(func() { s.configureSession(sessionCtx) }) {
		logger.Warn("セッション構成前にワーカーが停止しました")
	}

	return nil
}

// configureSession はキャプチャセッションを作成する（ワーカー上で実行）
func (s *Stream) configureSession(ctx context.Context) {
	logger := s.logger()

	s.mu.Lock()
	device := s.device
	reader := s.reader
	size := s.size
	s.mu.Unlock()

	if device == nil {
		logger.Debug("セッション構成時にカメラは既にクローズされています")
		return
	}

	cfg := SessionConfig{Size: size, Mode: s.cfg.Mode, Reader: reader}
	session, err := device.CreateSession(ctx, cfg, &streamHandler{stream: s})
	if err != nil {
		s.deviceErrors.Add(1)
		s.setStatus(StatusError)
		logger.Errorf("キャプチャセッションの構成に失敗: %v", err)
		return
	}

	s.mu.Lock()
	if s.device == nil {
		// 構成中にクローズされた
		s.mu.Unlock()
		if err := session.Close(); err != nil {
			logger.Warnf("不要になったセッションのクローズに失敗: %v", err)
		}
		logger.Debug("セッション構成中にカメラがクローズされました")
		return
	}
	s.session = session
	s.mu.Unlock()

	if s.cfg.Mode == ModeStill {
		logger.Info("静止画キャプチャを要求しました")
	} else {
		logger.Info("連続キャプチャを開始しました")
	}
}

// Close はセッション・デバイス・ImageReaderを閉じる
//
// キューに積まれた画像の書き込みが全て終わるまで戻らない。
// 既にクローズ済みのリソースは無視するため、複数回呼び出しても安全
func (s *Stream) Close(ctx context.Context) error {
	logger := s.logger()
	logger.Info("カメラを閉じます")

	s.acquireCloseGate(ctx)
	defer s.releaseGate()

	s.mu.Lock()
	session := s.session
	device := s.device
	w := s.worker
	reader := s.reader
	s.session = nil
	s.device = nil
	if s.status == StatusActive {
		s.status = StatusInactive
	}
	s.mu.Unlock()

	var errs []error
	if session != nil {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("セッションのクローズに失敗: %w", err))
		}
	}
	if device != nil {
		if err := device.Close(); err != nil {
			errs = append(errs, fmt.Errorf("デバイスのクローズに失敗: %w", err))
		}
	}

	// 積まれた書き込みを全て終えてからワーカーを止める
	if w != nil {
		w.Stop()
	}

	if reader != nil {
		reader.Close()
		if n := reader.Outstanding(); n > 0 {
			logger.Errorf("返却されていない画像バッファが %d 個あります", n)
		}
	}

	s.mu.Lock()
	if s.worker == w {
		s.worker = nil
	}
	if reader != nil && s.reader == reader {
		s.reader = nil
		s.framesDropped.Add(reader.Dropped())
	}
	s.mu.Unlock()

	if w != nil {
		stats := s.Stats()
		logger.WithFields(log.Fields{
			"images":   stats.ImagesWritten,
			"errors":   stats.ImageErrors,
			"metadata": stats.MetadataLines,
			"dropped":  stats.FramesDropped,
		}).Info("カメラを閉じました")
	}

	err := errors.Join(errs...)
	if err != nil {
		logger.Errorf("クローズ中にエラーが発生: %v", err)
	}
	return err
}

func (s *Stream) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Stream) currentWorker() *worker.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

// writeMetadata はメタデータ行を追記する（ワーカー上で実行）
func (s *Stream) writeMetadata(index int64, result CaptureResult) {
	line := sink.FormatMetadataLine(
		s.normalizer.Adjust(result.SensorTimestamp),
		index,
		result.ExposureTime,
		result.RollingShutterSkew,
	)
	if err := s.metadata.WriteLine(line); err != nil {
		s.metadataErrors.Add(1)
		s.logger().Errorf("メタデータの書き込みに失敗: %v", err)
		return
	}
	s.metadataLines.Add(1)
}

// saveImage は画像を書き込み、成否に関わらずバッファを返却する（ワーカー上で実行）
func (s *Stream) saveImage(index int64, img *Image) {
	defer img.Close()

	path, err := s.images.Write(index, img.Bytes())
	if err != nil {
		s.imageErrors.Add(1)
		s.logger().Errorf("画像 %d の書き込みに失敗: %v", index, err)
		return
	}
	s.imagesWritten.Add(1)
	s.logger().Debugf("画像を書き込みました: %s", path)
}

// handleDeviceError はデバイスの切断・エラー時にハンドルを手放す（ワーカー上で実行）
func (s *Stream) handleDeviceError(err error) {
	logger := s.logger()
	logger.Errorf("カメラデバイスでエラーが発生: %v", err)

	s.mu.Lock()
	session := s.session
	device := s.device
	s.session = nil
	s.device = nil
	s.status = StatusError
	s.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			logger.Warnf("セッションのクローズに失敗: %v", err)
		}
	}
	if device != nil {
		if err := device.Close(); err != nil {
			logger.Warnf("デバイスのクローズに失敗: %v", err)
		}
	}
}

// streamHandler はカメラストリーム用のEventHandler実装
//
// 全てのイベントはカメラ専用ワーカーへ投入され、投入順に処理される
type streamHandler struct {
	stream *Stream
}

// OnCaptureCompleted はメタデータの書き込みをワーカーへ投入する
func (h *streamHandler) OnCaptureCompleted(result CaptureResult) {
	s := h.stream
	index := s.metadataSeq.Next()
	s.logger().Debugf("キャプチャ完了: frame=%d index=%d", result.FrameNumber, index)

	w := s.currentWorker()
	if w == nil || !w.Post(func() { s.writeMetadata(index, result) }) {
		s.metadataErrors.Add(1)
	}
}

// OnImageAvailable は画像の書き込みをワーカーへ投入する
//
// 投入できない場合はその場でバッファを返却する
func (h *streamHandler) OnImageAvailable(img *Image) {
	s := h.stream
	index := s.imageSeq.Next()
	s.logger().Debugf("画像 %d timestamp: %d", index, img.Timestamp)

	w := s.currentWorker()
	if w == nil || !w.Post(func() { s.saveImage(index, img) }) {
		img.Close()
		s.imagesDiscarded.Add(1)
	}
}

// OnDeviceError はデバイスエラーの処理をワーカーへ投入する
func (h *streamHandler) OnDeviceError(err error) {
	s := h.stream
	s.deviceErrors.Add(1)

	w := s.currentWorker()
	if w == nil || !w.Post(func() { s.handleDeviceError(err) }) {
		s.logger().Warnf("停止中のデバイスエラー: %v", err)
	}
}
