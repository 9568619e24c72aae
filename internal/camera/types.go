package camera

import (
	"context"
	"errors"
	"fmt"
)

// Status はカメラストリームの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // カメラは停止中
	StatusActive   Status = "active"   // カメラは動作中
	StatusError    Status = "error"    // カメラでエラーが発生
)

// CaptureMode はキャプチャ方式を表す
type CaptureMode string

const (
	ModeRepeating CaptureMode = "repeating" // プレビュー形式の連続キャプチャ
	ModeStill     CaptureMode = "still"     // 静止画1枚のキャプチャ
)

// ParseCaptureMode は文字列からCaptureModeを得る
func ParseCaptureMode(s string) (CaptureMode, error) {
	switch CaptureMode(s) {
	case ModeRepeating, ModeStill:
		return CaptureMode(s), nil
	default:
		return "", fmt.Errorf("不明なキャプチャモード: %q", s)
	}
}

// TimestampSource はセンサータイムスタンプの時刻系
type TimestampSource string

const (
	TimestampSourceUnknown  TimestampSource = "unknown"  // 他センサーと比較できない
	TimestampSourceRealtime TimestampSource = "realtime" // IMUと同じCLOCK_BOOTTIME
)

// エラー定義
var (
	// ErrOpenTimeout はゲートを時間内に取得できなかった場合に返される
	ErrOpenTimeout = errors.New("カメラのオープン待ちがタイムアウトしました")
	// ErrDeviceAccess はデバイスにアクセスできない場合に返される
	ErrDeviceAccess = errors.New("カメラデバイスにアクセスできません")
	// ErrPermissionDenied はデバイスの権限がない場合に返される
	ErrPermissionDenied = errors.New("カメラデバイスへのアクセス権限がありません")
	// ErrNoJPEGOutput はJPEG出力に対応していない場合に返される
	ErrNoJPEGOutput = errors.New("JPEG出力に対応した解像度がありません")
)

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int `yaml:"width"`  // 幅
	Height int `yaml:"height"` // 高さ
}

// Area は画素数を返す
func (r Resolution) Area() int64 {
	return int64(r.Width) * int64(r.Height)
}

// String は "WxH" 形式の文字列を返す
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// LargestSize は面積が最大の解像度を返す
func LargestSize(sizes []Resolution) (Resolution, bool) {
	var largest Resolution
	found := false
	for _, size := range sizes {
		if size.Width <= 0 || size.Height <= 0 {
			continue
		}
		if !found || size.Area() > largest.Area() {
			largest = size
			found = true
		}
	}
	return largest, found
}

// Characteristics はカメラデバイスの特性を表す
type Characteristics struct {
	ID              string          // カメラID
	Name            string          // 表示名
	JPEGSizes       []Resolution    // JPEG出力に対応する解像度
	TimestampSource TimestampSource // センサータイムスタンプの時刻系
}

// CaptureResult は1フレーム分のキャプチャメタデータ
type CaptureResult struct {
	FrameNumber        int64 // ハードウェアのフレーム番号
	SensorTimestamp    int64 // 露光開始時刻 (ns)
	ExposureTime       int64 // 露光時間 (ns)
	RollingShutterSkew int64 // ローリングシャッターの走査時間 (ns)
}

// SessionConfig はキャプチャセッションの構成
type SessionConfig struct {
	Size   Resolution   // 出力解像度
	Mode   CaptureMode  // キャプチャ方式
	Reader *ImageReader // 画像の出力先
}

// EventHandler はキャプチャセッションのイベントを受け取る
//
// ドライバーのゴルーチンから呼ばれるため、実装はブロックしてはならない
type EventHandler interface {
	// OnCaptureCompleted はキャプチャ完了時にメタデータを受け取る
	OnCaptureCompleted(result CaptureResult)

	// OnImageAvailable は画像を受け取る。受け取った側が必ずClose する
	OnImageAvailable(img *Image)

	// OnDeviceError はデバイスの切断・エラーを受け取る
	OnDeviceError(err error)
}

// Driver はカメラサブシステムへのアクセスを抽象化する
type Driver interface {
	// Characteristics はカメラの特性を取得する
	Characteristics(ctx context.Context, id string) (Characteristics, error)

	// Open はカメラデバイスを排他的に開く
	Open(ctx context.Context, id string) (Device, error)
}

// Device は開いたカメラデバイスを表す
type Device interface {
	// CreateSession はキャプチャセッションを作成して開始する
	CreateSession(ctx context.Context, cfg SessionConfig, handler EventHandler) (Session, error)

	// Close はデバイスを閉じる。動作中のセッションも停止する
	Close() error
}

// Session は動作中のキャプチャセッションを表す
type Session interface {
	// Close はセッションを停止する。戻った後はハンドラーを呼び出さない
	Close() error
}

// LineSink はメタデータ行の書き込み先
type LineSink interface {
	WriteLine(line string) error
}

// ImageSink は画像ファイルの書き込み先
type ImageSink interface {
	Write(index int64, data []byte) (string, error)
}
