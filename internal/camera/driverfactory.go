package camera

import (
	"fmt"
	"sort"
)

// バックエンド名
const (
	BackendV4L2      = "v4l2"
	BackendSimulated = "simulated"
)

// DriverOptions はドライバー作成設定
type DriverOptions struct {
	CameraIDs  []string        // 使用するカメラID
	BufferSize int             // V4L2のバッファ数
	Discovery  Discovery       // V4L2デバイスの検出（nilなら/dev/video*）
	Simulated  SimulatedConfig // シミュレーションカメラの設定
}

// DriverCreator はドライバー作成関数の型
type DriverCreator func(opts DriverOptions) (Driver, error)

// DriverFactory はバックエンド名からドライバーを作成する
type DriverFactory struct {
	creators map[string]DriverCreator
}

// NewDriverFactory は標準のバックエンドを登録したファクトリーを作成する
func NewDriverFactory() *DriverFactory {
	factory := &DriverFactory{
		creators: make(map[string]DriverCreator),
	}

	factory.Register(BackendV4L2, func(opts DriverOptions) (Driver, error) {
		return NewV4L2Driver(opts.Discovery, opts.BufferSize), nil
	})

	factory.Register(BackendSimulated, func(opts DriverOptions) (Driver, error) {
		if len(opts.CameraIDs) == 0 {
			return nil, fmt.Errorf("シミュレーションカメラのIDが指定されていません")
		}
		return NewSimulatedDriver(opts.CameraIDs, opts.Simulated), nil
	})

	return factory
}

// Register はドライバー作成関数を登録する
func (f *DriverFactory) Register(backend string, creator DriverCreator) {
	f.creators[backend] = creator
}

// Create はドライバーを作成する
func (f *DriverFactory) Create(backend string, opts DriverOptions) (Driver, error) {
	creator, exists := f.creators[backend]
	if !exists {
		return nil, fmt.Errorf("サポートされていないカメラバックエンド: %s", backend)
	}
	return creator(opts)
}

// SupportedBackends は登録されているバックエンド名を返す
func (f *DriverFactory) SupportedBackends() []string {
	backends := make([]string, 0, len(f.creators))
	for backend := range f.creators {
		backends = append(backends, backend)
	}
	sort.Strings(backends)
	return backends
}
