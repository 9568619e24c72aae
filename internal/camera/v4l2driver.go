package camera

import (
	"context"
	"fmt"
	"sync"

	"calibrecorder/internal/clock"
)

// DefaultV4L2BufferSize はV4L2の既定のバッファ数
//
// フレームはgo4vlの出力チャネルから受け取った時点で打刻するため、
// バッファが多いほど打刻が露光より遅れうる（最大でバッファ数ぶんのフレーム周期）
const DefaultV4L2BufferSize = 2

// V4L2Driver はV4L2デバイスをカメラとして扱うドライバー
//
// カメラIDは "0" のような番号かデバイスパス。フレームはデキュー時に
// clock.BootTime で打刻するため、タイムスタンプの時刻系はIMUと同じになる
type V4L2Driver struct {
	discovery  Discovery
	bufferSize uint32
	clock      clock.Source

	mu   sync.Mutex
	open map[string]bool
}

// NewV4L2Driver は新しいV4L2Driverを作成する
func NewV4L2Driver(discovery Discovery, bufferSize int) *V4L2Driver {
	if discovery == nil {
		discovery = NewLinuxDiscovery()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultV4L2BufferSize
	}
	return &V4L2Driver{
		discovery:  discovery,
		bufferSize: uint32(bufferSize),
		clock:      clock.BootTime(),
		open:       make(map[string]bool),
	}
}

// Characteristics はデバイスのJPEG出力解像度を取得する
func (d *V4L2Driver) Characteristics(ctx context.Context, id string) (Characteristics, error) {
	path := DevicePath(id)

	info, err := d.discovery.GetDeviceInfo(ctx, path)
	if err != nil {
		return Characteristics{}, err
	}

	return Characteristics{
		ID:              id,
		Name:            info.Name,
		JPEGSizes:       info.JPEGSizes,
		TimestampSource: TimestampSourceRealtime,
	}, nil
}

// Open はデバイスを排他的に開く
func (d *V4L2Driver) Open(ctx context.Context, id string) (Device, error) {
	path := DevicePath(id)

	if err := d.discovery.CheckAccess(path); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.open[path] {
		d.mu.Unlock()
		return nil, fmt.Errorf("%s は使用中です: %w", path, ErrDeviceAccess)
	}
	d.open[path] = true
	d.mu.Unlock()

	dev, err := openV4L2Device(path, d.bufferSize, d.clock, func() { d.release(path) })
	if err != nil {
		d.release(path)
		return nil, err
	}
	return dev, nil
}

func (d *V4L2Driver) release(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.open, path)
}
