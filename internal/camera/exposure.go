package camera

import (
	"sync"
)

// V4L2のカメラコントロールID (linux/v4l2-controls.h)
const (
	cidExposureAuto     = 0x009a0901 // V4L2_CID_EXPOSURE_AUTO
	cidExposureAbsolute = 0x009a0902 // V4L2_CID_EXPOSURE_ABSOLUTE (100µs単位)

	exposureManual          = 1 // V4L2_EXPOSURE_MANUAL
	exposureShutterPriority = 2 // V4L2_EXPOSURE_SHUTTER_PRIORITY

	exposureUnitNS = 100_000
)

// controlReader はV4L2コントロールの値を読む
type controlReader func(id uint32) (int64, error)

// exposureReader はフレームごとの露光時間を求める
//
// 露光時間が固定のモードではセッション作成時の値を使い、
// 自動露出ではフレームごとに読み直す。読めないデバイスでは0を返す
type exposureReader struct {
	read controlReader

	mu          sync.Mutex
	fixed       bool
	unsupported bool
	valueNS     int64
}

func newExposureReader(read controlReader) *exposureReader {
	e := &exposureReader{read: read}

	if mode, err := read(cidExposureAuto); err == nil {
		e.fixed = mode == exposureManual || mode == exposureShutterPriority
	}
	e.refresh()
	if e.unsupported {
		e.fixed = true
	}
	return e
}

func (e *exposureReader) refresh() {
	value, err := e.read(cidExposureAbsolute)
	if err != nil {
		e.unsupported = true
		return
	}
	e.valueNS = value * exposureUnitNS
}

// ExposureNS は現在の露光時間 (ns) を返す
func (e *exposureReader) ExposureNS() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.fixed {
		e.refresh()
		if e.unsupported {
			e.fixed = true
		}
	}
	return e.valueNS
}

// Fixed は露光時間を読み直さないかを返す
func (e *exposureReader) Fixed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fixed
}
