package camera

import (
	"errors"
	"sync"
)

// エラー定義
var (
	// ErrNoBufferAvailable は全てのバッファが使用中の場合に返される
	ErrNoBufferAvailable = errors.New("空いている画像バッファがありません")
	// ErrReaderClosed はクローズ済みのImageReaderから取得しようとした場合に返される
	ErrReaderClosed = errors.New("ImageReaderはクローズ済みです")
)

// ImageReader は上限付きの画像バッファプール
//
// ドライバーはエンコーダーの出力を Acquire でプールのバッファへコピーする。
// 利用者が Image.Close を呼ぶまでバッファは返却されないため、
// 解放漏れがあるとプールが枯渇してフレームが取得できなくなる
type ImageReader struct {
	size      Resolution
	maxImages int

	mu          sync.Mutex
	free        [][]byte
	outstanding int
	closed      bool

	acquired int64
	released int64
	dropped  int64
}

// NewImageReader は新しいImageReaderを作成する
func NewImageReader(size Resolution, maxImages int) *ImageReader {
	if maxImages <= 0 {
		maxImages = 2
	}
	return &ImageReader{
		size:      size,
		maxImages: maxImages,
		free:      make([][]byte, 0, maxImages),
	}
}

// Size は出力解像度を返す
func (r *ImageReader) Size() Resolution {
	return r.size
}

// MaxImages は同時に保持できる画像数を返す
func (r *ImageReader) MaxImages() int {
	return r.maxImages
}

// Acquire はデータをプールのバッファへコピーしてImageを返す
//
// 全てのバッファが使用中の場合は ErrNoBufferAvailable を返し、フレームは破棄される
func (r *ImageReader) Acquire(data []byte, timestampNS int64) (*Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrReaderClosed
	}
	if r.outstanding >= r.maxImages {
		r.dropped++
		return nil, ErrNoBufferAvailable
	}

	var buf []byte
	if n := len(r.free); n > 0 {
		buf = r.free[n-1]
		r.free[n-1] = nil
		r.free = r.free[:n-1]
	}
	if cap(buf) < len(data) {
		buf = make([]byte, len(data))
	}
	buf = buf[:len(data)]
	copy(buf, data)

	r.outstanding++
	r.acquired++

	return &Image{
		reader:    r,
		data:      buf,
		Timestamp: timestampNS,
		Width:     r.size.Width,
		Height:    r.size.Height,
	}, nil
}

// release はバッファをプールへ戻す
func (r *ImageReader) release(buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outstanding--
	r.released++
	if !r.closed && len(r.free) < r.maxImages {
		r.free = append(r.free, buf[:0])
	}
}

// Close は以降の取得を停止する
//
// 使用中の画像は Close 後も返却できる
func (r *ImageReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.free = nil
}

// Outstanding は返却されていない画像数を返す
func (r *ImageReader) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outstanding
}

// Acquired は取得された画像の累計を返す
func (r *ImageReader) Acquired() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquired
}

// Released は返却された画像の累計を返す
func (r *ImageReader) Released() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Dropped はバッファ不足で破棄されたフレーム数を返す
func (r *ImageReader) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Image はImageReaderが所有する1枚のJPEG画像
type Image struct {
	reader *ImageReader
	data   []byte
	once   sync.Once

	Timestamp int64 // センサータイムスタンプ (ns)
	Width     int
	Height    int
}

// Bytes はJPEGデータを返す。Close 後に参照してはならない
func (img *Image) Bytes() []byte {
	return img.data
}

// Close はバッファをImageReaderへ返却する
//
// 2回目以降の呼び出しは何もしない
func (img *Image) Close() {
	img.once.Do(func() {
		buf := img.data
		img.data = nil
		img.reader.release(buf)
	})
}
