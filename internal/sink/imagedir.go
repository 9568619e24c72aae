package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ImageDir はフレームごとの画像ファイルを書き出すディレクトリ
type ImageDir struct {
	dir string
}

// NewImageDir はディレクトリを作成してImageDirを返す
func NewImageDir(dir string) (*ImageDir, error) {
	if err := os.Mkdir(dir, 0755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("画像ディレクトリの作成に失敗 (%s): %w", dir, err)
	}
	return &ImageDir{dir: dir}, nil
}

// Dir はディレクトリのパスを返す
func (d *ImageDir) Dir() string {
	return d.dir
}

// Write は画像データを %05d.jpg として書き出し、パスを返す
func (d *ImageDir) Write(index int64, data []byte) (string, error) {
	path := filepath.Join(d.dir, ImageFileName(index))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return path, fmt.Errorf("画像ファイルの作成に失敗 (%s): %w", path, err)
	}

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return path, fmt.Errorf("画像ファイルの書き込みに失敗 (%s): %w", path, err)
	}

	if err := file.Close(); err != nil {
		return path, fmt.Errorf("画像ファイルのクローズに失敗 (%s): %w", path, err)
	}

	return path, nil
}
