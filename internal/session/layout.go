package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ファイル名
const (
	AccelFileName    = "accel.txt"
	GyroFileName     = "gyro.txt"
	ThermalFileName  = "thermal.txt"
	ManifestFileName = "session.yaml"

	runDirLayout = "20060102150405"
	maxRunDirTry = 1000
)

// MetadataFileName はカメラのメタデータファイル名を返す
func MetadataFileName(name string) string {
	return name + "_image_metadata.txt"
}

// ImageDirName はカメラの画像ディレクトリ名を返す
func ImageDirName(name string) string {
	return name + "_images"
}

// RunDirName はセッション開始時刻からディレクトリ名を得る
func RunDirName(startedAt time.Time) string {
	return startedAt.UTC().Format(runDirLayout)
}

// createRunDir はセッションディレクトリを作成する
//
// 既存のディレクトリは再利用しない
func createRunDir(root string, startedAt time.Time) (string, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("出力先ディレクトリの作成に失敗: %w", err)
	}

	base := RunDirName(startedAt)
	for i := 1; i <= maxRunDirTry; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}

		dir := filepath.Join(root, name)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("セッションディレクトリの作成に失敗: %w", err)
		}
	}

	return "", fmt.Errorf("セッションディレクトリ名が枯渇しました: %s", base)
}
