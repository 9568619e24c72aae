package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrClosed はクローズ済みのライターへの書き込みで返される
var ErrClosed = errors.New("sink: ライターはクローズ済みです")

// LineWriter は1つのデータチャンネルのテキスト行を追記する
type LineWriter struct {
	path string
	file *os.File
	buf  *bufio.Writer
	mu   sync.Mutex

	lines  int64
	closed bool
}

// CreateLineWriter は新しいファイルを作成してLineWriterを返す
//
// 同名のファイルが既に存在する場合はエラーになる
func CreateLineWriter(path string) (*LineWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの作成に失敗 (%s): %w", path, err)
	}

	return &LineWriter{
		path: path,
		file: file,
		buf:  bufio.NewWriterSize(file, 64*1024),
	}, nil
}

// Path は出力先のパスを返す
func (w *LineWriter) Path() string {
	return w.path
}

// WriteLine は1行を追記する
func (w *LineWriter) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if _, err := w.buf.WriteString(line); err != nil {
		return fmt.Errorf("%s への書き込みに失敗: %w", w.path, err)
	}
	w.lines++
	return nil
}

// Lines は書き込んだ行数を返す
func (w *LineWriter) Lines() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Flush はバッファの内容をファイルへ書き出す
func (w *LineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("%s のフラッシュに失敗: %w", w.path, err)
	}
	return nil
}

// Close はバッファをフラッシュしてファイルを閉じる
//
// フラッシュに失敗してもファイルは必ず閉じる
func (w *LineWriter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if err := w.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("%s のフラッシュに失敗: %w", w.path, err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%s のクローズに失敗: %w", w.path, err))
	}
	return errors.Join(errs...)
}
