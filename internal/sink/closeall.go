package sink

import (
	"errors"
	"io"

	log "github.com/sirupsen/logrus"
)

// CloseAll は全てのライターを閉じる
//
// 途中で失敗しても残りのライターは必ず閉じる。失敗はログに出力し、まとめて返す
func CloseAll(closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			log.Errorf("ライターのクローズに失敗: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
