package sink

import "sync/atomic"

// Sequence はストリームが所有する単調増加カウンタ
//
// 値は配信時に採番し、内容から導出しない
type Sequence struct {
	next atomic.Int64
}

// Next は次のインデックスを返す（0始まり）
func (s *Sequence) Next() int64 {
	return s.next.Add(1) - 1
}

// Issued はこれまでに採番した数を返す
func (s *Sequence) Issued() int64 {
	return s.next.Load()
}
