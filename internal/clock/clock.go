package clock

// Source はナノ秒単位の現在時刻を返す
type Source interface {
	Now() int64
}

// SourceFunc は関数を Source として扱うためのアダプタ
type SourceFunc func() int64

// Now は関数を呼び出して時刻を返す
func (f SourceFunc) Now() int64 { return f() }

// Normalizer は生タイムスタンプに固定オフセットを適用する
type Normalizer struct {
	OffsetNS int64 // 生タイムスタンプから差し引くオフセット (ns)
}

// NewNormalizer は新しいNormalizerを作成する
func NewNormalizer(offsetNS int64) Normalizer {
	return Normalizer{OffsetNS: offsetNS}
}

// Adjust は生タイムスタンプを論理時刻に変換する
func (n Normalizer) Adjust(raw int64) int64 {
	return raw - n.OffsetNS
}

// BootTime は全ストリーム共通のクロックを返す
func BootTime() Source {
	return SourceFunc(bootTimeNanos)
}
