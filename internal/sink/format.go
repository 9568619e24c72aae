package sink

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// ImageFileName は画像インデックスからファイル名を生成する
func ImageFileName(index int64) string {
	return fmt.Sprintf("%05d.jpg", index)
}

// FormatIMULine はIMUサンプルを "<ns> <hex> <hex> <hex>\n" 形式に整形する
//
// 軸の値はセンサーが返す単精度のまま16進浮動小数点で出力する
func FormatIMULine(timestampNS int64, v r3.Vector) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(strconv.FormatInt(timestampNS, 10))
	for _, axis := range [3]float64{v.X, v.Y, v.Z} {
		b.WriteByte(' ')
		b.WriteString(HexFloat(axis))
	}
	b.WriteByte('\n')
	return b.String()
}

// HexFloat は値を単精度の16進浮動小数点表記にする
func HexFloat(v float64) string {
	return strconv.FormatFloat(float64(float32(v)), 'x', -1, 32)
}

// FormatMetadataLine はカメラメタデータを "%d %05d %d %d\n" 形式に整形する
func FormatMetadataLine(timestampNS, frameNumber, exposureNS, skewNS int64) string {
	return fmt.Sprintf("%d %05d %d %d\n", timestampNS, frameNumber, exposureNS, skewNS)
}

// FormatThermalHeader は温度ファイルの見出し行 "timestamp_ns,temp<N>_C,...\n" を生成する
func FormatThermalHeader(zones []int) string {
	var b strings.Builder
	b.WriteString("timestamp_ns")
	for _, n := range zones {
		fmt.Fprintf(&b, ",temp%d_C", n)
	}
	b.WriteByte('\n')
	return b.String()
}

// FormatThermalLine は温度 (℃) を "<ns>,<temp>,...\n" 形式に整形する
//
// 有効桁は6桁、読めなかったゾーンは nan とする
func FormatThermalLine(timestampNS int64, temps []float64) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(timestampNS, 10))
	for _, t := range temps {
		b.WriteByte(',')
		if math.IsNaN(t) {
			b.WriteString("nan")
			continue
		}
		b.WriteString(strconv.FormatFloat(t, 'g', 6, 64))
	}
	b.WriteByte('\n')
	return b.String()
}
