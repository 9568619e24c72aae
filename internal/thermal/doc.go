// Package thermal はサーマルゾーンの温度を記録する
//
// # 責務
// - /sys/class/thermal/thermal_zoneN/temp の読み取り
// - 見出し行と、固定周期（既定 1 秒）の温度行の書き込み
//
// # 仕様
//   - タイムスタンプはIMU・カメラと同じ CLOCK_BOOTTIME
//   - 温度はミリ℃の整数を℃に変換する
//   - 読めなかったゾーンは nan として行を書き続ける
package thermal
