// Package clock はセンサーとカメラのタイムスタンプを単一の時刻系に揃える
//
// # 責務
// - デバイスの生タイムスタンプに固定オフセットを適用する
// - 全ストリームで共有するナノ秒クロック（CLOCK_BOOTTIME）の提供
//
// # 仕様
//   - Linux では CLOCK_BOOTTIME を使用する（Android の SENSOR_INFO_TIMESTAMP_SOURCE_REALTIME と同じ時刻系）
//   - それ以外のプラットフォームではプロセス起動時からの単調時刻で代替する
//   - オフセットはセンサーごとに固定で、セッション中に変更しない
package clock
