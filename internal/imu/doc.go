// Package imu は加速度センサーとジャイロセンサーのサンプルを記録する
//
// # 責務
// - センサーの選択（未校正ジャイロを優先し、なければ校正済みジャイロ）
// - 固定周期でのリスナー登録と解除
// - 配信されたサンプルのオフセット補正と同期的な行書き込み
//
// # 仕様
//   - Manager: センサーフレームワークの抽象（IIOManager, SimulatedManager）
//   - リスナーはManagerが管理するゴルーチンから呼ばれる
//   - 登録周期は既定で 5000us（200Hz）
//   - IIOManager は /sys/bus/iio/devices の sysfs を読む
package imu
