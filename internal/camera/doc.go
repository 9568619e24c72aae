// Package camera カメラストリームの制御と画像・メタデータの取得を担う
//
// # 責務
// - カメラデバイスの排他的なオープン・クローズ（タイムアウト付きゲート）
// - 最大JPEG解像度の選択とキャプチャセッションの構成
// - キャプチャ完了ごとのメタデータ行の追記
// - 画像バッファの非同期書き込みと、書き込み後の確実な解放
// - V4L2デバイスの検出とドライバー実装
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラ1台分のフレームを連番ファイルとして記録したい
// - 複数カメラを独立したワーカーで並列に記録したい
// - 実機なしでパイプラインを動かしたい（SimulatedDriver）
//
// # 仕様
//   - Stream: カメラ1台の open/close とコールバック処理
//   - ImageReader: 上限付きの画像バッファプール。Image.Close で必ず1回だけ返却する
//   - Driver: カメラサブシステムの抽象（V4L2Driver, SimulatedDriver）
//   - コールバックはドライバーのゴルーチンから呼ばれ、カメラ専用ワーカーへ投入して処理する
//   - 画像ファイル名とメタデータ番号は配信時に採番するストリーム専用カウンタで決まる
//
// # 前提要件
//   - V4L2Driver は Linux のみ対応（github.com/vladimirvivien/go4vl）
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
