// Package sink はIMUサンプル・カメラメタデータ・画像をファイルへ書き出す
//
// # 責務
// - データチャンネルごとのテキスト行ライター（accel, gyro, カメラメタデータ）
// - フレームごとの画像ファイル書き込み（%05d.jpg）
// - 出力行フォーマットの定義
// - ストリームが所有する単調増加シーケンス
//
// # 仕様
//   - ファイルは O_EXCL で作成し、既存ファイルを上書き・切り詰めしない
//   - テキスト行は呼び出し元（配信ゴルーチン）で同期的に追記する
//   - 画像の書き込みはカメラのワーカーからのみ呼び出す
//   - 1つの出力ファイルを書き込むライターはセッション中に1つだけ
package sink
