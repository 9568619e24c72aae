// Package session は1回の記録セッションの開始と停止を制御する
//
// # 責務
// - セッションディレクトリとファイル構成の作成
// - 全ライターを開いてからストリームを開始する（IMU、温度、カメラの順）
// - 停止時はカメラを逆順に閉じ、センサーを止め、全ライターを閉じる
// - セッションの概要（session.yaml）の書き出し
//
// # ディレクトリ構成
//
//	<root>/<yyyymmddHHMMSS>/
//	    accel.txt
//	    gyro.txt
//	    thermal.txt
//	    <name>_image_metadata.txt
//	    <name>_images/00000.jpg ...
//	    session.yaml
//
// # 仕様
//   - 同名のディレクトリが既にある場合は -2, -3 ... を付けて新しく作る
//   - カメラのオープン待ちタイムアウトはセッション開始の失敗として扱う
//   - それ以外のカメラのエラーはそのカメラだけを諦める
//   - 温度は補助的な記録で、有効なストリームの有無の判定には含めない
package session
