// Package recorder は、設定からカメラとIMUを組み立てて記録セッションを実行します。
//
// 責務:
//   - 設定に従ったカメラドライバーとIMUの準備
//   - セッションの開始と、シグナルまたはコンテキストによる停止
//   - 停止時のセッションとセンサーの後片付け
//
// 仕様:
//   - SIGINT / SIGTERM を受け取るとセッションを停止する
//   - IIOデバイスが見つからない場合はIMUなしで記録を続ける
//   - 停止処理には5秒のタイムアウトを設ける
package recorder
