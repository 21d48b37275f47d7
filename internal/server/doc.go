// Package server は、仮想ホストごとのリスナーとワーカープールを束ねて起動・停止します。
//
// このパッケージは、ホストごとの接続受け付け、ワーカーへの割り当て、
// 管理用エンドポイント、シグナルを起点にした段階的な停止を担当します。
//
// 責務:
//   - ホストごとに TCP リスナーを開き、受け付けた接続をワーカープールに渡す
//   - 一時的な accept エラーからの回復
//   - 停止処理（受け付け停止 → 猶予期間内の排出 → 強制クローズ）
//   - 管理用エンドポイント（/health, /api/status）の提供
//
// 仕様:
//   - ルーティングは受け付けたソケットだけで決まり、Host ヘッダーは見ない
//   - 1つのホストのバインド失敗はそのホストだけを無効にする
//   - 管理用エンドポイントは gin を使用
//   - SIGINT / SIGTERM でグレースフルシャットダウンを開始する
package server
