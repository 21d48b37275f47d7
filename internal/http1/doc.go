// Package http1 は静的配信に必要な範囲の HTTP/1.1 を実装する
//
// 責務:
//   - リクエストライン・ヘッダーの読み込みと解析
//   - メソッドのタグ付き表現（GET / HEAD / その他）
//   - レスポンスの直列化
//
// 仕様:
//   - ヘッダー名は大文字小文字を区別せず、値は受信したまま保持する
//   - keep-alive はバージョンの既定値と Connection ヘッダーから導出する
//   - リクエスト本文は解析しない（長さの情報だけを返す）
package http1
