// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は利用者が入力した商品説明・所在地・状態メッセージから
// マークアップを除去する。bluemondayのStrictPolicyを使用し、
// タグと属性を一切通過させない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去したプレーンテキストを返す。
	// script, styleタグは中身ごと除去される。
	// 前後の空白は取り除かれる。同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は全てのHTMLタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした文字実体参照は元の文字に戻す。
// 値はJSONとして返却され、表示側でエスケープされる。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
