// Package security はユーザー入力の無害化を提供する。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizer はプロンプトタイトルをプレーンテキストに正規化するインターフェース。
type TitleSanitizer interface {
	// Sanitize はHTMLタグを除去したプレーンテキストを返す。
	// script, styleの中身も除去される。同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(title string) string
}

// titleSanitizer はbluemondayのStrictPolicyを使うTitleSanitizerの実装。
// bluemonday.Policyはゴルーチンセーフなので1インスタンスを共有する。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerを生成する。
func NewTitleSanitizer() *titleSanitizer {
	return &titleSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去し、StrictPolicyがエスケープした文字参照を元に戻す。
// タイトルはJSONでのみ返すため、&や<をそのまま保持してよい。
func (s *titleSanitizer) Sanitize(title string) string {
	if title == "" {
		return ""
	}
	return html.UnescapeString(s.policy.Sanitize(title))
}

// compile-time interface check
var _ TitleSanitizer = (*titleSanitizer)(nil)
