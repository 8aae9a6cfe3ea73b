package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は氏名フィールドの最大文字数（rune単位）。
const MaxNameLength = 100

// NameSanitizer はユーザーが入力した氏名、およびOAuthプロバイダーから受け取った氏名を
// 保存前に正規化する。氏名は他のコラボレーター（設定画面等）で表示されるため、
// タグを全て除去したプレーンテキストとして保存する。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerを生成する。
// bluemondayのStrictPolicyで全てのタグと属性を除去する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、前後の空白を取り除いたうえでMaxNameLength文字に切り詰める。
// 同一入力に対して常に同一出力を返す。
func (s *NameSanitizer) Sanitize(name string) string {
	cleaned := s.policy.Sanitize(name)
	// StrictPolicyは&などをエスケープするため、プレーンテキストに戻す
	cleaned = strings.TrimSpace(html.UnescapeString(cleaned))

	if utf8.RuneCountInString(cleaned) <= MaxNameLength {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:MaxNameLength]))
}
