package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプロフィールの表示属性からHTMLを除去する。
type TextSanitizer interface {
	// SanitizeText はすべてのタグを除去し、連続する空白を1つにまとめたプレーンテキストを返す。
	SanitizeText(raw string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyによるTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はHTMLを除去したプレーンテキストを返す。
// 保存値はHTMLとして解釈しないため、エスケープされた実体参照は元の文字に戻す。
func (s *textSanitizer) SanitizeText(raw string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}
