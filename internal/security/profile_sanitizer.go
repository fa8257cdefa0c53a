package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// maxProfileFieldRunes はプロフィール文字列の最大長（文字数）。
const maxProfileFieldRunes = 256

// ProfileSanitizer はIdPから取得した表示名などの文字列からマークアップを除去する。
// 結果はプレーンテキストであり、HTMLに埋め込む側でエスケープすること。
type ProfileSanitizer interface {
	SanitizeText(raw string) string
}

// profileSanitizer はbluemondayのStrictPolicyで全タグを除去する実装。
// ポリシーはスレッドセーフに共有できる。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() ProfileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はタグと制御文字を除去し、前後の空白を落として長さを制限する。
// 同一入力に対して常に同一出力を返す。
func (s *profileSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyは文字参照をエスケープして返すため、プレーンテキストに戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))

	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if runes := []rune(text); len(runes) > maxProfileFieldRunes {
		text = string(runes[:maxProfileFieldRunes])
	}
	return text
}
