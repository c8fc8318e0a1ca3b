package security

import "testing"

func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizer = NewTextSanitizer()
}

// TestSanitizeText は表示属性からHTMLが除去されることを検証する。
func TestSanitizeText(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキスト", "Mary", "Mary"},
		{"日本語", "山田 太郎", "山田 太郎"},
		{"空文字", "", ""},
		{"前後の空白", "  Mary  ", "Mary"},
		{"連続する空白", "Mary \t\n Ann", "Mary Ann"},
		{"タグの除去", "<b>Mary</b>", "Mary"},
		{"scriptの除去", "<script>alert(1)</script>Mary", "Mary"},
		{"イベント属性", `<img src=x onerror="alert(1)">Mary`, "Mary"},
		{"アンパサンド", "Tom & Jerry", "Tom & Jerry"},
		{"引用符", `O'Brien "Bob"`, `O'Brien "Bob"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SanitizeText(tt.input); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
