package transport

import (
	"strings"
	"testing"

	"tgcast/internal/domain"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := SplitText("hello", 10, domain.FormatNone)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("SplitText = %q", got)
	}
}

func TestSplitTextPrefersNewline(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := SplitText(s, 10, domain.FormatNone)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("SplitText = %q", got)
	}
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	t.Parallel()
	s := "abcdefgh<b>bold</b>"
	got := SplitText(s, 10, domain.FormatBasic)
	if got[0] != "abcdefgh" {
		t.Fatalf("first chunk = %q", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost content: %q", got)
	}
}

func TestSplitTextRuneLimit(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("é", 25)
	got := SplitText(s, 10, domain.FormatNone)
	if len(got) != 3 {
		t.Fatalf("chunks = %d", len(got))
	}
	for _, c := range got {
		if n := len([]rune(c)); n > 10 {
			t.Fatalf("chunk has %d runes", n)
		}
	}
}
