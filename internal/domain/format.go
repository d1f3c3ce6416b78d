package domain

import (
	"strings"
)

// Format is the rich-text mode of a post. The provider supports exactly two
// rich modes, so the set is closed and decided once when a tag enters the system.
type Format int

const (
	FormatNone  Format = iota // plain text
	FormatBasic               // HTML-like markup
	FormatRich                // Markdown-like markup (MarkdownV2)
)

// ParseFormat normalizes a caller-supplied format tag.
//
//   - "", "none", "plain", "text" -> FormatNone
//   - "html"                      -> FormatBasic
//   - anything else (markdown, markdownv2, legacy or unknown tags) -> FormatRich
func ParseFormat(tag string) Format {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "none", "plain", "text":
		return FormatNone
	case "html":
		return FormatBasic
	default:
		return FormatRich
	}
}

// String returns the canonical tag stored with posts and history.
func (f Format) String() string {
	switch f {
	case FormatBasic:
		return "html"
	case FormatRich:
		return "markdown"
	default:
		return "none"
	}
}

func (f Format) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Format) UnmarshalText(b []byte) error {
	*f = ParseFormat(string(b))
	return nil
}
