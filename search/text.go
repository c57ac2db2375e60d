package search

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// SnippetWindow is the number of characters of message text shown around a
// match.
const SnippetWindow = 60

const ellipsis = "..."

// PlainText reduces rich message content to its visible text with runs of
// whitespace collapsed.
func PlainText(content string) string {
	z := html.NewTokenizer(strings.NewReader(content))
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "br", "div", "li":
				sb.WriteByte(' ')
			}
		}
	}
}

func lowerRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}

func indexRunes(haystack, needle []rune, from int) int {
	if len(needle) == 0 {
		return -1
	}
	for i := from; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// ContainsFold reports whether text contains query, ignoring case.
func ContainsFold(text, query string) bool {
	return indexRunes(lowerRunes(text), lowerRunes(query), 0) >= 0
}

// Snippet cuts a SnippetWindow-long piece of text centred on the first
// case-insensitive match of query. Cut ends get an ellipsis and every match
// inside the window is wrapped in <mark>. The text itself is HTML-escaped.
func Snippet(text, query string) string {
	runes := []rune(text)
	lower := lowerRunes(text)
	q := lowerRunes(query)

	first := indexRunes(lower, q, 0)
	start := 0
	if first >= 0 {
		start = first + len(q)/2 - SnippetWindow/2
	}
	end := start + SnippetWindow
	if end > len(runes) {
		end = len(runes)
		start = end - SnippetWindow
	}
	if start < 0 {
		start = 0
	}

	var sb strings.Builder
	if start > 0 {
		sb.WriteString(ellipsis)
	}
	pos := start
	for first >= 0 {
		i := indexRunes(lower[:end], q, pos)
		if i < 0 {
			break
		}
		sb.WriteString(html.EscapeString(string(runes[pos:i])))
		sb.WriteString("<mark>")
		sb.WriteString(html.EscapeString(string(runes[i : i+len(q)])))
		sb.WriteString("</mark>")
		pos = i + len(q)
	}
	sb.WriteString(html.EscapeString(string(runes[pos:end])))
	if end < len(runes) {
		sb.WriteString(ellipsis)
	}
	return sb.String()
}
