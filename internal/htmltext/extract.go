// Package htmltext renders answer markup as plain text suitable for an LLM prompt.
package htmltext

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

// blockElements start and end on their own line.
var blockElements = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Pre:        true,
	atom.Blockquote: true,
	atom.Ul:         true,
	atom.Ol:         true,
	atom.Li:         true,
	atom.Br:         true,
	atom.Hr:         true,
	atom.Table:      true,
	atom.Tr:         true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
}

// droppedElements have their content removed entirely.
var droppedElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
}

var (
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

// Extract strips tags from markup, decodes entities and keeps inline code as
// text. It never fails: broken markup yields whatever text could be read
// before the tokenizer gave up, possibly the empty string.
func Extract(markup string) string {
	if markup == "" {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	var sb strings.Builder
	dropped := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF on well-formed input, anything else is best effort.
			return tidy(sb.String())

		case html.TextToken:
			if dropped == 0 {
				sb.Write(z.Text())
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if droppedElements[a] {
				if tt == html.StartTagToken {
					dropped++
				}
				continue
			}
			if blockElements[a] {
				breakLine(&sb)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if droppedElements[a] {
				if dropped > 0 {
					dropped--
				}
				continue
			}
			if blockElements[a] {
				breakLine(&sb)
			}
		}
	}
}

func breakLine(sb *strings.Builder) {
	s := sb.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		sb.WriteByte('\n')
	}
}

// tidy trims trailing blanks per line and collapses long blank runs. Leading
// indentation is kept so code blocks retain their shape.
func tidy(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = trailingSpaceRe.ReplaceAllString(s, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return norm.NFC.String(strings.TrimSpace(s))
}
