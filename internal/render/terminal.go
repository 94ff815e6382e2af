package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/sells-group/answer-cli/internal/qa"
)

const fence = "```"

var statusText = map[qa.Status]string{
	qa.StatusSearching:          "Fetching from Stack Overflow...",
	qa.StatusQuerying:           "Processing answers with LLM...",
	qa.StatusGeneratingResponse: "Generating final response...",
	qa.StatusCompleted:          "Done.",
	qa.StatusFailed:             "Error",
}

// Terminal is a qa.Presenter that streams answer text to one writer and
// progress lines to another. Unless raw, fenced code blocks in the answer are
// highlighted as they stream.
type Terminal struct {
	out       io.Writer
	progress  io.Writer
	raw       bool
	wroteText bool

	// held is text at the start of a line that may still turn out to be a
	// fence marker.
	held        string
	midLine     bool
	inCodeBlock bool
}

// NewTerminal creates a Terminal presenter. A nil progress writer hides
// status lines; raw disables styling.
func NewTerminal(out, progress io.Writer, raw bool) *Terminal {
	return &Terminal{out: out, progress: progress, raw: raw}
}

// Fragment writes streamed text. In raw mode it is written as-is.
func (t *Terminal) Fragment(text string) {
	t.wroteText = true
	if t.raw {
		_, _ = io.WriteString(t.out, text)
		return
	}

	t.held += text
	for t.held != "" {
		line, rest, complete := strings.Cut(t.held, "\n")
		if !t.midLine {
			trimmed := strings.TrimLeft(line, " ")
			if strings.HasPrefix(trimmed, fence) {
				if !complete {
					return
				}
				t.inCodeBlock = !t.inCodeBlock
				_, _ = io.WriteString(t.out, fenceStyle.Render(line)+"\n")
				t.held = rest
				continue
			}
			if !complete && strings.HasPrefix(fence, trimmed) {
				return
			}
		}

		t.writeText(line)
		if !complete {
			t.midLine = true
			t.held = ""
			return
		}
		_, _ = io.WriteString(t.out, "\n")
		t.midLine = false
		t.held = rest
	}
}

func (t *Terminal) writeText(s string) {
	if s == "" {
		return
	}
	if t.inCodeBlock {
		s = codeStyle.Render(s)
	}
	_, _ = io.WriteString(t.out, s)
}

// Status renders one progress line.
func (t *Terminal) Status(u qa.Update) {
	if t.wroteText && (u.Status == qa.StatusCompleted || u.Status == qa.StatusFailed) {
		t.writeText(t.held)
		t.held = ""
		// End the streamed answer's last line.
		_, _ = io.WriteString(t.out, "\n")
		t.wroteText = false
	}
	if t.progress == nil {
		return
	}
	_, _ = fmt.Fprintln(t.progress, t.line(u))
}

func (t *Terminal) line(u qa.Update) string {
	text := statusText[u.Status]
	if text == "" {
		text = string(u.Status)
	}
	if u.Reason != "" {
		text += ": " + u.Reason
	}
	if t.raw {
		return text
	}
	switch {
	case u.Status == qa.StatusFailed:
		return errorStyle.Render(text)
	case u.Status == qa.StatusCompleted && u.Reason != "":
		return warningStyle.Render(text)
	case u.Status == qa.StatusCompleted:
		return successStyle.Render(text)
	default:
		return statusStyle.Render(text)
	}
}
