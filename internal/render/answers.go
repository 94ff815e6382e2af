package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/answer-cli/internal/answers"
)

// Output formats accepted by WriteAnswers.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

const previewWidth = 72

// WriteAnswers renders ranked candidates to w in the given format.
func WriteAnswers(w io.Writer, format string, cands []answers.Candidate) error {
	switch format {
	case "", FormatTable:
		if len(cands) == 0 {
			_, err := fmt.Fprintln(w, warningStyle.Render("No relevant answers found on Stack Overflow."))
			return err
		}
		_, err := fmt.Fprintln(w, AnswersTable(cands))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if cands == nil {
			cands = []answers.Candidate{}
		}
		return eris.Wrap(enc.Encode(cands), "render: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cands); err != nil {
			return eris.Wrap(err, "render: encode yaml")
		}
		return eris.Wrap(enc.Close(), "render: close yaml encoder")
	default:
		return eris.Errorf("render: unknown format %q (want table, json or yaml)", format)
	}
}

// AnswersTable lays candidates out as a bordered table with a one-line
// preview of each answer.
func AnswersTable(cands []answers.Candidate) string {
	rows := make([][]string, len(cands))
	for i, c := range cands {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(c.Score),
			strconv.FormatInt(c.QuestionID, 10),
			preview(c.Text, previewWidth),
		}
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(mutedColor)).
		Headers("#", "VOTES", "QUESTION", "ANSWER").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 1:
				return scoreStyle
			default:
				return cellStyle
			}
		}).
		String()
}

// preview flattens text to a single line of at most width runes.
func preview(text string, width int) string {
	flat := strings.Join(strings.Fields(text), " ")
	r := []rune(flat)
	if len(r) <= width {
		return flat
	}
	return string(r[:width-3]) + "..."
}
