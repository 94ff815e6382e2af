package qa

import (
	"fmt"
	"strings"

	"github.com/sells-group/answer-cli/internal/answers"
)

// PromptContext is what the completion prompt is built from.
type PromptContext struct {
	Question string
	Answers  []answers.Candidate
}

const instructions = `You are an expert in simplifying technical content while maintaining accuracy. Given a technical question and several extracted answers from Stack Overflow, your task is to combine and present them in a clear, easy-to-understand manner without altering their core meaning.

Instructions:
- Summarize key insights from all answers into a single, well-structured response.
- Ensure clarity by avoiding unnecessary jargon while preserving technical accuracy.
- If the answers contain code, format it neatly and add brief explanations if needed.
- If multiple solutions exist, present them logically and indicate any differences or trade-offs.
- Keep the response concise but informative, ensuring completeness.
`

// Render builds the user message sent to the completion endpoint.
func (p PromptContext) Render() string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n**Input:**\n")
	fmt.Fprintf(&b, "Question: %s\n", p.Question)
	b.WriteString("Extracted Answers:\n")
	for i, a := range p.Answers {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "**Answer %d** (Votes: %d)\n%s\n", i+1, a.Score, a.Text)
	}
	return b.String()
}
