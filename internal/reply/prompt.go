package reply

import (
	"strings"

	"github.com/spec-kit/student-support/internal/domain"
)

const preamble = "You are the student support assistant of the Student Affairs Office. " +
	"Acknowledge the request, summarize the issue briefly, list the next steps the student should take, " +
	"and say that the request will be routed to the appropriate office when needed. " +
	"Keep the answer short, clear, friendly and polite."

// Turn is one conversation entry sent to the model.
type Turn struct {
	Role string
	Text string
}

const (
	turnUser  = "user"
	turnModel = "model"
)

// BuildConversation returns the system instruction and the turns for a reply request:
// the last maxTurns non-system history entries followed by the new student text with
// the thread metadata.
func BuildConversation(thread domain.Thread, history []domain.Message, text string, maxTurns int) (string, []Turn) {
	filtered := make([]domain.Message, 0, len(history))
	for _, msg := range history {
		if msg.Sender == domain.RoleSystem || strings.TrimSpace(msg.Text) == "" {
			continue
		}
		filtered = append(filtered, msg)
	}
	// the new text is usually already the tail of the history
	if n := len(filtered); n > 0 && filtered[n-1].Sender == domain.RoleStudent && filtered[n-1].Text == text {
		filtered = filtered[:n-1]
	}
	if maxTurns > 0 && len(filtered) > maxTurns {
		filtered = filtered[len(filtered)-maxTurns:]
	}

	turns := make([]Turn, 0, len(filtered)+1)
	for _, msg := range filtered {
		turns = appendTurn(turns, turnRole(msg.Sender), msg.Text)
	}
	turns = appendTurn(turns, turnUser, newMessagePrompt(thread, text))
	return preamble, turns
}

func newMessagePrompt(thread domain.Thread, text string) string {
	var b strings.Builder
	meta := threadMetadata(thread)
	if len(meta) > 0 {
		b.WriteString("Conversation details:\n")
		b.WriteString(strings.Join(meta, "\n"))
		b.WriteString("\n---\n")
	}
	b.WriteString("New message from the student:\n")
	b.WriteString(text)
	return b.String()
}

func threadMetadata(thread domain.Thread) []string {
	var meta []string
	if thread.Title != "" {
		meta = append(meta, "Title: "+thread.Title)
	}
	if thread.StudentRef != nil {
		meta = append(meta, "Student: "+*thread.StudentRef)
	}
	if thread.Department != nil {
		meta = append(meta, "Department: "+*thread.Department)
	}
	if thread.Topic != nil {
		meta = append(meta, "Topic: "+*thread.Topic)
	}
	if thread.IssueType != nil {
		meta = append(meta, "Issue type: "+*thread.IssueType)
	}
	meta = append(meta, "Status: "+string(thread.Status))
	return meta
}

func turnRole(sender domain.Role) string {
	if sender == domain.RoleStudent {
		return turnUser
	}
	return turnModel
}

// appendTurn merges consecutive entries of the same role; the model expects alternating turns.
func appendTurn(turns []Turn, role, text string) []Turn {
	if n := len(turns); n > 0 && turns[n-1].Role == role {
		turns[n-1].Text += "\n\n" + text
		return turns
	}
	return append(turns, Turn{Role: role, Text: text})
}
