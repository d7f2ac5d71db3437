package engine

import "strings"

const (
	DefaultUserMarker      = "User:"
	DefaultAssistantMarker = "Assistant:"
)

// PromptTemplate wraps a raw user message in the plain-text transcript format
// the model was trained on.
type PromptTemplate struct {
	UserMarker      string
	AssistantMarker string
}

// DefaultPromptTemplate returns the User:/Assistant: template.
func DefaultPromptTemplate() PromptTemplate {
	return PromptTemplate{UserMarker: DefaultUserMarker, AssistantMarker: DefaultAssistantMarker}
}

// Build returns the prompt with a trailing assistant cue and the stop sequences
// that end the assistant turn.
func (t PromptTemplate) Build(message string) (string, []string) {
	user, asst := t.markers()
	var b strings.Builder
	b.Grow(len(user) + len(message) + len(asst) + 2)
	b.WriteString(user)
	b.WriteByte(' ')
	b.WriteString(message)
	b.WriteByte('\n')
	b.WriteString(asst)
	return b.String(), []string{user}
}

func (t PromptTemplate) markers() (string, string) {
	user, asst := t.UserMarker, t.AssistantMarker
	if user == "" {
		user = DefaultUserMarker
	}
	if asst == "" {
		asst = DefaultAssistantMarker
	}
	return user, asst
}
