package chat

import (
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/reviewpulse/reviewpulse/internal/session"
)

// basePrompt is the standing instruction for every turn. Session context is
// appended when present.
const basePrompt = `You are ReviewPulse, an analytics assistant for app reviews and marketing reports.

Answer questions using the conversation history and tool results. When you
need review data, ratings, or report figures, call the available tools rather
than guessing. Be concise and cite concrete numbers from tool results when you
have them. If the data does not support an answer, say so.`

// systemPrompt builds the system message for a session, embedding the
// session's subject context verbatim.
func systemPrompt(sess *session.Session) string {
	if sess.Context == "" {
		return basePrompt
	}

	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nContext for this conversation:\n")
	b.WriteString(sess.Context)
	return b.String()
}

// buildMessages converts the session history into the completion message list,
// prefixed with the system prompt.
func buildMessages(sess *session.Session) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(sess.Messages)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(sess),
	})

	for _, msg := range sess.Messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == session.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}
