package chat

import (
	"strings"

	"docchat/internal/model"
)

const condenseTemplate = `Given a conversation (between Human and Assistant) and a follow up message from Human, rewrite the message to be a standalone question that captures all relevant context from the conversation.

<Chat History>
%s

<Follow Up Message>
%s

<Standalone question>
`

func formatHistory(history []model.ChatTurn) string {
	var sb strings.Builder
	for i, t := range history {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch t.Role {
		case model.RoleUser:
			sb.WriteString("Human: ")
		default:
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(t.Content)
	}
	return sb.String()
}

func buildAnswerPrompt(contextBlock string, history []model.ChatTurn, question string) string {
	var sb strings.Builder
	sb.WriteString("Context information is below.\n---\n")
	sb.WriteString(contextBlock)
	sb.WriteString("\n---\n")
	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		sb.WriteString(formatHistory(history))
		sb.WriteString("\n")
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
