package models

// Message is a single chat message exchanged with the daemon. A chat turn sends exactly one user
// message; no history is carried to later turns.
type Message struct {
	Role    Role
	Content string
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the model.
	RoleAssistant Role = "assistant"
)

// UserMessage builds the outbound message for a prompt.
func UserMessage(prompt string) Message {
	return Message{Role: RoleUser, Content: prompt}
}
