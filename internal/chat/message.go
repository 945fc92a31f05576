package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a session log.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	// Pending marks a local echo the backend has not acknowledged yet.
	Pending bool `json:"pending,omitempty" yaml:"pending,omitempty"`
	// Synthetic marks an assistant message produced locally in place of a failed reply.
	Synthetic bool `json:"synthetic,omitempty" yaml:"synthetic,omitempty"`
	// Attachment is the file name of an uploaded image, if any.
	Attachment string `json:"attachment,omitempty" yaml:"attachment,omitempty"`
}

const (
	failureReply    = "Sorry, I encountered an error. Please try again."
	initializeReply = "I'm still setting up your session. Please try again in a moment."
	expiredNotice   = "Your previous session expired and its context was lost. Please try sending your message again."
)
