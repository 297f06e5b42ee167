package messaging

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
)

// PreviewLength is the number of characters of a message quoted in notifications.
const PreviewLength = 50

// Conversation is the private thread between a teacher and a parent.
type Conversation struct {
	ID            string    `json:"id" db:"id"`
	TeacherID     string    `json:"teacher_id" db:"teacher_id"`
	ParentID      string    `json:"parent_id" db:"parent_id"`
	LastMessageAt null.Time `json:"last_message_at" db:"last_message_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`

	TeacherName string `json:"teacher_name" db:"teacher_name"`
	ParentName  string `json:"parent_name" db:"parent_name"`
	UnreadCount int    `json:"unread_count" db:"unread_count"`
}

func (c Conversation) IsParticipant(userID string) bool {
	return userID != "" && (c.TeacherID == userID || c.ParentID == userID)
}

// Counterpart returns the other participant of the conversation.
func (c Conversation) Counterpart(userID string) string {
	if c.TeacherID == userID {
		return c.ParentID
	}
	return c.TeacherID
}

type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	SenderID       string    `json:"sender_id" db:"sender_id"`
	Content        string    `json:"content" db:"content"`
	IsSystem       bool      `json:"is_system" db:"is_system"`
	IsRead         bool      `json:"is_read" db:"is_read"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Preview is the quoted start of the message.
func (m Message) Preview() string {
	return core.Truncate(m.Content, PreviewLength)
}

type NewMessage struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type OpenConversation struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}
