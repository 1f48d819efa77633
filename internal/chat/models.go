package chat

import "time"

const (
	TypeAI     = "ai"
	TypeDirect = "direct"

	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is immutable once appended; ordering is append order within
// the owning chat's sequence.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"sender_id,omitempty"`
}

// Chat is one side of a conversation. A direct chat is represented as
// two Chat records, one per participant, linked by ConversationID; each
// side carries its own pin/share/delete state.
type Chat struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	ChatType string `json:"chat_type"` // ai|direct
	ModelID  string `json:"model_id,omitempty"`

	Pinned     bool     `json:"pinned"`
	Shared     bool     `json:"shared"`
	SharedWith []string `json:"shared_with"`

	Messages []Message `json:"messages"`

	// direct chats only
	ParticipantID  string `json:"participant_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageCreate struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Update carries a partial chat edit; nil fields are left untouched.
type Update struct {
	Title  *string `json:"title"`
	Pinned *bool   `json:"pinned"`
}

type Page struct {
	Chats   []Chat `json:"chats"`
	HasMore bool   `json:"has_more"`
	Cursor  string `json:"cursor,omitempty"`
}
