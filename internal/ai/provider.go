package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider produces one assistant reply from a conversation history.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
