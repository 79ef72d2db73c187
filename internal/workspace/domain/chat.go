package domain

import "time"

type ChatRole string

const (
	ChatUser      ChatRole = "user"
	ChatAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of the AI chat history, ordered oldest first.
type ChatMessage struct {
	ID        string    `json:"id"`
	TenantID  TenantID  `json:"tenant_id"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (m ChatMessage) EntityID() string { return m.ID }

type ChatInput struct {
	Role    ChatRole `json:"role" validate:"required,oneof=user assistant"`
	Content string   `json:"content" validate:"required,max=32000"`
}

func (in ChatInput) Draft(tenant TenantID) ChatMessage {
	return ChatMessage{TenantID: tenant, Role: in.Role, Content: in.Content}
}

type ChatPatch struct {
	Content *string `json:"content,omitempty" validate:"omitempty,min=1,max=32000"`
}

func (p ChatPatch) Columns(time.Time) map[string]any {
	cols := map[string]any{}
	if p.Content != nil {
		cols["content"] = *p.Content
	}
	return cols
}
