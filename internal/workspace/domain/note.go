package domain

import (
	"strings"
	"time"
)

// Note is a markdown note.
type Note struct {
	ID        string    `json:"id"`
	TenantID  TenantID  `json:"tenant_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n Note) EntityID() string { return n.ID }

type NoteInput struct {
	Title   string `json:"title" validate:"required,max=200"`
	Content string `json:"content" validate:"max=100000"`
}

func (in NoteInput) Draft(tenant TenantID) Note {
	return Note{TenantID: tenant, Title: strings.TrimSpace(in.Title), Content: in.Content}
}

type NotePatch struct {
	Title   *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Content *string `json:"content,omitempty" validate:"omitempty,max=100000"`
}

func (p NotePatch) Columns(now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now.UTC()}
	if p.Title != nil {
		cols["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Content != nil {
		cols["content"] = *p.Content
	}
	return cols
}
