package types

import (
	"io"
	"strings"
)

// ------------------------------
// Request Types
// ------------------------------

// LoginRequest holds credentials for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest holds the user fields for POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// MemoryDraft describes a memory to upload. File is streamed as the
// multipart "file" part; the remaining fields become form values.
type MemoryDraft struct {
	Title       string    `validate:"required,max=200"`
	Description string    `validate:"max=2000"`
	Tags        []string  `validate:"omitempty,max=20,dive,required,max=50"`
	Location    *Location `validate:"omitempty"`
	FileName    string    `validate:"required"`
	File        io.Reader `validate:"required"`
}

// NormalizedTags trims whitespace and drops empty and duplicate tags while
// preserving first-seen order.
func (d MemoryDraft) NormalizedTags() []string {
	seen := make(map[string]struct{}, len(d.Tags))
	out := make([]string, 0, len(d.Tags))
	for _, t := range d.Tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// MemoryPatch carries the fields to merge into an existing memory. Nil
// fields are left untouched.
type MemoryPatch struct {
	Title       *string   `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string   `json:"description,omitempty" validate:"omitempty,max=2000"`
	Tags        *[]string `json:"tags,omitempty" validate:"omitempty,max=20,dive,required,max=50"`
	Location    *Location `json:"location,omitempty" validate:"omitempty"`
	IsFavorite  *bool     `json:"isFavorite,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p MemoryPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Tags == nil && p.Location == nil && p.IsFavorite == nil
}

// Apply merges the patch into m and returns the result.
func (p MemoryPatch) Apply(m Memory) Memory {
	out := m.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Location != nil {
		loc := *p.Location
		out.Location = &loc
	}
	if p.IsFavorite != nil {
		out.IsFavorite = *p.IsFavorite
	}
	return out
}
