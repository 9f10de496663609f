package types

import (
	"encoding/json"
	"slices"
	"time"
)

// ------------------------------
// Core Domain Entities
// ------------------------------

// User is the identity record returned by the auth endpoints.
type User struct {
	ID        string `json:"_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	AvatarRef string `json:"avatar,omitempty"`
}

// UnmarshalJSON accepts both "_id" and "id" as the identifier key.
func (u *User) UnmarshalJSON(b []byte) error {
	type alias User
	var raw struct {
		alias
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*u = User(raw.alias)
	if u.ID == "" {
		u.ID = raw.AltID
	}
	return nil
}

// Location is an optional geotag on a memory.
type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Memory is a user-created record combining media, metadata and location.
type Memory struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	MediaRef    string    `json:"imageUrl,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Location    *Location `json:"location,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	IsFavorite  bool      `json:"isFavorite"`
}

// UnmarshalJSON accepts both "_id" and "id" as the identifier key.
func (m *Memory) UnmarshalJSON(b []byte) error {
	type alias Memory
	var raw struct {
		alias
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = Memory(raw.alias)
	if m.ID == "" {
		m.ID = raw.AltID
	}
	return nil
}

// Clone returns a deep copy so callers can't alias store-owned slices.
func (m Memory) Clone() Memory {
	out := m
	out.Tags = slices.Clone(m.Tags)
	if m.Location != nil {
		loc := *m.Location
		out.Location = &loc
	}
	return out
}

// HasTag reports tag membership; order is irrelevant.
func (m Memory) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}
