package domain

import "time"

// SessionRecord is the persisted header of a training session.
type SessionRecord struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Persona   Persona   `json:"persona"`
	Company   Company   `json:"company"`
	State     string    `json:"state"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transcript is a persisted session together with its ordered messages.
type Transcript struct {
	Session  SessionRecord `json:"session"`
	Messages []Message     `json:"messages"`
}
