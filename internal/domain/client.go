package domain

import (
	"time"
)

// Client is the prospective customer behind one or more onboarding sessions.
type Client struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
