package client

import "time"

// Profile captures the subset of client data exposed via the admin API layer.
type Profile struct {
	ID        string
	FullName  string
	Email     string
	CreatedAt time.Time
}
