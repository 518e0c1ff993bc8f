package users

import "time"

// User is a principal known to the bot, keyed by its messaging-platform id.
type User struct {
	ID        int64     `json:"user_id"`
	Username  *string   `json:"username,omitempty"`
	FullName  *string   `json:"full_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
