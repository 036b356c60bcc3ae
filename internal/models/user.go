package models

import "time"

// User is a registered account. PasswordHash is never serialized.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Nickname     string    `json:"nickname"`
	PasswordHash string    `json:"-"`
	Status       int       `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}
