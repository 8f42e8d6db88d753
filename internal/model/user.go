package model

import "time"

// User is a registered account. Email is only ever shown to the account
// owner; PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"         db:"id"`
	Username     string    `json:"username"   db:"username"`
	Email        string    `json:"email"      db:"email"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	AvatarImage  string    `json:"-"          db:"avatar_image"`
	IsActive     bool      `json:"-"          db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// AsAuthor returns the public projection used when embedding the user in
// recipe payloads.
func (u *User) AsAuthor() *Author {
	return &Author{
		ID:          u.ID,
		Username:    u.Username,
		AvatarImage: u.AvatarImage,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
