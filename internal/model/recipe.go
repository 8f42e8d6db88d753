// Package model defines the records stored and served by recipebox.
package model

import "time"

// Recipe is a stored recipe. NumOfServings and CookTime are optional and nil
// when the author left them out.
//
// CoverImage holds the stored object name, not a URL; the HTTP layer turns
// it into a URL through the configured image store.
type Recipe struct {
	ID            string    `json:"id"              db:"id"`
	Name          string    `json:"name"            db:"name"`
	Description   string    `json:"description"     db:"description"`
	NumOfServings *int      `json:"num_of_servings" db:"num_of_servings"`
	CookTime      *int      `json:"cook_time"       db:"cook_time"`
	Ingredients   string    `json:"ingredients"     db:"ingredients"`
	Directions    string    `json:"directions"      db:"directions"`
	CoverImage    string    `json:"-"               db:"cover_image"`
	IsPublish     bool      `json:"is_publish"      db:"is_publish"`
	UserID        string    `json:"-"               db:"user_id"`
	CreatedAt     time.Time `json:"created_at"      db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"      db:"updated_at"`

	// Author is filled by store reads that join the owner row.
	Author *Author `json:"-" db:"-"`
}

// Author is the public projection of a recipe's owner.
type Author struct {
	ID          string
	Username    string
	AvatarImage string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OwnedBy reports whether userID is the recipe's owner. An empty userID
// (anonymous caller) never owns anything.
func (r *Recipe) OwnedBy(userID string) bool {
	return userID != "" && r.UserID == userID
}
