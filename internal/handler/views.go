package handler

import (
	"time"

	"github.com/sakif/recipebox/internal/imagestore"
	"github.com/sakif/recipebox/internal/model"
)

// AuthorView is the public face of a recipe's owner. It never carries an
// email address.
type AuthorView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RecipeView struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	NumOfServings *int        `json:"num_of_servings"`
	CookTime      *int        `json:"cook_time"`
	Ingredients   string      `json:"ingredients"`
	Directions    string      `json:"directions"`
	CoverURL      string      `json:"cover_url"`
	IsPublish     bool        `json:"is_publish"`
	Author        *AuthorView `json:"author,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// UserView is a user profile. Email is only filled in for the user's own
// profile.
type UserView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TokenView struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// views turns records into response bodies, resolving stored image names
// into URLs.
type views struct {
	images imagestore.Store
}

func (v views) recipe(r *model.Recipe) RecipeView {
	out := RecipeView{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		NumOfServings: r.NumOfServings,
		CookTime:      r.CookTime,
		Ingredients:   r.Ingredients,
		Directions:    r.Directions,
		CoverURL:      imagestore.CoverURL(v.images, r.CoverImage),
		IsPublish:     r.IsPublish,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Author != nil {
		out.Author = &AuthorView{
			ID:        r.Author.ID,
			Username:  r.Author.Username,
			AvatarURL: imagestore.AvatarURL(v.images, r.Author.AvatarImage),
			CreatedAt: r.Author.CreatedAt,
			UpdatedAt: r.Author.UpdatedAt,
		}
	}
	return out
}

func (v views) recipes(rs []model.Recipe) []RecipeView {
	out := make([]RecipeView, len(rs))
	for i := range rs {
		out[i] = v.recipe(&rs[i])
	}
	return out
}

// user renders u; withEmail is set when the caller is u.
func (v views) user(u *model.User, withEmail bool) UserView {
	out := UserView{
		ID:        u.ID,
		Username:  u.Username,
		AvatarURL: imagestore.AvatarURL(v.images, u.AvatarImage),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if withEmail {
		out.Email = u.Email
	}
	return out
}
