// Package repository declares the storage contracts the services depend on.
// internal/repository/sqlstore implements them on SQLite and PostgreSQL.
package repository

import (
	"context"

	"github.com/sakif/recipebox/internal/model"
)

// SortField is a recipe column listings may be ordered by. Only the
// constants below reach the store; anything else is rejected upstream.
type SortField string

const (
	SortCreatedAt     SortField = "created_at"
	SortCookTime      SortField = "cook_time"
	SortNumOfServings SortField = "num_of_servings"
)

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// RecipeQuery is a fully normalised listing request.
//
// OwnerID == "" means every owner. Published == nil means both published and
// unpublished rows; callers that do not own the rows must set it to true.
type RecipeQuery struct {
	Keyword   string
	OwnerID   string
	Published *bool
	Sort      SortField
	Order     SortOrder
	Page      int
	PerPage   int
}

// Offset is the number of rows skipped before the requested page.
func (q RecipeQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.PerPage
}

// RecipePage is one window of a listing plus the totals needed to paginate
// it. Page counts and links are derived by listing.Window.
type RecipePage struct {
	Items   []model.Recipe
	Page    int
	PerPage int
	Total   int
}

type RecipeRepository interface {
	CreateRecipe(ctx context.Context, recipe *model.Recipe) error
	GetRecipe(ctx context.Context, id string) (*model.Recipe, error)
	UpdateRecipe(ctx context.Context, recipe *model.Recipe) error
	DeleteRecipe(ctx context.Context, id string) error
	ListRecipes(ctx context.Context, q RecipeQuery) (RecipePage, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUserAvatar(ctx context.Context, id, avatarImage string) error
}
