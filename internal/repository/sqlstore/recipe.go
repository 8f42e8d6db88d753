package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/recipebox/internal/apperror"
	"github.com/sakif/recipebox/internal/model"
	"github.com/sakif/recipebox/internal/repository"
)

var _ repository.RecipeRepository = (*DB)(nil)

// Sort columns are looked up here, never interpolated from input.
var sortColumns = map[repository.SortField]string{
	repository.SortCreatedAt:     "r.created_at",
	repository.SortCookTime:      "r.cook_time",
	repository.SortNumOfServings: "r.num_of_servings",
}

const recipeColumns = `r.id, r.name, r.description, r.num_of_servings, r.cook_time,
	r.ingredients, r.directions, r.cover_image, r.is_publish, r.user_id,
	r.created_at, r.updated_at,
	u.id, u.username, u.avatar_image, u.created_at, u.updated_at`

// CreateRecipe assigns the id and timestamps and inserts the row.
func (db *DB) CreateRecipe(ctx context.Context, recipe *model.Recipe) error {
	recipe.ID = xid.New().String()
	now := time.Now().UTC()
	recipe.CreatedAt = now
	recipe.UpdatedAt = now

	_, err := db.exec(ctx,
		`INSERT INTO recipes (id, name, description, num_of_servings, cook_time,
			ingredients, directions, cover_image, is_publish, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recipe.ID,
		recipe.Name,
		recipe.Description,
		nullInt(recipe.NumOfServings),
		nullInt(recipe.CookTime),
		recipe.Ingredients,
		recipe.Directions,
		recipe.CoverImage,
		recipe.IsPublish,
		recipe.UserID,
		recipe.CreatedAt,
		recipe.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: creating recipe: %w", err)
	}
	return nil
}

// GetRecipe loads one recipe with its author.
func (db *DB) GetRecipe(ctx context.Context, id string) (*model.Recipe, error) {
	row := db.queryRow(ctx,
		`SELECT `+recipeColumns+`
		 FROM recipes r JOIN users u ON u.id = r.user_id
		 WHERE r.id = ?`,
		id,
	)
	recipe, err := scanRecipe(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("recipe", id)
		}
		return nil, fmt.Errorf("sqlstore: getting recipe %s: %w", id, err)
	}
	return recipe, nil
}

// UpdateRecipe writes every mutable column and refreshes updated_at.
func (db *DB) UpdateRecipe(ctx context.Context, recipe *model.Recipe) error {
	recipe.UpdatedAt = time.Now().UTC()

	result, err := db.exec(ctx,
		`UPDATE recipes
		 SET name = ?, description = ?, num_of_servings = ?, cook_time = ?,
		     ingredients = ?, directions = ?, cover_image = ?, is_publish = ?, updated_at = ?
		 WHERE id = ?`,
		recipe.Name,
		recipe.Description,
		nullInt(recipe.NumOfServings),
		nullInt(recipe.CookTime),
		recipe.Ingredients,
		recipe.Directions,
		recipe.CoverImage,
		recipe.IsPublish,
		recipe.UpdatedAt,
		recipe.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating recipe %s: %w", recipe.ID, err)
	}
	return expectOneRow(result, "recipe", recipe.ID)
}

func (db *DB) DeleteRecipe(ctx context.Context, id string) error {
	result, err := db.exec(ctx, `DELETE FROM recipes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: deleting recipe %s: %w", id, err)
	}
	return expectOneRow(result, "recipe", id)
}

// ListRecipes returns one page of recipes matching q plus the total match
// count. NULL cook times and servings sort last in both directions.
func (db *DB) ListRecipes(ctx context.Context, q repository.RecipeQuery) (repository.RecipePage, error) {
	page := repository.RecipePage{Page: q.Page, PerPage: q.PerPage}

	column, ok := sortColumns[q.Sort]
	if !ok {
		column = sortColumns[repository.SortCreatedAt]
	}
	direction := "DESC"
	if q.Order == repository.OrderAsc {
		direction = "ASC"
	}

	where, args := db.dialect.recipeFilter(q)

	if err := db.queryRow(ctx,
		`SELECT COUNT(*) FROM recipes r`+where, args...,
	).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("sqlstore: counting recipes: %w", err)
	}

	listArgs := append(args, q.PerPage, q.Offset())
	rows, err := db.query(ctx,
		`SELECT `+recipeColumns+`
		 FROM recipes r JOIN users u ON u.id = r.user_id`+where+`
		 ORDER BY (`+column+` IS NULL), `+column+` `+direction+`, r.id `+direction+`
		 LIMIT ? OFFSET ?`,
		listArgs...,
	)
	if err != nil {
		return page, fmt.Errorf("sqlstore: listing recipes: %w", err)
	}
	defer rows.Close()

	page.Items = make([]model.Recipe, 0, q.PerPage)
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return page, fmt.Errorf("sqlstore: scanning recipe row: %w", err)
		}
		page.Items = append(page.Items, *recipe)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("sqlstore: iterating recipes: %w", err)
	}
	return page, nil
}

// recipeFilter renders the WHERE clause shared by the count and page queries.
//
// Keyword search is a case-insensitive substring match over name,
// description and ingredients. Both sides are folded with the same Unicode
// lowering (see dialect.lower) and LIKE wildcards in the keyword are escaped,
// so "100%" finds "100% rye" and nothing else.
func (d dialect) recipeFilter(q repository.RecipeQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.OwnerID != "" {
		conds = append(conds, "r.user_id = ?")
		args = append(args, q.OwnerID)
	}
	if q.Published != nil {
		conds = append(conds, "r.is_publish = ?")
		args = append(args, *q.Published)
	}
	if q.Keyword != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Keyword)) + "%"
		conds = append(conds, fmt.Sprintf(`(%[1]s(r.name) LIKE ? ESCAPE '\'
			OR %[1]s(r.description) LIKE ? ESCAPE '\'
			OR %[1]s(r.ingredients) LIKE ? ESCAPE '\')`, d.lower))
		args = append(args, pattern, pattern, pattern)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike makes %, _ and \ match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row rowScanner) (*model.Recipe, error) {
	var (
		r        model.Recipe
		a        model.Author
		servings sql.NullInt64
		cookTime sql.NullInt64
	)
	if err := row.Scan(
		&r.ID, &r.Name, &r.Description, &servings, &cookTime,
		&r.Ingredients, &r.Directions, &r.CoverImage, &r.IsPublish, &r.UserID,
		&r.CreatedAt, &r.UpdatedAt,
		&a.ID, &a.Username, &a.AvatarImage, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.NumOfServings = intPtr(servings)
	r.CookTime = intPtr(cookTime)
	r.Author = &a
	return &r, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// expectOneRow turns a zero-row UPDATE/DELETE into NotFound.
func expectOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
