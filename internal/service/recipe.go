// Package service holds the recipebox business rules. Services are
// transport agnostic: they take the caller's user id ("" for anonymous) as
// an argument and return apperror values the HTTP layer maps to statuses.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sakif/recipebox/internal/apperror"
	"github.com/sakif/recipebox/internal/imagestore"
	"github.com/sakif/recipebox/internal/listing"
	"github.com/sakif/recipebox/internal/model"
	"github.com/sakif/recipebox/internal/policy"
	"github.com/sakif/recipebox/internal/repository"
)

// ListingPrefix is the cache key prefix shared by every cached recipe
// listing response.
const ListingPrefix = "/recipes"

// Invalidator drops cached responses whose key starts with prefix.
type Invalidator interface {
	Invalidate(ctx context.Context, prefix string) error
}

// RecipeService implements the recipe operations: CRUD, publication, cover
// images and the two listings.
//
// Every operation follows the same order: validate input, load the
// record, ask policy, write, then invalidate cached listings. Validation
// runs before the load so a bad request never reveals whether an id
// exists, and invalidation runs after the write so a failed write leaves
// the cache alone.
type RecipeService struct {
	recipes        repository.RecipeRepository
	users          repository.UserRepository
	images         imagestore.Store
	cache          Invalidator
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewRecipeService wires the service. users is needed to resolve the
// username in per-user listings; cache may be any Invalidator, which lets
// tests count invalidations with a fake.
func NewRecipeService(
	recipes repository.RecipeRepository,
	users repository.UserRepository,
	images imagestore.Store,
	cache Invalidator,
	logger *slog.Logger,
	maxUploadBytes int64,
) *RecipeService {
	return &RecipeService{
		recipes:        recipes,
		users:          users,
		images:         images,
		cache:          cache,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Create stores a new, unpublished recipe owned by callerID.
func (s *RecipeService) Create(ctx context.Context, callerID string, in RecipeInput) (*model.Recipe, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	in.normalize()
	if err := in.validate(true); err != nil {
		return nil, err
	}

	recipe := &model.Recipe{UserID: callerID}
	applyInput(recipe, in)

	if err := s.recipes.CreateRecipe(ctx, recipe); err != nil {
		s.logger.Error("failed to create recipe",
			slog.String("user_id", callerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/recipe: creating recipe: %w", err)
	}
	s.invalidateListings(ctx)

	s.logger.Info("recipe created",
		slog.String("id", recipe.ID),
		slog.String("user_id", callerID),
	)
	return s.reload(ctx, recipe)
}

// Get returns a recipe the caller may view.
func (s *RecipeService) Get(ctx context.Context, callerID, id string) (*model.Recipe, error) {
	recipe, err := s.recipes.GetRecipe(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.CanView(recipe, callerID).Err(id); err != nil {
		return nil, err
	}
	return recipe, nil
}

// Update applies the provided fields of in. Absent or blank text fields keep
// their stored values.
func (s *RecipeService) Update(ctx context.Context, callerID, id string, in RecipeInput) (*model.Recipe, error) {
	in.normalize()
	if err := in.validate(false); err != nil {
		return nil, err
	}

	recipe, err := s.loadForMutation(ctx, callerID, id)
	if err != nil {
		return nil, err
	}

	applyInput(recipe, in)
	if err := s.recipes.UpdateRecipe(ctx, recipe); err != nil {
		return nil, fmt.Errorf("service/recipe: updating recipe %s: %w", id, err)
	}
	s.invalidateListings(ctx)

	s.logger.Info("recipe updated", slog.String("id", id))
	return recipe, nil
}

// Delete removes the recipe and then its cover image. A failed image
// delete is logged; the recipe is already gone.
func (s *RecipeService) Delete(ctx context.Context, callerID, id string) error {
	recipe, err := s.loadForMutation(ctx, callerID, id)
	if err != nil {
		return err
	}

	if err := s.recipes.DeleteRecipe(ctx, id); err != nil {
		return fmt.Errorf("service/recipe: deleting recipe %s: %w", id, err)
	}
	s.invalidateListings(ctx)

	if recipe.CoverImage != "" {
		s.removeImage(ctx, imagestore.FolderRecipes, recipe.CoverImage)
	}
	s.logger.Info("recipe deleted", slog.String("id", id))
	return nil
}

// SetPublished publishes or unpublishes a recipe. Repeating the current
// state succeeds without writing.
func (s *RecipeService) SetPublished(ctx context.Context, callerID, id string, published bool) error {
	recipe, err := s.loadForMutation(ctx, callerID, id)
	if err != nil {
		return err
	}

	if recipe.IsPublish != published {
		recipe.IsPublish = published
		if err := s.recipes.UpdateRecipe(ctx, recipe); err != nil {
			return fmt.Errorf("service/recipe: setting publish state of %s: %w", id, err)
		}
	}
	s.invalidateListings(ctx)

	s.logger.Info("recipe publish state set",
		slog.String("id", id),
		slog.Bool("published", published),
	)
	return nil
}

// SetCover replaces the recipe's cover with the image read from r.
func (s *RecipeService) SetCover(ctx context.Context, callerID, id string, r io.Reader) (*model.Recipe, error) {
	recipe, err := s.loadForMutation(ctx, callerID, id)
	if err != nil {
		return nil, err
	}

	data, err := imagestore.Process(r, s.maxUploadBytes)
	if err != nil {
		return nil, uploadError("cover", err)
	}
	name := imagestore.NewName()
	if err := s.images.Put(ctx, imagestore.FolderRecipes, name, data); err != nil {
		return nil, fmt.Errorf("service/recipe: storing cover: %w", err)
	}

	previous := recipe.CoverImage
	recipe.CoverImage = name
	if err := s.recipes.UpdateRecipe(ctx, recipe); err != nil {
		s.removeImage(ctx, imagestore.FolderRecipes, name)
		return nil, fmt.Errorf("service/recipe: saving cover of %s: %w", id, err)
	}
	s.invalidateListings(ctx)

	if previous != "" {
		s.removeImage(ctx, imagestore.FolderRecipes, previous)
	}
	s.logger.Info("recipe cover updated", slog.String("id", id), slog.String("cover", name))
	return recipe, nil
}

// ListPublished returns one page of the global listing.
func (s *RecipeService) ListPublished(ctx context.Context, p listing.Params) (repository.RecipePage, error) {
	return s.list(ctx, listing.Build(p, listing.Global()))
}

// ListForUser returns one page of username's recipes as seen by callerID.
func (s *RecipeService) ListForUser(ctx context.Context, callerID, username string, p listing.Params) (repository.RecipePage, error) {
	owner, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return repository.RecipePage{}, err
	}
	return s.list(ctx, listing.Build(p, listing.ForUser(owner.ID, callerID)))
}

func (s *RecipeService) list(ctx context.Context, q repository.RecipeQuery) (repository.RecipePage, error) {
	page, err := s.recipes.ListRecipes(ctx, q)
	if err != nil {
		s.logger.Error("failed to list recipes", slog.String("error", err.Error()))
		return repository.RecipePage{}, fmt.Errorf("service/recipe: listing recipes: %w", err)
	}
	return page, nil
}

// loadForMutation fetches a recipe and checks the caller may change it.
func (s *RecipeService) loadForMutation(ctx context.Context, callerID, id string) (*model.Recipe, error) {
	recipe, err := s.recipes.GetRecipe(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.CanMutate(recipe, callerID).Err(id); err != nil {
		return nil, err
	}
	return recipe, nil
}

// reload re-reads a recipe so the returned value carries its author.
func (s *RecipeService) reload(ctx context.Context, recipe *model.Recipe) (*model.Recipe, error) {
	fresh, err := s.recipes.GetRecipe(ctx, recipe.ID)
	if err != nil {
		return nil, fmt.Errorf("service/recipe: reloading recipe %s: %w", recipe.ID, err)
	}
	return fresh, nil
}

// invalidateListings runs after every successful write. It survives the
// request being cancelled and only logs failures.
func (s *RecipeService) invalidateListings(ctx context.Context) {
	invalidate(ctx, s.cache, s.logger)
}

func (s *RecipeService) removeImage(ctx context.Context, folder, name string) {
	if err := s.images.Delete(context.WithoutCancel(ctx), folder, name); err != nil {
		s.logger.Warn("failed to remove image",
			slog.String("folder", folder),
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}

func invalidate(ctx context.Context, cache Invalidator, logger *slog.Logger) {
	if cache == nil {
		return
	}
	if err := cache.Invalidate(context.WithoutCancel(ctx), ListingPrefix); err != nil {
		logger.Warn("failed to invalidate listing cache", slog.String("error", err.Error()))
	}
}

func applyInput(r *model.Recipe, in RecipeInput) {
	setText := func(dst *string, src *string) {
		if src != nil && *src != "" {
			*dst = *src
		}
	}
	setText(&r.Name, in.Name)
	setText(&r.Description, in.Description)
	setText(&r.Ingredients, in.Ingredients)
	setText(&r.Directions, in.Directions)
	if in.NumOfServings != nil {
		n := *in.NumOfServings
		r.NumOfServings = &n
	}
	if in.CookTime != nil {
		n := *in.CookTime
		r.CookTime = &n
	}
}
