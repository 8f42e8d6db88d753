// Package handler adapts HTTP requests to the recipebox services and renders
// their results as JSON.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/recipebox/internal/auth"
	"github.com/sakif/recipebox/internal/imagestore"
	"github.com/sakif/recipebox/internal/listing"
	"github.com/sakif/recipebox/internal/model"
	"github.com/sakif/recipebox/internal/repository"
	"github.com/sakif/recipebox/internal/service"
)

// RecipeService is the recipe behaviour the handlers need.
type RecipeService interface {
	Create(ctx context.Context, callerID string, in service.RecipeInput) (*model.Recipe, error)
	Get(ctx context.Context, callerID, id string) (*model.Recipe, error)
	Update(ctx context.Context, callerID, id string, in service.RecipeInput) (*model.Recipe, error)
	Delete(ctx context.Context, callerID, id string) error
	SetPublished(ctx context.Context, callerID, id string, published bool) error
	SetCover(ctx context.Context, callerID, id string, r io.Reader) (*model.Recipe, error)
	ListPublished(ctx context.Context, p listing.Params) (repository.RecipePage, error)
	ListForUser(ctx context.Context, callerID, username string, p listing.Params) (repository.RecipePage, error)
}

// RecipeHandler serves the /recipes endpoints and the per-user listing.
// baseURL must match what the listing cache stage was given, since it
// decides whether page links come from configuration or the request.
type RecipeHandler struct {
	recipes        RecipeService
	views          views
	baseURL        string
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewRecipeHandler builds the recipe handlers. baseURL, when set, is the
// public scheme and host used in pagination links.
func NewRecipeHandler(
	recipes RecipeService,
	images imagestore.Store,
	baseURL string,
	maxUploadBytes int64,
	logger *slog.Logger,
) *RecipeHandler {
	return &RecipeHandler{
		recipes:        recipes,
		views:          views{images: images},
		baseURL:        baseURL,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// HandleList serves GET /recipes: published recipes only.
func (h *RecipeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, err := h.recipes.ListPublished(r.Context(), listing.ParseParams(r.URL.Query()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writePage(w, r, page)
}

// HandleListForUser serves GET /users/{username}/recipes.
func (h *RecipeHandler) HandleListForUser(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserIDFromContext(r.Context())
	page, err := h.recipes.ListForUser(r.Context(), callerID, chi.URLParam(r, "username"),
		listing.ParseParams(r.URL.Query()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writePage(w, r, page)
}

func (h *RecipeHandler) writePage(w http.ResponseWriter, r *http.Request, page repository.RecipePage) {
	win := listing.Window{Page: page.Page, PerPage: page.PerPage, Total: page.Total}
	writeJSON(w, http.StatusOK, listing.Wrap(win, h.views.recipes(page.Items), listing.SelfURL(r, h.baseURL)))
}

func (h *RecipeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.RecipeInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	callerID, _ := auth.UserIDFromContext(r.Context())

	recipe, err := h.recipes.Create(r.Context(), callerID, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.views.recipe(recipe))
}

func (h *RecipeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserIDFromContext(r.Context())
	recipe, err := h.recipes.Get(r.Context(), callerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views.recipe(recipe))
}

// HandleUpdate serves PATCH /recipes/{id}. Fields missing from the body are
// left unchanged.
func (h *RecipeHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in service.RecipeInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	callerID, _ := auth.UserIDFromContext(r.Context())

	recipe, err := h.recipes.Update(r.Context(), callerID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views.recipe(recipe))
}

func (h *RecipeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserIDFromContext(r.Context())
	if err := h.recipes.Delete(r.Context(), callerID, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RecipeHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, true)
}

func (h *RecipeHandler) HandleUnpublish(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, false)
}

func (h *RecipeHandler) setPublished(w http.ResponseWriter, r *http.Request, published bool) {
	callerID, _ := auth.UserIDFromContext(r.Context())
	if err := h.recipes.SetPublished(r.Context(), callerID, chi.URLParam(r, "id"), published); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetCover serves PUT /recipes/{id}/cover with the image in the
// multipart field "cover".
func (h *RecipeHandler) HandleSetCover(w http.ResponseWriter, r *http.Request) {
	file, err := formFile(w, r, "cover", h.maxUploadBytes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer file.Close()

	callerID, _ := auth.UserIDFromContext(r.Context())
	recipe, err := h.recipes.SetCover(r.Context(), callerID, chi.URLParam(r, "id"), file)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views.recipe(recipe))
}
