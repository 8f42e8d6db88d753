package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/recipebox/internal/auth"
	"github.com/sakif/recipebox/internal/imagestore"
	"github.com/sakif/recipebox/internal/model"
	"github.com/sakif/recipebox/internal/service"
)

// UserService is what the user endpoints need from service.UserService.
// Handlers depend on these narrow interfaces so tests can stub them.
type UserService interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	SetAvatar(ctx context.Context, callerID string, r io.Reader) (*model.User, error)
}

type UserHandler struct {
	users          UserService
	views          views
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewUserHandler(users UserService, images imagestore.Store, maxUploadBytes int64, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:          users,
		views:          views{images: images},
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// HandleRegister serves POST /users.
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	user, err := h.users.Register(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.views.user(user, true))
}

// HandleGet serves GET /users/{username}. The email address is included
// only when callers look up themselves.
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	callerID, _ := auth.UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, h.views.user(user, callerID == user.ID))
}

// HandleMe serves GET /me.
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserIDFromContext(r.Context())
	user, err := h.users.GetByID(r.Context(), callerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views.user(user, true))
}

// HandleSetAvatar serves PUT /users/avatar with the image in the multipart
// field "avatar".
func (h *UserHandler) HandleSetAvatar(w http.ResponseWriter, r *http.Request) {
	file, err := formFile(w, r, "avatar", h.maxUploadBytes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer file.Close()

	callerID, _ := auth.UserIDFromContext(r.Context())
	user, err := h.users.SetAvatar(r.Context(), callerID, file)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views.user(user, true))
}
