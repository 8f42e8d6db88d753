package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/recipebox/internal/service"
)

// Authenticator is the part of service.AuthService the token endpoint uses.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
}

// TokenHandler serves the login endpoint.
type TokenHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

func NewTokenHandler(auth Authenticator, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{auth: auth, logger: logger}
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleCreate serves POST /token, exchanging an email and password for an
// access token.
func (h *TokenHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenView{
		AccessToken: res.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   int(res.ExpiresIn.Seconds()),
	})
}
