package handler

import (
	"net/http"
	"time"

	"github.com/sandeepkv93/session-auth-core/internal/http/middleware"
	"github.com/sandeepkv93/session-auth-core/internal/http/response"
)

type UserHandler struct{}

func NewUserHandler() *UserHandler { return &UserHandler{} }

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r, response.CodeAccessTokenInvalid, "access token invalid")
		return
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"subject":           claims.Subject,
		"access_expires_at": expiresAt,
	})
}
