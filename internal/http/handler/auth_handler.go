package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandeepkv93/session-auth-core/internal/http/response"
	"github.com/sandeepkv93/session-auth-core/internal/observability"
	"github.com/sandeepkv93/session-auth-core/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.register", "subject", pair.SubjectID)
	response.JSON(w, r, http.StatusCreated, pair)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	identifier := strings.TrimSpace(req.Username)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	pair, err := h.auth.Login(r.Context(), identifier, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			observability.Audit(r, "auth.login.rejected")
		}
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.login", "subject", pair.SubjectID)
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrRefreshRevoked) {
			observability.Audit(r, "auth.refresh.revoked_presented")
		}
		writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.logout")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body", nil)
		return false
	}
	return true
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Unauthorized(w, r, response.CodeInvalidCredentials, "invalid credentials")
	case errors.Is(err, service.ErrRefreshNotFound):
		response.Unauthorized(w, r, response.CodeRefreshTokenNotFound, "refresh token not recognized")
	case errors.Is(err, service.ErrRefreshRevoked):
		response.Unauthorized(w, r, response.CodeRefreshTokenRevoked, "refresh token revoked")
	case errors.Is(err, service.ErrRefreshExpired):
		response.Unauthorized(w, r, response.CodeRefreshTokenExpired, "refresh token expired")
	case errors.Is(err, service.ErrUserExists):
		response.Error(w, r, http.StatusConflict, response.CodeUserExists, "user already exists", nil)
	case errors.Is(err, service.ErrInvalidInput):
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
	default:
		slog.ErrorContext(r.Context(), "auth request failed", "path", r.URL.Path, "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "internal error", nil)
	}
}
