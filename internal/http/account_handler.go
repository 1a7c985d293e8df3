package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/room-tracker/internal/application"
	"github.com/example/room-tracker/internal/persistence"
)

type accountService interface {
	CreateEmailVerification(ctx context.Context, params application.CreateVerificationParams) (persistence.EmailVerification, error)
	VerifyEmail(ctx context.Context, params application.VerifyEmailParams) (string, error)
	RegisterUser(ctx context.Context, params application.RegisterUserParams) (persistence.User, error)
	Authenticate(ctx context.Context, email, password string) (persistence.User, error)
}

type AccountHandler struct {
	service   accountService
	responder responder
	logger    *slog.Logger
}

func NewAccountHandler(service accountService, logger *slog.Logger) *AccountHandler {
	base := defaultLogger(logger)
	return &AccountHandler{service: service, responder: newResponder(base), logger: base}
}

// CreateVerification sends a code to the address. The code itself never
// appears in the response.
func (h *AccountHandler) CreateVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	verification, err := h.service.CreateEmailVerification(r.Context(), application.CreateVerificationParams{Email: req.Email})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusAccepted, verificationResponse{
		Email:     verification.Email,
		ExpiresAt: formatTime(verification.ExpiresAt),
	})
}

func (h *AccountHandler) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	signature, err := h.service.VerifyEmail(r.Context(), application.VerifyEmailParams{Email: req.Email, Code: req.Code})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, confirmResponse{Signature: signature})
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	user, err := h.service.RegisterUser(r.Context(), application.RegisterUserParams{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		Signature: req.Signature,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, userResponse{User: toUserDTO(user)})
}

func (h *AccountHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userResponse{User: toUserDTO(user)})
}

type verificationRequest struct {
	Email string `json:"email"`
}

type verificationResponse struct {
	Email     string `json:"email"`
	ExpiresAt string `json:"expires_at"`
}

type confirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type confirmResponse struct {
	Signature string `json:"signature"`
}

type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Signature string `json:"signature"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	User userDTO `json:"user"`
}

// userDTO never carries the password hash.
type userDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

func toUserDTO(user persistence.User) userDTO {
	return userDTO{
		ID:        user.ID,
		Email:     user.Email,
		Username:  user.Username,
		CreatedAt: formatTime(user.CreatedAt),
	}
}
