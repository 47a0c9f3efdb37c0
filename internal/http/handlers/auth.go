package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hongminglow/solace-be/internal/apperror"
	"github.com/hongminglow/solace-be/internal/auth"
	"github.com/hongminglow/solace-be/internal/config"
	"github.com/hongminglow/solace-be/internal/http/respond"
	"github.com/hongminglow/solace-be/internal/mail"
	"github.com/hongminglow/solace-be/internal/models"
	"github.com/hongminglow/solace-be/internal/models/dto"
	"github.com/hongminglow/solace-be/internal/storage"
)

const maxBodyBytes = 1 << 20

// AuthHandler owns the signup, login and password reset endpoints.
type AuthHandler struct {
	store  storage.UserStore
	hasher *auth.Hasher
	resets *auth.ResetTokens
	mailer mail.Gateway
	cfg    *config.Config
	log    *slog.Logger

	// resetOrigins are the explicitly allowed CORS origins a reset link may
	// point back to.
	resetOrigins map[string]struct{}
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(
	store storage.UserStore,
	hasher *auth.Hasher,
	resets *auth.ResetTokens,
	mailer mail.Gateway,
	cfg *config.Config,
	log *slog.Logger,
) *AuthHandler {
	origins := make(map[string]struct{}, len(cfg.CORSOrigins))
	for _, origin := range cfg.CORSOrigins {
		if origin != "*" {
			origins[strings.ToLower(origin)] = struct{}{}
		}
	}
	return &AuthHandler{
		store:        store,
		hasher:       hasher,
		resets:       resets,
		mailer:       mailer,
		cfg:          cfg,
		log:          log,
		resetOrigins: origins,
	}
}

// Register attaches auth routes to the mux.
func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/signup", h.post(h.handleSignup))
	mux.HandleFunc("/api/login", h.post(h.handleLogin))
	mux.HandleFunc("/api/forgot-password", h.post(h.handleForgotPassword))
	mux.HandleFunc("/api/reset-password", h.post(h.handleResetPassword))
}

type apiFunc func(w http.ResponseWriter, r *http.Request) error

// post restricts fn to POST and turns its returned error into a response.
func (h *AuthHandler) post(fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			respond.Error(w, apperror.NewMethodNotAllowed(), false)
			return
		}
		if err := fn(w, r); err != nil {
			h.fail(w, r, err)
		}
	}
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperror.From(err)
	if appErr.Code >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("type", appErr.Type),
			slog.Any("error", appErr.Internal),
		)
	}
	respond.Error(w, appErr, h.cfg.ExposeErrorDetails())
}

func (h *AuthHandler) handleSignup(w http.ResponseWriter, r *http.Request) error {
	var req dto.SignupRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	username := strings.TrimSpace(req.Username)
	email := models.NormalizeEmail(req.Email)
	if username == "" || email == "" || req.Password == "" {
		return apperror.NewValidation("All fields are required")
	}
	if err := models.ValidateUsername(username); err != nil {
		return validation(err)
	}
	if err := models.ValidateEmail(email); err != nil {
		return validation(err)
	}
	if err := models.ValidatePassword(req.Password); err != nil {
		return validation(err)
	}

	ctx := r.Context()
	if _, err := h.store.FindByEmail(ctx, email); err == nil {
		return apperror.NewDuplicateEmail()
	} else if !errors.Is(err, storage.ErrNotFound) {
		return apperror.NewInternal(err)
	}

	passwordHash, err := h.hasher.Hash(ctx, req.Password)
	if err != nil {
		return apperror.NewInternal(err)
	}
	created, err := h.store.CreateUser(ctx, models.User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	})
	if err != nil {
		// A concurrent signup can pass the lookup above; the store's unique
		// constraint decides.
		if errors.Is(err, storage.ErrAlreadyExists) {
			return apperror.NewDuplicateEmail()
		}
		return apperror.NewInternal(err)
	}

	h.log.InfoContext(ctx, "user signed up", slog.String("user_id", created.ID))
	respond.JSON(w, http.StatusCreated, dto.AuthResponse{
		Success: true,
		Message: "User created successfully",
		User:    dto.NewUserView(created),
	})
	return nil
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) error {
	var req dto.LoginRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	email := models.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return apperror.NewValidation("Email and password are required")
	}

	ctx := r.Context()
	user, err := h.store.FindByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		if err := h.hasher.VerifyAbsent(ctx, req.Password); err != nil {
			return apperror.NewInternal(err)
		}
		return apperror.NewInvalidCredentials()
	}
	if err != nil {
		return apperror.NewInternal(err)
	}

	ok, err := h.hasher.Verify(ctx, req.Password, user.PasswordHash)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if !ok {
		return apperror.NewInvalidCredentials()
	}

	respond.JSON(w, http.StatusOK, dto.AuthResponse{
		Success: true,
		Message: "Login successful",
		User:    dto.NewUserView(user),
	})
	return nil
}

func (h *AuthHandler) handleForgotPassword(w http.ResponseWriter, r *http.Request) error {
	var req dto.ForgotPasswordRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	email := models.NormalizeEmail(req.Email)
	if email == "" {
		return apperror.NewValidation("Email is required")
	}

	ctx := r.Context()
	user, err := h.store.FindByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return apperror.NewNotFound("No user found with this email")
	}
	if err != nil {
		return apperror.NewInternal(err)
	}

	token, expiry, err := h.resets.Issue(ctx, user)
	if err != nil {
		return apperror.NewInternal(err)
	}
	body, err := mail.RenderResetEmail(h.resetLink(r, token), h.resets.TTL())
	if err != nil {
		return apperror.NewInternal(err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.cfg.Mail.Timeout)
	defer cancel()
	if err := h.mailer.Send(sendCtx, user.Email, mail.ResetSubject, body); err != nil {
		return apperror.NewDeliveryFailed(err)
	}

	h.log.InfoContext(ctx, "password reset requested",
		slog.String("user_id", user.ID),
		slog.Time("expires_at", expiry),
	)
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Success: true, Message: "Password reset email sent"})
	return nil
}

func (h *AuthHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) error {
	var req dto.ResetPasswordRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	token := strings.TrimSpace(req.Token)
	if token == "" || req.NewPassword == "" {
		return apperror.NewValidation("Token and new password are required")
	}
	if err := models.ValidatePassword(req.NewPassword); err != nil {
		return validation(err)
	}

	ctx := r.Context()
	user, err := h.resets.Consume(ctx, token, req.NewPassword)
	if errors.Is(err, auth.ErrInvalidOrExpired) {
		return apperror.NewInvalidOrExpired()
	}
	if err != nil {
		return apperror.NewInternal(err)
	}

	h.log.InfoContext(ctx, "password reset completed", slog.String("user_id", user.ID))
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Success: true, Message: "Password reset successful"})
	return nil
}

// resetLink points at the frontend. A request Origin is only trusted when it
// is one of the explicitly configured CORS origins.
func (h *AuthHandler) resetLink(r *http.Request, token string) string {
	base := h.cfg.FrontendURL
	if origin := strings.TrimRight(r.Header.Get("Origin"), "/"); origin != "" {
		if _, ok := h.resetOrigins[strings.ToLower(origin)]; ok {
			base = origin
		}
	}
	return base + "/reset-password/" + url.PathEscape(token)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.NewValidation("Invalid JSON payload")
	}
	return nil
}

// validation turns a model rule error into a 400 with a capitalized message.
func validation(err error) *apperror.AppError {
	msg := err.Error()
	first, size := utf8.DecodeRuneInString(msg)
	return apperror.NewValidation(string(unicode.ToUpper(first)) + msg[size:])
}
