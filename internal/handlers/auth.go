package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/emilythestrangee/memories/backend/internal/apperrors"
	"github.com/emilythestrangee/memories/backend/internal/auth"
	"github.com/emilythestrangee/memories/backend/internal/models"
	"github.com/emilythestrangee/memories/backend/internal/store"
)

type AuthHandler struct {
	users  store.UserStore
	tokens *auth.Tokens
	google GoogleVerifier
	log    logrus.FieldLogger
}

func NewAuthHandler(users store.UserStore, tokens *auth.Tokens, google GoogleVerifier, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, google: google, log: log}
}

// SignIn handles email and password login
func (h *AuthHandler) SignIn(c *gin.Context) {
	var input models.SignInRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, h.log, apperrors.Validation(bindingMessage(err)))
		return
	}

	user, err := h.users.UserByEmail(c.Request.Context(), input.Email)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if !auth.CheckPassword(user.Password, input.Password) {
		respondError(c, h.log, apperrors.Validation("Invalid credentials"))
		return
	}

	h.respondWithToken(c, http.StatusOK, user)
}

// SignUp handles user registration
func (h *AuthHandler) SignUp(c *gin.Context) {
	var input models.SignUpRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, h.log, apperrors.Validation(bindingMessage(err)))
		return
	}

	if input.Password != input.ConfirmPassword {
		respondError(c, h.log, apperrors.Validation("Passwords don't match."))
		return
	}

	ctx := c.Request.Context()
	if _, err := h.users.UserByEmail(ctx, input.Email); err == nil {
		respondError(c, h.log, apperrors.Validation("User already exists."))
		return
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		respondError(c, h.log, err)
		return
	}

	hashed, err := auth.HashPassword(input.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	user := models.User{
		Name:         strings.TrimSpace(input.FirstName) + " " + strings.TrimSpace(input.LastName),
		Email:        input.Email,
		Password:     hashed,
		AuthProvider: "email",
	}
	if err := h.users.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			err = apperrors.Validation("User already exists.")
		}
		respondError(c, h.log, err)
		return
	}

	h.respondWithToken(c, http.StatusOK, &user)
}

// GoogleSignIn verifies a Google ID token and signs the matching user in,
// creating the account on first use.
func (h *AuthHandler) GoogleSignIn(c *gin.Context) {
	var input models.GoogleSignInRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, h.log, apperrors.Validation(bindingMessage(err)))
		return
	}

	identity, err := h.google.Verify(c.Request.Context(), input.Token)
	if err != nil {
		h.log.WithError(err).Warn("Google token rejected")
		respondError(c, h.log, apperrors.Unauthenticated("Invalid Google token"))
		return
	}

	name := identity.Name
	if name == "" {
		name, _, _ = strings.Cut(identity.Email, "@")
	}
	user, err := h.users.UpsertGoogleUser(c.Request.Context(), &models.User{
		Name:         name,
		Email:        identity.Email,
		GoogleID:     identity.Sub,
		Picture:      identity.Picture,
		AuthProvider: "google",
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.respondWithToken(c, http.StatusOK, user)
}

func (h *AuthHandler) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, err := h.tokens.Issue(user)
	if err != nil {
		respondError(c, h.log, apperrors.Internal("Failed to generate token", err))
		return
	}
	c.JSON(status, models.AuthResponse{Result: *user, Token: token})
}
