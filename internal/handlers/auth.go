package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"association-chat/internal/auth"
	"association-chat/internal/models"
	"association-chat/internal/observability"
	"association-chat/internal/repositories"
	"association-chat/internal/telemetry"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	GenerateToken(userID int64, name, role string) (string, error)
}

// AuthHandler serves password login.
type AuthHandler struct {
	users  repositories.UserRepository
	tokens TokenIssuer
	audit  *telemetry.AuditEmitter
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(users repositories.UserRepository, tokens TokenIssuer, audit *telemetry.AuditEmitter) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, audit: audit}
}

// Login exchanges email and password for a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authenticate(c, strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	token, err := h.tokens.GenerateToken(user.ID, user.Name, user.Role)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	h.audit.Emit(c.Request.Context(), telemetry.ActionLogin, observability.RequestIDFromContext(c), user.ID, 0, "")
	c.JSON(http.StatusOK, models.LoginResponse{Token: token, User: user.Counterpart()})
}

func (h *AuthHandler) authenticate(c *gin.Context, email, password string) (models.StaffUser, error) {
	user, err := h.users.GetUserByEmail(c.Request.Context(), email)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.StaffUser{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.StaffUser{}, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return models.StaffUser{}, ErrInvalidCredentials
	}
	return user, nil
}
