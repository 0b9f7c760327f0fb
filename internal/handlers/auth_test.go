package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"association-chat/internal/auth"
	"association-chat/internal/mocks"
	"association-chat/internal/models"
	"association-chat/internal/repositories"
)

func setupAuthRouter(handler *AuthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/login", handler.Login)
	return r
}

func staffWithPassword(t *testing.T, password string) models.StaffUser {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	return models.StaffUser{ID: 7, Name: "Marta Lima", Email: "marta@assoc.org", Role: models.RoleAdmin, PasswordHash: hash}
}

func TestLoginSuccess(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	tokens := auth.NewTokenService("secret", time.Hour)
	router := setupAuthRouter(NewAuthHandler(users, tokens, nil))
	users.On("GetUserByEmail", mock.Anything, "marta@assoc.org").Return(staffWithPassword(t, "pw"), nil).Once()

	rec := serve(router, http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":" marta@assoc.org ","password":"pw"}`), "application/json")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.User.ID)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)
	assert.NotContains(t, rec.Body.String(), "password")

	id, err := tokens.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestLoginWrongPassword(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	router := setupAuthRouter(NewAuthHandler(users, auth.NewTokenService("secret", time.Hour), nil))
	users.On("GetUserByEmail", mock.Anything, "marta@assoc.org").Return(staffWithPassword(t, "pw"), nil).Once()

	rec := serve(router, http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"marta@assoc.org","password":"nope"}`), "application/json")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrInvalidCredentials.Error())
}

func TestLoginUnknownUser(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	router := setupAuthRouter(NewAuthHandler(users, auth.NewTokenService("secret", time.Hour), nil))
	users.On("GetUserByEmail", mock.Anything, "ghost@assoc.org").Return(nil, repositories.ErrUserNotFound).Once()

	rec := serve(router, http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"ghost@assoc.org","password":"pw"}`), "application/json")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRepoErrorAndValidation(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	router := setupAuthRouter(NewAuthHandler(users, auth.NewTokenService("secret", time.Hour), nil))
	users.On("GetUserByEmail", mock.Anything, "marta@assoc.org").Return(nil, assert.AnError).Once()

	rec := serve(router, http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"marta@assoc.org","password":"pw"}`), "application/json")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = serve(router, http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"marta@assoc.org"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
