package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/academy-adm-api/internal/models"
	"github.com/noah-isme/academy-adm-api/internal/service"
	"github.com/noah-isme/academy-adm-api/pkg/response"
)

type userRepoMock struct {
	byEmail map[string]*models.User
}

func (m *userRepoMock) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *userRepoMock) FindByID(_ context.Context, id string) (*models.User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *userRepoMock) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func newAuthHandlerFixture(t *testing.T) *AuthHandler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &userRepoMock{byEmail: map[string]*models.User{
		"student@example.com": {
			ID:           "user-1",
			Email:        "student@example.com",
			PasswordHash: string(hash),
			FullName:     "Student One",
			Role:         models.RoleStudent,
			Active:       true,
		},
	}}
	svc := service.NewAuthService(repo, nil, nil, service.AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "test",
	})
	return NewAuthHandler(svc)
}

func postLogin(t *testing.T, h *AuthHandler, payload any) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Login(c)
	return w
}

func TestAuthHandlerLoginSuccess(t *testing.T) {
	h := newAuthHandlerFixture(t)

	w := postLogin(t, h, models.LoginRequest{Email: "student@example.com", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data, ok := envelope.Data.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, data["access_token"])
}

func TestAuthHandlerLoginWrongPassword(t *testing.T) {
	h := newAuthHandlerFixture(t)

	w := postLogin(t, h, models.LoginRequest{Email: "student@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerLoginInvalidBody(t *testing.T) {
	h := newAuthHandlerFixture(t)
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte(`not json`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
