package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabel/internal/apperr"
)

const testSecret = "test-secret-0123456789"

func newTestManager(t *testing.T, now time.Time) *Manager {
	t.Helper()
	m, err := NewManager(testSecret, "tabel", time.Hour)
	require.NoError(t, err)
	m.now = func() time.Time { return now }
	return m
}

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := newTestManager(t, now)

	token, err := m.Issue("01hx-anna", []string{"HR", " manager ", "hr"})
	require.NoError(t, err)

	s, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "01hx-anna", s.UserSlug)
	assert.Equal(t, []string{"hr", "manager"}, s.Roles)
	assert.True(t, s.HasRole("hr"))
	assert.True(t, s.HasAnyRole("admin", "manager"))
	assert.False(t, s.HasRole("admin"))
}

func TestParse_Rejects(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := newTestManager(t, now)
	valid, err := m.Issue("anna", nil)
	require.NoError(t, err)

	expired := newTestManager(t, now.Add(-2*time.Hour))
	old, err := expired.Issue("anna", nil)
	require.NoError(t, err)

	other, err := NewManager("another-secret-0123456789", "tabel", time.Hour)
	require.NoError(t, err)
	other.now = m.now
	foreign, err := other.Issue("anna", nil)
	require.NoError(t, err)

	wrongIssuer, err := NewManager(testSecret, "someone-else", time.Hour)
	require.NoError(t, err)
	wrongIssuer.now = m.now
	wrongIss, err := wrongIssuer.Issue("anna", nil)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "anna", "exp": now.Add(time.Hour).Unix()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"просрочен", old},
		{"чужой ключ", foreign},
		{"чужой issuer", wrongIss},
		{"alg none", none},
		{"мусор", "not-a-token"},
		{"пусто", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Parse(tt.token)
			var ue *apperr.UnauthenticatedError
			assert.True(t, errors.As(err, &ue), "ожидали UnauthenticatedError, получили %v", err)
		})
	}

	_, err = m.Parse(valid)
	assert.NoError(t, err)
}

func TestNewManager_ShortSecret(t *testing.T) {
	_, err := NewManager("short", "", time.Hour)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"bearer", "Bearer abc", "", "abc"},
		{"bearer в другом регистре", "bearer abc", "", "abc"},
		{"заголовок важнее cookie", "Bearer abc", "xyz", "abc"},
		{"cookie", "", "xyz", "xyz"},
		{"не bearer", "Basic abc", "xyz", ""},
		{"ничего", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/ajax/getTableData", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, TokenFromRequest(r))
		})
	}
}
