// Пакет auth: сессии пользователей: подписанные HS256 JWT с slug пользователя
// в sub и списком ролей в claim roles.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tabel/internal/apperr"
)

// CookieName: cookie, из которой берётся токен, если нет заголовка Authorization.
const CookieName = "tabel_session"

// Session: аутентифицированный пользователь запроса.
type Session struct {
	UserSlug string
	Roles    []string
}

func (s *Session) HasRole(role string) bool {
	return s != nil && slices.Contains(s.Roles, role)
}

// HasAnyRole: есть ли хотя бы одна из ролей.
func (s *Session) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if s.HasRole(r) {
			return true
		}
	}
	return false
}

type claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Manager выпускает и проверяет токены сессий.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

func NewManager(secret, issuer string, ttl time.Duration) (*Manager, error) {
	if len(secret) < 16 {
		return nil, apperr.Configuration("jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{secret: []byte(secret), issuer: issuer, ttl: ttl, leeway: 30 * time.Second, now: time.Now}, nil
}

// Issue выпускает токен для пользователя с ролями.
func (m *Manager) Issue(userSlug string, roles []string) (string, error) {
	userSlug = strings.TrimSpace(userSlug)
	if userSlug == "" {
		return "", errors.New("empty user slug")
	}
	now := m.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userSlug,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Roles: normalizeRoles(roles),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Parse проверяет подпись, срок и issuer. Любая ошибка: UnauthenticatedError.
func (m *Manager) Parse(token string) (*Session, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return m.secret, nil }, opts...)
	if err != nil {
		return nil, &apperr.UnauthenticatedError{Message: "invalid or expired session token"}
	}
	if c.Subject == "" {
		return nil, &apperr.UnauthenticatedError{Message: "session token has no subject"}
	}
	return &Session{UserSlug: c.Subject, Roles: normalizeRoles(c.Roles)}, nil
}

// TokenFromRequest: Bearer из Authorization, иначе cookie tabel_session.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if ck, err := r.Cookie(CookieName); err == nil {
		return ck.Value
	}
	return ""
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}
