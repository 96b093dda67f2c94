package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

const (
	// CookieName — имя cookie с админской сессией.
	CookieName = "dormside_admin"
	// SessionTTL — срок жизни админской сессии.
	SessionTTL = 7 * 24 * time.Hour

	issuer = "dormside"
)

var (
	// ErrMissingCredentials — не передан логин или пароль.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrInvalidCredentials — логин или пароль не совпали.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotConfigured — в окружении нет учётных данных администратора или секрета.
	ErrNotConfigured = errors.New("admin auth is not configured")
)

// Config — учётные данные единственного администратора и секрет подписи.
type Config struct {
	Username string
	Password string
	Secret   string
}

// Sessions выдаёт и проверяет подписанные HS256 токены админской сессии.
type Sessions struct {
	cfg Config
	ttl time.Duration
	now func() time.Time
}

// NewSessions создаёт менеджер сессий.
func NewSessions(cfg Config) *Sessions {
	return &Sessions{cfg: cfg, ttl: SessionTTL, now: time.Now}
}

// Configured сообщает, заданы ли логин, пароль и секрет.
func (s *Sessions) Configured() bool {
	return s.cfg.Username != "" && s.cfg.Password != "" && s.cfg.Secret != ""
}

// Login сверяет учётные данные и возвращает подписанный токен.
func (s *Sessions) Login(username, password string) (string, error) {
	if username == "" || password == "" {
		return "", ErrMissingCredentials
	}
	if !s.Configured() {
		return "", ErrNotConfigured
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) == 1
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}

	return s.Issue(username)
}

// Issue подписывает токен сессии для пользователя.
func (s *Sessions) Issue(username string) (string, error) {
	if s.cfg.Secret == "" {
		return "", ErrNotConfigured
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign admin session: %w", err)
	}
	return token, nil
}

// Verify проверяет подпись и срок действия токена.
func (s *Sessions) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" || s.cfg.Secret == "" {
		return "", domain.ErrUnauthorized
	}

	claims := &jwt.RegisteredClaims{}
	// Срок действия сверяется по s.now ниже.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", domain.ErrUnauthorized
	}
	if !claims.VerifyExpiresAt(s.now(), true) || !claims.VerifyIssuer(issuer, true) {
		return "", domain.ErrUnauthorized
	}

	return claims.Subject, nil
}

// IsAdmin сообщает, несёт ли запрос валидную админскую cookie.
func (s *Sessions) IsAdmin(r *http.Request) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	_, err = s.Verify(cookie.Value)
	return err == nil
}

// SetCookie выставляет cookie сессии.
func (s *Sessions) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie удаляет cookie сессии.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
