package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// InvalidCredentialsError indicates a failed login or an unusable token.
type InvalidCredentialsError struct {
	Reason string
}

func (e InvalidCredentialsError) Error() string {
	if e.Reason == "" {
		return "invalid credentials"
	}
	return fmt.Sprintf("invalid credentials: %s", e.Reason)
}

// EmailTakenError indicates a registration conflict.
type EmailTakenError struct {
	Email string
}

func (e EmailTakenError) Error() string {
	return fmt.Sprintf("email %s is already registered", e.Email)
}

// Service handles password hashing and bearer token minting.
type Service struct {
	JWTSecret string
	TokenTTL  time.Duration
	Now       func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// HashPassword produces a bcrypt hash for storage.
func (s Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a password against a stored hash.
func (s Service) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return InvalidCredentialsError{}
	}
	return nil
}

// MintToken issues an HS256 bearer token with the user's email as subject.
func (s Service) MintToken(email string) (string, error) {
	now := s.now().UTC()
	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a bearer token and returns the subject email.
func (s Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", InvalidCredentialsError{Reason: "token rejected"}
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", InvalidCredentialsError{Reason: "token missing subject"}
	}
	return claims.Subject, nil
}
