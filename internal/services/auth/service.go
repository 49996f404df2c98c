// Package auth exposes the bearer token issued by the external identity
// provider. It stores and inspects tokens; it never refreshes them.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
)

// TokenSource supplies the bearer token for remote API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed token.
type StaticToken string

// Token returns the fixed token, or ErrAuthFailure if it is empty.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no token configured: %w", models.ErrAuthFailure)
	}
	return string(s), nil
}

// Service holds the current token, persisted to a file.
type Service struct {
	tokenFile string
	static    string
	logger    *events.Logger

	mu    sync.Mutex
	token *models.TokenInfo
}

// NewService creates an auth service. A non-empty static token takes
// precedence over the token file.
func NewService(tokenFile, staticToken string, logger *events.Logger) *Service {
	return &Service{
		tokenFile: tokenFile,
		static:    staticToken,
		logger:    logger.WithField("service", "auth"),
	}
}

// Login stores a token obtained from the identity provider. Expiry and
// subject are read from JWT claims when the token is a JWT.
func (s *Service) Login(token, userID, email string) (*models.TokenInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("token required")
	}

	info := &models.TokenInfo{Token: token, UserID: userID, Email: email}
	if claims, err := ParseClaims(token); err == nil {
		info.ExpiresAt = claims.ExpiresAt
		if info.UserID == "" {
			info.UserID = claims.Subject
		}
		if info.Email == "" {
			info.Email = claims.Email
		}
	}

	if info.IsExpired() {
		return nil, fmt.Errorf("token expired at %s: %w", info.ExpiresAt.Format(time.RFC3339), models.ErrAuthFailure)
	}

	s.mu.Lock()
	s.token = info
	s.mu.Unlock()

	if err := s.saveToken(info); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", info.UserID).Info("Token stored")
	return info, nil
}

// Logout forgets the stored token.
func (s *Service) Logout() error {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()

	if s.tokenFile != "" {
		if err := os.Remove(s.tokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove token file: %w", err)
		}
	}
	s.logger.Info("Logged out")
	return nil
}

// GetToken returns the current token if present and unexpired.
func (s *Service) GetToken() (*models.TokenInfo, error) {
	if s.static != "" {
		info := &models.TokenInfo{Token: s.static}
		if claims, err := ParseClaims(s.static); err == nil {
			info.ExpiresAt = claims.ExpiresAt
			info.UserID = claims.Subject
			info.Email = claims.Email
		}
		if info.IsExpired() {
			return nil, fmt.Errorf("configured token expired: %w", models.ErrAuthFailure)
		}
		return info, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		token, err := s.loadToken()
		if err != nil {
			return nil, fmt.Errorf("not logged in: %w", models.ErrAuthFailure)
		}
		s.token = token
	}

	if s.token.IsExpired() {
		return nil, fmt.Errorf("token expired at %s: %w", s.token.ExpiresAt.Format(time.RFC3339), models.ErrAuthFailure)
	}
	return s.token, nil
}

// Token implements TokenSource.
func (s *Service) Token(ctx context.Context) (string, error) {
	info, err := s.GetToken()
	if err != nil {
		return "", err
	}
	return info.Token, nil
}

// UserID returns the signed-in user's id, or "" if unknown.
func (s *Service) UserID() string {
	info, err := s.GetToken()
	if err != nil {
		return ""
	}
	return info.UserID
}

func (s *Service) saveToken(info *models.TokenInfo) error {
	if s.tokenFile == "" {
		return nil
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.tokenFile), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	return os.WriteFile(s.tokenFile, data, 0600)
}

func (s *Service) loadToken() (*models.TokenInfo, error) {
	if s.tokenFile == "" {
		return nil, fmt.Errorf("no token file configured")
	}

	data, err := os.ReadFile(s.tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var token models.TokenInfo
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if token.Token == "" {
		return nil, fmt.Errorf("token file is empty")
	}
	return &token, nil
}

// Claims are the JWT claims the client cares about.
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// ParseClaims reads claims from a JWT without verifying its signature.
// Verification is the server's job; the client only needs the expiry.
func ParseClaims(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("parse jwt: %w", err)
	}

	var out Claims
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	return out, nil
}
