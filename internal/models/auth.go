package models

import "time"

// ExpirySkew treats a token as expired slightly early so a request does not
// reach the server with a token that lapses in flight.
const ExpirySkew = 30 * time.Second

// TokenInfo is the bearer token issued by the identity provider, with the
// claims the client cares about.
type TokenInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
}

// ExpiredAt reports whether the token is unusable at now. Tokens without an
// expiry claim never expire.
func (t *TokenInfo) ExpiredAt(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(ExpirySkew).Before(t.ExpiresAt)
}

// IsExpired is ExpiredAt(time.Now()).
func (t *TokenInfo) IsExpired() bool {
	return t.ExpiredAt(time.Now())
}
