package auth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/courseo-app/courseogo/internal/localcache"
	"github.com/golang-jwt/jwt/v5"
)

// Storage keys. The canonical key holds the unified session; the legacy
// mirror keys keep not-yet-migrated consumers working and are all written
// and cleared through the same two functions, so there is exactly one place
// to delete the mirrors once the migration completes.
const (
	keySession            = "session.current"
	keyLegacyToken        = "auth.token"
	keyLegacyUser         = "auth.user"
	keyOfflineCredentials = "auth.offline_credentials"
)

// SourceBackend identifies which backend authenticated the session
type SourceBackend string

const (
	SourceA SourceBackend = "A"
	SourceB SourceBackend = "B"
)

// Session is the unified user identity, regardless of which backend
// authenticated it. Exactly one session is current per process.
type Session struct {
	UserID        string        `json:"userId"`
	Email         string        `json:"email"`
	DisplayName   string        `json:"displayName"`
	Role          Role          `json:"role"`
	StoreRef      string        `json:"storeRef,omitempty"`
	DriverRef     string        `json:"driverRef,omitempty"`
	Token         string        `json:"token"`
	IssuedAt      time.Time     `json:"issuedAt"`
	SourceBackend SourceBackend `json:"sourceBackend"`
}

// TokenStore persists the current session in the local settings table,
// fanning writes out to the canonical key and every legacy mirror.
type TokenStore struct {
	settings *localcache.Settings
}

// NewTokenStore creates a token store over the settings table
func NewTokenStore(settings *localcache.Settings) *TokenStore {
	return &TokenStore{settings: settings}
}

// Save writes the session under the canonical key and mirrors the
// legacy-format keys in the same call
func (ts *TokenStore) Save(session *Session) error {
	canonical, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	ts.settings.Put(keySession, string(canonical))

	// Legacy mirror: the shape older consumers still read
	legacyUser, err := json.Marshal(map[string]interface{}{
		"id":    session.UserID,
		"email": session.Email,
		"nom":   session.DisplayName,
		"role":  string(session.Role),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize legacy user mirror: %w", err)
	}
	ts.settings.Put(keyLegacyToken, session.Token)
	ts.settings.Put(keyLegacyUser, string(legacyUser))
	return nil
}

// Load reads the canonical session key, returning nil when absent
func (ts *TokenStore) Load() (*Session, error) {
	raw, ok := ts.settings.Get(keySession)
	if !ok || raw == "" {
		return nil, nil
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to decode stored session: %w", err)
	}
	return &session, nil
}

// Clear removes the canonical key and every mirror. Used by logout and by
// expired-token cleanup, so no partial session state can survive.
func (ts *TokenStore) Clear() {
	ts.settings.Delete(keySession)
	ts.settings.Delete(keyLegacyToken)
	ts.settings.Delete(keyLegacyUser)
}

// SaveOfflineCredentials stores the bcrypt credential hash used by
// offline re-login
func (ts *TokenStore) SaveOfflineCredentials(email, hash string) error {
	raw, err := json.Marshal(map[string]string{"email": email, "hash": hash})
	if err != nil {
		return fmt.Errorf("failed to serialize offline credentials: %w", err)
	}
	ts.settings.Put(keyOfflineCredentials, string(raw))
	return nil
}

// LoadOfflineCredentials returns the cached email and bcrypt hash
func (ts *TokenStore) LoadOfflineCredentials() (email, hash string, ok bool) {
	raw, found := ts.settings.Get(keyOfflineCredentials)
	if !found || raw == "" {
		return "", "", false
	}
	var creds map[string]string
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return "", "", false
	}
	return creds["email"], creds["hash"], creds["email"] != ""
}

// ClearOfflineCredentials removes the cached credential hash
func (ts *TokenStore) ClearOfflineCredentials() {
	ts.settings.Delete(keyOfflineCredentials)
}

// TokenExpired inspects the token's expiry claim without verifying the
// signature (the token may belong to either backend). A token that cannot
// be decoded is treated as expired: fail safe, never fail open.
func TokenExpired(token string, now time.Time) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !now.Before(exp.Time)
}
