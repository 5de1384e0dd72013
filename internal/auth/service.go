package auth

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/courseo-app/courseogo/internal/backend/legacy"
	"github.com/courseo-app/courseogo/internal/backend/restapi"
	"github.com/courseo-app/courseogo/internal/errs"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Service is the unified authentication service: login against Backend B
// first, fall back to Backend A, normalize both into one Session shape and
// persist it across restarts. Session mutation is a critical section: a
// login in progress completes or fails before a concurrent logout or login
// may touch the same storage keys.
type Service struct {
	mu      sync.Mutex
	store   *TokenStore
	legacy  *legacy.Client
	rest    *restapi.Client
	secret  string
	current *Session

	// onLogout observers are notified after a session is torn down
	onLogout []func()
}

// NewService creates the unified authentication service
func NewService(store *TokenStore, legacyClient *legacy.Client, restClient *restapi.Client, sessionSecret string) *Service {
	return &Service{
		store:  store,
		legacy: legacyClient,
		rest:   restClient,
		secret: sessionSecret,
	}
}

// OnLogout registers an observer called after any session teardown
func (s *Service) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// Current returns the current session, or nil
func (s *Service) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	copied := *s.current
	return &copied
}

// Login attempts Backend B first and falls back to Backend A. On success
// the session is persisted under the canonical key and mirrored into the
// legacy keys; on double failure nothing is committed.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, errB := s.loginBackendB(ctx, email, password)
	if errB != nil {
		log.Printf("🔁 Login via Backend B failed (%v), falling back to Backend A", errB)
		var errA error
		session, errA = s.loginBackendA(ctx, email, password)
		if errA != nil {
			return nil, errs.Wrap(errs.KindAuthFailed, "login rejected by both backends", errA)
		}
	}

	if err := s.commitSession(session, email, password); err != nil {
		return nil, err
	}
	log.Printf("✅ Logged in as %s (%s) via backend %s", session.Email, session.Role, session.SourceBackend)
	return s.currentLocked(), nil
}

// currentLocked returns a copy of the current session; callers hold s.mu
func (s *Service) currentLocked() *Session {
	copied := *s.current
	return &copied
}

// LoginOffline re-authenticates against the credential hash cached at the
// last successful online login. No network call is made.
func (s *Service) LoginOffline(email, password string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cachedEmail, hash, ok := s.store.LoadOfflineCredentials()
	if !ok || cachedEmail != email {
		return nil, errs.New(errs.KindAuthFailed, "no cached credentials for this user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, errs.New(errs.KindAuthFailed, "invalid credentials")
	}

	last, err := s.store.Load()
	if err != nil || last == nil {
		return nil, errs.New(errs.KindAuthFailed, "no stored session to reinstate")
	}

	// Reissue a fresh local token; the backend token may have expired
	// while the device was offline.
	token, err := s.mintLocalToken(last.UserID, last.Email, string(last.Role))
	if err != nil {
		return nil, fmt.Errorf("failed to mint offline session token: %w", err)
	}
	last.Token = token
	last.IssuedAt = time.Now().UTC()

	if err := s.store.Save(last); err != nil {
		return nil, err
	}
	s.current = last
	log.Printf("✅ Offline re-login for %s", last.Email)
	return s.currentLocked(), nil
}

// RestoreSession reinstates the persisted session on startup. Idempotent:
// a second call returns the same session without touching storage again,
// and no network call is ever made.
func (s *Service) RestoreSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return s.currentLocked(), nil
	}

	stored, err := s.store.Load()
	if err != nil {
		// A session we cannot decode is as good as no session
		log.Printf("⚠️  Stored session unreadable, clearing: %v", err)
		s.store.Clear()
		return nil, nil
	}
	if stored == nil {
		return nil, nil
	}

	if TokenExpired(stored.Token, time.Now()) {
		log.Println("🔒 Stored session token expired, clearing all session keys")
		s.store.Clear()
		return nil, nil
	}

	s.current = stored
	if stored.SourceBackend == SourceB {
		s.rest.SetToken(stored.Token)
	}
	return s.currentLocked(), nil
}

// Logout tears the session down atomically and totally: current session,
// both backend clients' tokens, every mirrored storage key and the cached
// offline credentials. The server-side logout is best effort and must run
// outside the critical section: a 401 reply re-enters through
// HandleSessionExpired, which takes the same lock.
func (s *Service) Logout(ctx context.Context) {
	if s.rest.Token() != "" {
		if err := s.rest.Logout(ctx); err != nil {
			log.Printf("⚠️  Backend B logout failed (local teardown continues): %v", err)
		}
	}

	if s.teardown() {
		log.Println("👋 Session cleared")
	}
}

// HandleSessionExpired is wired as the REST client's 401/403 teardown
// handler: immediate local logout, no server call.
func (s *Service) HandleSessionExpired() {
	if s.teardown() {
		log.Println("🔒 Stale token detected, session torn down")
	}
}

// teardown clears all session state and reports whether a session was
// actually current. Only that call notifies the observers, so a logout
// whose server reply already tore the session down does not fire them
// twice.
func (s *Service) teardown() bool {
	s.mu.Lock()
	had := s.current != nil
	s.teardownLocked()
	var observers []func()
	if had {
		observers = append([]func(){}, s.onLogout...)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
	return had
}

// teardownLocked clears all session state; callers hold s.mu
func (s *Service) teardownLocked() {
	s.current = nil
	s.rest.ClearToken()
	s.store.Clear()
	s.store.ClearOfflineCredentials()
}

// commitSession persists a freshly authenticated session; callers hold s.mu
func (s *Service) commitSession(session *Session, email, password string) error {
	if err := s.store.Save(session); err != nil {
		return err
	}
	if session.SourceBackend == SourceB {
		s.rest.SetToken(session.Token)
	}
	s.current = session

	// Cache credentials for offline re-login. Failure here must not fail
	// the login itself.
	if hash, err := bcrypt.GenerateFromPassword([]byte(password), 10); err == nil {
		if err := s.store.SaveOfflineCredentials(email, string(hash)); err != nil {
			log.Printf("⚠️  Could not cache offline credentials: %v", err)
		}
	}
	return nil
}

// loginBackendB authenticates against the new REST service and normalizes
// its user shape (nested magasin/chauffeur sub-objects, free-text roles)
func (s *Service) loginBackendB(ctx context.Context, email, password string) (*Session, error) {
	resp, err := s.rest.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	user := resp.User
	session := &Session{
		UserID:        pickString(user, "id", "userId"),
		Email:         pickString(user, "email"),
		DisplayName:   pickString(user, "displayName", "name", "nom"),
		Role:          NormalizeRole(pickString(user, "role")),
		StoreRef:      nestedRef(user, "magasin", "magasinId", "storeRef"),
		DriverRef:     nestedRef(user, "chauffeur", "chauffeurId", "driverRef"),
		Token:         resp.Token,
		IssuedAt:      time.Now().UTC(),
		SourceBackend: SourceB,
	}
	if session.Email == "" {
		session.Email = email
	}
	return session, nil
}

// loginBackendA authenticates against the legacy spreadsheet store and
// mints a local session token, since the legacy service issues none
func (s *Service) loginBackendA(ctx context.Context, email, password string) (*Session, error) {
	record, err := s.legacy.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	userID := record.ID()
	role := NormalizeRole(pickString(map[string]interface{}(record), "role"))
	token, err := s.mintLocalToken(userID, email, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to mint session token: %w", err)
	}

	return &Session{
		UserID:        userID,
		Email:         email,
		DisplayName:   pickString(map[string]interface{}(record), "displayName", "nom", "name"),
		Role:          role,
		StoreRef:      nestedRef(map[string]interface{}(record), "magasin", "storeRef", "storeRef"),
		DriverRef:     nestedRef(map[string]interface{}(record), "chauffeur", "driverRef", "driverRef"),
		Token:         token,
		IssuedAt:      time.Now().UTC(),
		SourceBackend: SourceA,
	}, nil
}

// mintLocalToken issues an HS256 token with a 24h expiry for sessions that
// did not come with a backend token
func (s *Service) mintLocalToken(userID, email, role string) (string, error) {
	claims := jwt.MapClaims{
		"id":    userID,
		"email": email,
		"role":  role,
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

// pickString returns the first non-empty string among candidate keys
func pickString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// nestedRef extracts a reference that may arrive as a nested object with
// an id, a linked-record array of ids, a flat foreign key or an
// already-normalized field, under any of the candidate keys
func nestedRef(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]interface{}:
			if id := pickString(v, "id"); id != "" {
				return id
			}
		case []interface{}:
			// Legacy linked-record columns arrive as arrays of record ids
			if len(v) > 0 {
				if id, ok := v[0].(string); ok && id != "" {
					return id
				}
			}
		case string:
			if v != "" {
				return v
			}
		}
	}
	return ""
}
