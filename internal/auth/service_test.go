package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/courseo-app/courseogo/internal/backend/legacy"
	"github.com/courseo-app/courseogo/internal/backend/restapi"
	"github.com/courseo-app/courseogo/internal/config"
	"github.com/courseo-app/courseogo/internal/database"
	"github.com/courseo-app/courseogo/internal/errs"
	"github.com/courseo-app/courseogo/internal/localcache"
	"github.com/courseo-app/courseogo/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testSettings(t *testing.T) *localcache.Settings {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := database.Wrap(gdb)
	if err := db.AutoMigrate(&models.StoredSetting{}); err != nil {
		t.Fatalf("failed to migrate test schema: %v", err)
	}
	return localcache.NewSettings(db)
}

func backendBToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "u-b-1",
		"exp": time.Now().Add(2 * time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("backend-b-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// backendBServer answers /auth/login; loginStatus 0 means accept
func backendBServer(t *testing.T, loginStatus int, token string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/auth/login"):
			if loginStatus != 0 {
				w.WriteHeader(loginStatus)
				json.NewEncoder(w).Encode(map[string]interface{}{"status": loginStatus, "message": "Identifiants invalides"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"token": token,
				"user": map[string]interface{}{
					"id":          "u-b-1",
					"email":       "claire@courseo.fr",
					"displayName": "Claire",
					"role":        "Direction",
					"magasin":     map[string]interface{}{"id": "mag-7"},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/auth/logout"):
			json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

// backendAServer answers the user-table lookup; empty means reject
func backendAServer(t *testing.T, accept bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		records := []map[string]interface{}{}
		if accept {
			records = append(records, map[string]interface{}{
				"id": "recU1",
				"fields": map[string]interface{}{
					"Email":     "claire@courseo.fr",
					"Nom":       "Claire",
					"Rôle":      "Chauffeur",
					"Chauffeur": []interface{}{"recCH9"},
				},
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"records": records})
	}))
}

func newService(t *testing.T, restURL, legacyURL string) (*Service, *TokenStore, *restapi.Client) {
	t.Helper()
	settings := testSettings(t)
	store := NewTokenStore(settings)
	rest := restapi.NewClient(restURL)
	leg := legacy.NewClient(config.BackendAConfig{
		BaseURL: legacyURL,
		BaseID:  "appTEST",
		APIKey:  "k",
		Tables:  map[string]string{"utilisateurs": "Utilisateurs"},
	})
	svc := NewService(store, leg, rest, "test-session-secret")
	rest.SetSessionExpiredHandler(svc.HandleSessionExpired)
	return svc, store, rest
}

func TestLoginPrefersBackendB(t *testing.T) {
	token := backendBToken(t)
	serverB := backendBServer(t, 0, token)
	defer serverB.Close()
	serverA := backendAServer(t, true)
	defer serverA.Close()

	svc, store, rest := newService(t, serverB.URL, serverA.URL)

	session, err := svc.Login(context.Background(), "claire@courseo.fr", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if session.SourceBackend != SourceB {
		t.Errorf("SourceBackend = %s, want B", session.SourceBackend)
	}
	if session.Role != RoleAdmin {
		t.Errorf("role = %s, 'Direction' should normalize to admin", session.Role)
	}
	if session.StoreRef != "mag-7" {
		t.Errorf("storeRef = %q, nested magasin object not unpacked", session.StoreRef)
	}
	if rest.Token() != token {
		t.Error("backend B token not installed on the REST client")
	}

	// Canonical key and legacy mirrors are all written
	stored, err := store.Load()
	if err != nil || stored == nil || stored.Email != "claire@courseo.fr" {
		t.Fatalf("persisted session wrong: %+v err=%v", stored, err)
	}
}

func TestLoginFallsBackToBackendA(t *testing.T) {
	serverB := backendBServer(t, http.StatusServiceUnavailable, "")
	defer serverB.Close()
	serverA := backendAServer(t, true)
	defer serverA.Close()

	svc, _, rest := newService(t, serverB.URL, serverA.URL)

	session, err := svc.Login(context.Background(), "claire@courseo.fr", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if session.SourceBackend != SourceA {
		t.Errorf("SourceBackend = %s, want A", session.SourceBackend)
	}
	if session.Role != RoleDriver {
		t.Errorf("role = %s, want driver", session.Role)
	}
	if session.DriverRef != "recCH9" {
		t.Errorf("driverRef = %q, linked-record array not unpacked", session.DriverRef)
	}
	if TokenExpired(session.Token, time.Now()) {
		t.Error("locally minted token must carry a future expiry")
	}
	if rest.Token() != "" {
		t.Error("no backend B token may be installed for an A session")
	}
}

func TestLoginRejectedByBothBackends(t *testing.T) {
	serverB := backendBServer(t, http.StatusUnauthorized, "")
	defer serverB.Close()
	serverA := backendAServer(t, false)
	defer serverA.Close()

	svc, store, _ := newService(t, serverB.URL, serverA.URL)

	_, err := svc.Login(context.Background(), "claire@courseo.fr", "wrong")
	if errs.KindOf(err) != errs.KindAuthFailed {
		t.Fatalf("double rejection should be AUTH_FAILED, got %v", err)
	}
	if svc.Current() != nil {
		t.Error("failed login must not leave a session behind")
	}
	if stored, _ := store.Load(); stored != nil {
		t.Error("failed login must not persist anything")
	}
}

func TestRestoreSessionIsIdempotent(t *testing.T) {
	token := backendBToken(t)
	serverB := backendBServer(t, 0, token)
	defer serverB.Close()
	serverA := backendAServer(t, false)
	defer serverA.Close()

	svc, store, _ := newService(t, serverB.URL, serverA.URL)
	if _, err := svc.Login(context.Background(), "claire@courseo.fr", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// Simulate a fresh process over the same storage
	rest2 := restapi.NewClient(serverB.URL)
	svc2 := NewService(store, nil, rest2, "test-session-secret")

	first, err := svc2.RestoreSession()
	if err != nil || first == nil {
		t.Fatalf("restore failed: %+v err=%v", first, err)
	}
	second, err := svc2.RestoreSession()
	if err != nil || second == nil {
		t.Fatalf("second restore failed: %v", err)
	}
	if first.UserID != second.UserID || first.Token != second.Token {
		t.Error("restore is not idempotent")
	}
	if rest2.Token() != token {
		t.Error("restore of a B session must install the token")
	}
}

func TestExpiredStoredSessionIsCleared(t *testing.T) {
	serverB := backendBServer(t, 0, "")
	defer serverB.Close()

	svc, store, _ := newService(t, serverB.URL, serverB.URL)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, _ := expired.SignedString([]byte("x"))
	store.Save(&Session{UserID: "u1", Email: "a@b.fr", Token: signed, SourceBackend: SourceB})

	session, err := svc.RestoreSession()
	if err != nil {
		t.Fatalf("restore errored: %v", err)
	}
	if session != nil {
		t.Fatal("expired session must not be restored")
	}
	if stored, _ := store.Load(); stored != nil {
		t.Error("expired session keys must be cleared, not kept")
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	token := backendBToken(t)
	serverB := backendBServer(t, 0, token)
	defer serverB.Close()
	serverA := backendAServer(t, false)
	defer serverA.Close()

	svc, store, rest := newService(t, serverB.URL, serverA.URL)
	if _, err := svc.Login(context.Background(), "claire@courseo.fr", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	notified := 0
	svc.OnLogout(func() { notified++ })

	svc.Logout(context.Background())
	if svc.Current() != nil {
		t.Error("session still current after logout")
	}
	if rest.Token() != "" {
		t.Error("REST token survives logout")
	}
	if stored, _ := store.Load(); stored != nil {
		t.Error("stored session survives logout")
	}
	if notified != 1 {
		t.Errorf("logout observers notified %d times, want 1", notified)
	}

	if session, _ := svc.RestoreSession(); session != nil {
		t.Error("restore after logout must find nothing")
	}
}

func TestLogoutReturnsWhenServerRejectsStaleToken(t *testing.T) {
	token := backendBToken(t)
	loginServer := backendBServer(t, 0, token)
	defer loginServer.Close()
	serverA := backendAServer(t, false)
	defer serverA.Close()

	svc, store, rest := newService(t, loginServer.URL, serverA.URL)
	if _, err := svc.Login(context.Background(), "claire@courseo.fr", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// The server already considers the token stale: /auth/logout answers
	// 401, which fires the expired-session teardown mid-logout
	staleServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": 401, "message": "expired"})
	}))
	defer staleServer.Close()

	rest2 := restapi.NewClient(staleServer.URL)
	rest2.SetToken(rest.Token())
	svc2 := NewService(store, nil, rest2, "test-session-secret")
	rest2.SetSessionExpiredHandler(svc2.HandleSessionExpired)
	if _, err := svc2.RestoreSession(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	notified := 0
	svc2.OnLogout(func() { notified++ })

	done := make(chan struct{})
	go func() {
		svc2.Logout(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Logout did not return after the server answered 401 on /auth/logout")
	}

	if svc2.Current() != nil {
		t.Error("session still current after logout")
	}
	if rest2.Token() != "" {
		t.Error("REST token survives logout")
	}
	if stored, _ := store.Load(); stored != nil {
		t.Error("stored session survives logout")
	}
	if notified != 1 {
		t.Errorf("logout observers notified %d times, want exactly 1", notified)
	}
}

func TestOfflineReloginAgainstCachedCredentials(t *testing.T) {
	token := backendBToken(t)
	serverB := backendBServer(t, 0, token)
	defer serverB.Close()
	serverA := backendAServer(t, false)
	defer serverA.Close()

	svc, _, _ := newService(t, serverB.URL, serverA.URL)
	if _, err := svc.Login(context.Background(), "claire@courseo.fr", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	session, err := svc.LoginOffline("claire@courseo.fr", "pw")
	if err != nil {
		t.Fatalf("offline re-login failed: %v", err)
	}
	if TokenExpired(session.Token, time.Now()) {
		t.Error("offline re-login must reissue a valid local token")
	}

	if _, err := svc.LoginOffline("claire@courseo.fr", "wrong"); errs.KindOf(err) != errs.KindAuthFailed {
		t.Errorf("wrong offline password should be AUTH_FAILED, got %v", err)
	}
	if _, err := svc.LoginOffline("autre@courseo.fr", "pw"); errs.KindOf(err) != errs.KindAuthFailed {
		t.Errorf("unknown offline user should be AUTH_FAILED, got %v", err)
	}
}

func TestStaleTokenTearsDownSession(t *testing.T) {
	token := backendBToken(t)
	loginServer := backendBServer(t, 0, token)
	defer loginServer.Close()
	serverA := backendAServer(t, false)
	defer serverA.Close()

	svc, _, rest := newService(t, loginServer.URL, serverA.URL)
	if _, err := svc.Login(context.Background(), "claire@courseo.fr", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// Any non-login 401 fires the expired handler, which tears down locally
	expireServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": 401, "message": "expired"})
	}))
	defer expireServer.Close()

	rest2 := restapi.NewClient(expireServer.URL)
	rest2.SetToken(rest.Token())
	rest2.SetSessionExpiredHandler(svc.HandleSessionExpired)

	_, err := rest2.Get(context.Background(), "commandes", "1")
	if errs.KindOf(err) != errs.KindAuthExpired {
		t.Fatalf("expected AUTH_EXPIRED, got %v", err)
	}
	if svc.Current() != nil {
		t.Error("session must be torn down after a stale-token response")
	}
}
