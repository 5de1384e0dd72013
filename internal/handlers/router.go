// Package handlers exposes the core to the UI process over HTTP: auth,
// arbitrated data access, queue inspection, connectivity controls and the
// websocket event stream.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/courseo-app/courseogo/internal/arbiter"
	"github.com/courseo-app/courseogo/internal/assets"
	"github.com/courseo-app/courseogo/internal/auth"
	"github.com/courseo-app/courseogo/internal/buildinfo"
	"github.com/courseo-app/courseogo/internal/connectivity"
	"github.com/courseo-app/courseogo/internal/errs"
	"github.com/courseo-app/courseogo/internal/events"
	"github.com/courseo-app/courseogo/internal/localcache"
	"github.com/courseo-app/courseogo/internal/syncqueue"
	"github.com/gorilla/mux"
)

// Router wraps the mux router and the core components
type Router struct {
	*mux.Router
	auth    *auth.Service
	arbiter *arbiter.Arbiter
	queue   *syncqueue.Queue
	syncer  *syncqueue.Synchronizer
	monitor *connectivity.Monitor
	assets  *assets.Manager
	store   *localcache.Store
	hub     *events.Hub
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(authSvc *auth.Service, arb *arbiter.Arbiter, queue *syncqueue.Queue, syncer *syncqueue.Synchronizer, monitor *connectivity.Monitor, assetMgr *assets.Manager, store *localcache.Store, hub *events.Hub) *Router {
	r := &Router{
		Router:  mux.NewRouter(),
		auth:    authSvc,
		arbiter: arb,
		queue:   queue,
		syncer:  syncer,
		monitor: monitor,
		assets:  assetMgr,
		store:   store,
		hub:     hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes
	authRoutes := r.PathPrefix("/auth").Subrouter()
	authRoutes.HandleFunc("/login", r.login).Methods("POST")
	authRoutes.HandleFunc("/login/offline", r.loginOffline).Methods("POST")
	authRoutes.HandleFunc("/logout", r.logout).Methods("POST")
	authRoutes.HandleFunc("/session", r.session).Methods("GET")

	// Arbitrated data routes (protected)
	data := r.PathPrefix("/api/data").Subrouter()
	data.Use(r.requireSession)
	data.HandleFunc("/{entity}", r.listRecords).Methods("GET")
	data.HandleFunc("/{entity}", r.createRecord).Methods("POST")
	data.HandleFunc("/{entity}/{id}", r.getRecord).Methods("GET")
	data.HandleFunc("/{entity}/{id}", r.updateRecord).Methods("PATCH")
	data.HandleFunc("/{entity}/{id}", r.deleteRecord).Methods("DELETE")

	// Draft routes (protected)
	drafts := r.PathPrefix("/api/drafts").Subrouter()
	drafts.Use(r.requireSession)
	drafts.HandleFunc("", r.saveDraft).Methods("POST")
	drafts.HandleFunc("/{entity}", r.listDrafts).Methods("GET")
	drafts.HandleFunc("/{entity}/{id}", r.deleteDraft).Methods("DELETE")

	// Sync queue inspection and control (protected)
	syncRoutes := r.PathPrefix("/api/sync").Subrouter()
	syncRoutes.Use(r.requireSession)
	syncRoutes.HandleFunc("/status", r.syncStatus).Methods("GET")
	syncRoutes.HandleFunc("/drain", r.triggerDrain).Methods("POST")
	syncRoutes.HandleFunc("/manual", r.manualItems).Methods("GET")

	// Preference and connectivity controls
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/preference", r.getPreference).Methods("GET")
	api.HandleFunc("/preference", r.setPreference).Methods("PUT")
	api.HandleFunc("/connectivity", r.getConnectivity).Methods("GET")
	api.HandleFunc("/connectivity", r.setConnectivity).Methods("PUT")
	api.HandleFunc("/assets", r.fetchAsset).Methods("GET")
	api.HandleFunc("/assets/stats", r.assetStats).Methods("GET")

	// Event stream
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		events.ServeWs(r.hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the core
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"online":    r.monitor.IsOnline(),
		"startedAt": buildinfo.StartTime,
		"commit":    buildinfo.CommitHash,
	})
}

// requireSession rejects requests without an active session
func (r *Router) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.auth.Current() == nil {
			respondError(w, http.StatusUnauthorized, "No active session")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondClassified maps a classified error onto an HTTP status
func respondClassified(w http.ResponseWriter, err error) {
	switch errs.KindOf(err) {
	case errs.KindAuthFailed:
		respondError(w, http.StatusUnauthorized, err.Error())
	case errs.KindAuthExpired:
		respondError(w, http.StatusUnauthorized, err.Error())
	case errs.KindValidationRejected:
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errs.KindNetworkUnreachable:
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
