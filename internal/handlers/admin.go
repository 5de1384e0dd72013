package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/courseo-app/courseogo/internal/arbiter"
)

// getPreference returns the persisted data source preference
func (r *Router) getPreference(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"preference": string(r.arbiter.Preference()),
	})
}

// setPreference updates and persists the data source preference
func (r *Router) setPreference(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Preference string `json:"preference"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	pref := arbiter.Preference(body.Preference)
	switch pref {
	case arbiter.PreferenceAuto, arbiter.PreferenceForceA, arbiter.PreferenceForceB:
	default:
		respondError(w, http.StatusBadRequest, "Preference must be AUTO, FORCE_A or FORCE_B")
		return
	}

	r.arbiter.SetPreference(req.Context(), pref)
	respondJSON(w, http.StatusOK, map[string]string{"preference": string(pref)})
}

// getConnectivity reports the effective connectivity state
func (r *Router) getConnectivity(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{
		"online":        r.monitor.IsOnline(),
		"forcedOffline": r.monitor.IsForcedOffline(),
	})
}

// setConnectivity toggles the forced-offline override
func (r *Router) setConnectivity(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ForcedOffline bool `json:"forcedOffline"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	r.monitor.SetForcedOffline(body.ForcedOffline)
	respondJSON(w, http.StatusOK, map[string]bool{
		"online":        r.monitor.IsOnline(),
		"forcedOffline": r.monitor.IsForcedOffline(),
	})
}

// fetchAsset serves an asset through the local cache
func (r *Router) fetchAsset(w http.ResponseWriter, req *http.Request) {
	remoteURL := req.URL.Query().Get("url")
	if remoteURL == "" {
		respondError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	source := req.URL.Query().Get("source")
	if source == "" {
		source = "B"
	}

	asset, err := r.assets.Fetch(req.Context(), remoteURL, source)
	if err != nil {
		respondClassified(w, err)
		return
	}

	if asset.ContentType != "" {
		w.Header().Set("Content-Type", asset.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(asset.Data)
}

// assetStats reports asset cache usage
func (r *Router) assetStats(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.assets.CurrentStats())
}
