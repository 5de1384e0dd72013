package handlers

import (
	"net/http"
)

// syncStatus reports queue depth and arbiter state in one payload
func (r *Router) syncStatus(w http.ResponseWriter, req *http.Request) {
	queued, manual := r.queue.Counts()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"queued":  queued,
		"manual":  manual,
		"arbiter": r.arbiter.CurrentStatus(),
	})
}

// triggerDrain runs a drain pass immediately
func (r *Router) triggerDrain(w http.ResponseWriter, req *http.Request) {
	r.syncer.TriggerNow()
	result := r.syncer.Drain(req.Context())
	respondJSON(w, http.StatusOK, result)
}

// manualItems lists pending changes parked for human resolution
func (r *Router) manualItems(w http.ResponseWriter, req *http.Request) {
	items, err := r.queue.Manual()
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
