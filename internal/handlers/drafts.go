package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/courseo-app/courseogo/internal/models"
	"github.com/gorilla/mux"
	"gorm.io/datatypes"
)

// DraftRequest represents an unsubmitted form snapshot from the UI
type DraftRequest struct {
	ID         string                 `json:"id"`
	EntityType string                 `json:"entityType"`
	EntityRef  string                 `json:"entityRef"`
	Payload    map[string]interface{} `json:"payload"`
}

// saveDraft inserts or updates a draft record
func (r *Router) saveDraft(w http.ResponseWriter, req *http.Request) {
	var draftReq DraftRequest
	if err := json.NewDecoder(req.Body).Decode(&draftReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if draftReq.EntityType == "" {
		respondError(w, http.StatusBadRequest, "entityType is required")
		return
	}

	raw, err := json.Marshal(draftReq.Payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unserializable payload")
		return
	}

	draft := &models.DraftRecord{
		ID:         draftReq.ID,
		EntityType: draftReq.EntityType,
		EntityRef:  draftReq.EntityRef,
		Payload:    datatypes.JSON(raw),
	}
	if err := r.store.SaveDraft(draft); err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, draft)
}

// listDrafts returns all drafts for an entity type
func (r *Router) listDrafts(w http.ResponseWriter, req *http.Request) {
	drafts, err := r.store.ListDrafts(mux.Vars(req)["entity"])
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"drafts": drafts})
}

// deleteDraft removes a draft
func (r *Router) deleteDraft(w http.ResponseWriter, req *http.Request) {
	if err := r.store.DeleteDraft(mux.Vars(req)["id"]); err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Draft deleted"})
}
