package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/courseo-app/courseogo/internal/backend"
	"github.com/courseo-app/courseogo/internal/models"
	"github.com/gorilla/mux"
)

// knownEntities are the entity types the arbiter serves. Anything else
// is rejected before touching a backend.
var knownEntities = map[string]bool{
	"commandes":  true,
	"magasins":   true,
	"chauffeurs": true,
	"contacts":   true,
}

// entityFrom validates the {entity} path variable
func entityFrom(req *http.Request) (string, bool) {
	entity := mux.Vars(req)["entity"]
	return entity, knownEntities[entity]
}

// listResponse wraps arbitrated list results with their provenance
type listResponse struct {
	Records []backend.Record `json:"records"`
	Source  string           `json:"source"`
}

// listRecords serves an arbitrated list query. Query parameters other
// than limit become equality filters.
func (r *Router) listRecords(w http.ResponseWriter, req *http.Request) {
	entity, ok := entityFrom(req)
	if !ok {
		respondError(w, http.StatusNotFound, "Unknown entity type")
		return
	}

	q := backend.Query{Filter: make(map[string]string)}
	for key, values := range req.URL.Query() {
		if len(values) == 0 {
			continue
		}
		if key == "limit" {
			q.Limit, _ = strconv.Atoi(values[0])
			continue
		}
		q.Filter[key] = values[0]
	}

	records, source, err := r.arbiter.Read(req.Context(), entity, q)
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse{Records: records, Source: string(source)})
}

// getRecord serves one arbitrated record
func (r *Router) getRecord(w http.ResponseWriter, req *http.Request) {
	entity, ok := entityFrom(req)
	if !ok {
		respondError(w, http.StatusNotFound, "Unknown entity type")
		return
	}

	rec, source, err := r.arbiter.Get(req.Context(), entity, mux.Vars(req)["id"])
	if err != nil {
		respondClassified(w, err)
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "Record not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"record": rec,
		"source": source,
	})
}

// createRecord routes a create through the arbiter
func (r *Router) createRecord(w http.ResponseWriter, req *http.Request) {
	r.mutate(w, req, models.OperationCreate, "")
}

// updateRecord routes an update through the arbiter
func (r *Router) updateRecord(w http.ResponseWriter, req *http.Request) {
	r.mutate(w, req, models.OperationUpdate, mux.Vars(req)["id"])
}

// deleteRecord routes a delete through the arbiter
func (r *Router) deleteRecord(w http.ResponseWriter, req *http.Request) {
	entity, ok := entityFrom(req)
	if !ok {
		respondError(w, http.StatusNotFound, "Unknown entity type")
		return
	}

	payload := backend.Record{"id": mux.Vars(req)["id"]}
	result, err := r.arbiter.Write(req.Context(), entity, models.OperationDelete, payload)
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// mutate decodes a body and hands it to the arbiter
func (r *Router) mutate(w http.ResponseWriter, req *http.Request, op models.Operation, id string) {
	entity, ok := entityFrom(req)
	if !ok {
		respondError(w, http.StatusNotFound, "Unknown entity type")
		return
	}

	var payload backend.Record
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if id != "" {
		payload["id"] = id
	}

	result, err := r.arbiter.Write(req.Context(), entity, op, payload)
	if err != nil {
		respondClassified(w, err)
		return
	}

	status := http.StatusOK
	if op == models.OperationCreate {
		status = http.StatusCreated
	}
	respondJSON(w, status, result)
}
