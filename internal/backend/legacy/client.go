// Package legacy implements the Backend A client: the spreadsheet-backed
// datastore the application is migrating away from. Requests go to a fixed
// base + table id with a bearer API key, and every field name has to be
// translated between the canonical vocabulary and the spreadsheet's own
// French column names, in both directions.
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/courseo-app/courseogo/internal/backend"
	"github.com/courseo-app/courseogo/internal/config"
	"github.com/courseo-app/courseogo/internal/errs"
)

// fieldNames maps canonical field names to legacy column names per table.
// Translation is applied both directions; unmapped fields pass through.
var fieldNames = map[string]map[string]string{
	"commandes": {
		"orderNumber":  "Numéro de commande",
		"status":       "Statut",
		"storeRef":     "Magasin",
		"driverRef":    "Chauffeur",
		"deliveryDate": "Date de livraison",
		"address":      "Adresse de livraison",
		"customerName": "Nom du client",
		"phone":        "Téléphone",
		"notes":        "Notes",
		"tariff":       "Tarif",
		"photoUrl":     "Photo",
	},
	"magasins": {
		"name":    "Nom",
		"address": "Adresse",
		"city":    "Ville",
		"phone":   "Téléphone",
		"email":   "Email",
	},
	"chauffeurs": {
		"name":    "Nom",
		"phone":   "Téléphone",
		"email":   "Email",
		"vehicle": "Véhicule",
	},
	"contacts": {
		"name":  "Nom",
		"email": "Email",
		"phone": "Téléphone",
		"role":  "Rôle",
	},
	"utilisateurs": {
		"email":       "Email",
		"password":    "Mot de passe",
		"displayName": "Nom",
		"role":        "Rôle",
		"storeRef":    "Magasin",
		"driverRef":   "Chauffeur",
	},
}

// recordEnvelope is the wire shape of a single legacy record
type recordEnvelope struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// listEnvelope is the wire shape of a list response
type listEnvelope struct {
	Records []recordEnvelope `json:"records"`
	Offset  string           `json:"offset,omitempty"`
}

// errorEnvelope is the wire shape of a legacy error response
type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the legacy spreadsheet-backed service.
// Construction has no side effects; several components hold their own copy.
type Client struct {
	baseURL string
	baseID  string
	apiKey  string
	tables  map[string]string
	http    *http.Client
}

// NewClient creates a new legacy backend client
func NewClient(cfg config.BackendAConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		baseID:  cfg.BaseID,
		apiKey:  cfg.APIKey,
		tables:  cfg.Tables,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Name identifies this client as Backend A
func (c *Client) Name() string { return "A" }

// tableFor resolves the spreadsheet table name for an entity type
func (c *Client) tableFor(entityType string) string {
	if t, ok := c.tables[entityType]; ok {
		return t
	}
	return entityType
}

// tableURL builds the endpoint for a table, optionally with a record id
func (c *Client) tableURL(entityType, id string) string {
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, c.baseID, url.PathEscape(c.tableFor(entityType)))
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

// toLegacy translates a canonical payload into legacy column names
func toLegacy(entityType string, payload backend.Record) map[string]interface{} {
	names := fieldNames[entityType]
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == "id" {
			continue
		}
		if legacyName, ok := names[k]; ok {
			out[legacyName] = v
		} else {
			out[k] = v
		}
	}
	return out
}

// fromLegacy translates a legacy record into the canonical shape
func fromLegacy(entityType string, env recordEnvelope) backend.Record {
	names := fieldNames[entityType]
	reverse := make(map[string]string, len(names))
	for canonical, legacyName := range names {
		reverse[legacyName] = canonical
	}

	rec := backend.Record{"id": env.ID}
	for k, v := range env.Fields {
		if canonical, ok := reverse[k]; ok {
			rec[canonical] = v
		} else {
			rec[k] = v
		}
	}
	return rec
}

// do executes a request with the bearer API key and decodes errors
func (c *Client) do(ctx context.Context, method, rawURL string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Network("backend A "+method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		var envelope errorEnvelope
		message := strings.TrimSpace(string(raw))
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
			message = envelope.Error.Message
		}
		return errs.FromHTTP(resp.StatusCode, message)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Ping checks reachability with a minimal single-record list
func (c *Client) Ping(ctx context.Context) error {
	u := c.tableURL("commandes", "") + "?maxRecords=1"
	var envelope listEnvelope
	return c.do(ctx, http.MethodGet, u, nil, &envelope)
}

// escapeFormulaValue escapes single quotes for filter formulas
func escapeFormulaValue(v string) string {
	return strings.ReplaceAll(v, "'", "\\'")
}

// buildFormula renders a Query filter into the legacy filter formula syntax
func buildFormula(entityType string, q backend.Query) string {
	if len(q.Filter) == 0 {
		return ""
	}
	names := fieldNames[entityType]
	clauses := make([]string, 0, len(q.Filter))
	for k, v := range q.Filter {
		column := k
		if legacyName, ok := names[k]; ok {
			column = legacyName
		}
		clauses = append(clauses, fmt.Sprintf("{%s}='%s'", column, escapeFormulaValue(v)))
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return "AND(" + strings.Join(clauses, ",") + ")"
}

// List fetches records matching the query
func (c *Client) List(ctx context.Context, entityType string, q backend.Query) ([]backend.Record, error) {
	params := url.Values{}
	if formula := buildFormula(entityType, q); formula != "" {
		params.Set("filterByFormula", formula)
	}
	if q.Limit > 0 {
		params.Set("maxRecords", fmt.Sprintf("%d", q.Limit))
	}

	u := c.tableURL(entityType, "")
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}

	var envelope listEnvelope
	if err := c.do(ctx, http.MethodGet, u, nil, &envelope); err != nil {
		return nil, err
	}

	records := make([]backend.Record, 0, len(envelope.Records))
	for _, env := range envelope.Records {
		records = append(records, fromLegacy(entityType, env))
	}
	return records, nil
}

// Get fetches a single record by id
func (c *Client) Get(ctx context.Context, entityType, id string) (backend.Record, error) {
	var env recordEnvelope
	if err := c.do(ctx, http.MethodGet, c.tableURL(entityType, id), nil, &env); err != nil {
		return nil, err
	}
	return fromLegacy(entityType, env), nil
}

// Create inserts a new record
func (c *Client) Create(ctx context.Context, entityType string, payload backend.Record) (backend.Record, error) {
	body := map[string]interface{}{
		"fields":   toLegacy(entityType, payload),
		"typecast": true,
	}
	var env recordEnvelope
	if err := c.do(ctx, http.MethodPost, c.tableURL(entityType, ""), body, &env); err != nil {
		return nil, err
	}
	return fromLegacy(entityType, env), nil
}

// Update patches fields of an existing record
func (c *Client) Update(ctx context.Context, entityType, id string, payload backend.Record) (backend.Record, error) {
	body := map[string]interface{}{
		"fields":   toLegacy(entityType, payload),
		"typecast": true,
	}
	var env recordEnvelope
	if err := c.do(ctx, http.MethodPatch, c.tableURL(entityType, id), body, &env); err != nil {
		return nil, err
	}
	return fromLegacy(entityType, env), nil
}

// Delete removes a record
func (c *Client) Delete(ctx context.Context, entityType, id string) error {
	return c.do(ctx, http.MethodDelete, c.tableURL(entityType, id), nil, nil)
}

// Login checks credentials against the legacy user table. The spreadsheet
// era stored credentials as plain columns, so login is a filtered lookup.
func (c *Client) Login(ctx context.Context, email, password string) (backend.Record, error) {
	q := backend.Query{
		Filter: map[string]string{
			"email":    email,
			"password": password,
		},
		Limit: 1,
	}
	records, err := c.List(ctx, "utilisateurs", q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errs.New(errs.KindAuthFailed, "invalid credentials")
	}
	return records[0], nil
}
