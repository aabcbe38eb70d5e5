package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/kozaktomas/doorbell-identify/internal/config"
	"github.com/kozaktomas/doorbell-identify/internal/database"
	"github.com/kozaktomas/doorbell-identify/internal/identify"
)

// Error messages for malformed identification requests. The wording is part
// of the API contract.
const (
	errMissingParameters = "Missing required parameters"
	errIDsNotAList       = "'allowed_visitor_ids' must be a list"
)

// Identifier runs one identification request end to end.
type Identifier interface {
	Identify(ctx context.Context, newImagesPath, knownVisitorsPath string, allowedIDs []string) (*identify.Result, error)
}

// IdentifyRequest is the body of POST /identify_secure. Pointer and raw
// fields distinguish "absent" from "present but wrong type".
type IdentifyRequest struct {
	NewImagesPath     *string         `json:"new_images_path"`
	KnownVisitorsPath *string         `json:"known_visitors_path"`
	AllowedVisitorIDs json.RawMessage `json:"allowed_visitor_ids"`
}

// IdentifyHandler handles the identification endpoint.
type IdentifyHandler struct {
	config      *config.Config
	service     Identifier
	auditWriter database.AuditWriter
}

// NewIdentifyHandler creates a new identification handler. The audit writer
// is optional; without a database the endpoint works but nothing is recorded.
func NewIdentifyHandler(cfg *config.Config, service Identifier) *IdentifyHandler {
	h := &IdentifyHandler{
		config:  cfg,
		service: service,
	}
	if writer, err := database.GetAuditWriter(context.Background()); err == nil {
		h.auditWriter = writer
	}
	return h
}

// IdentifySecure handles POST /identify_secure. It loads enrollments for the
// allow-listed visitor IDs, scans the new images, and reports the first
// matching visitor or "Unknown".
func (h *IdentifyHandler) IdentifySecure(w http.ResponseWriter, r *http.Request) {
	var req IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errMissingParameters)
		return
	}

	// An explicit JSON null decodes into a non-nil RawMessage holding "null";
	// treat it the same as an absent field.
	if req.NewImagesPath == nil || req.KnownVisitorsPath == nil ||
		req.AllowedVisitorIDs == nil || string(req.AllowedVisitorIDs) == "null" {
		respondError(w, http.StatusBadRequest, errMissingParameters)
		return
	}

	allowedIDs, ok := parseAllowedIDs(req.AllowedVisitorIDs)
	if !ok {
		respondError(w, http.StatusBadRequest, errIDsNotAList)
		return
	}

	log.Printf("identification request: %d allowed ID(s), probes in %s",
		len(allowedIDs), sanitizeForLog(*req.NewImagesPath))

	result, err := h.service.Identify(r.Context(), *req.NewImagesPath, *req.KnownVisitorsPath, allowedIDs)
	if err != nil {
		log.Printf("identification failed: %v", err)
		respondError(w, http.StatusInternalServerError, "identification failed")
		return
	}

	h.recordAudit(r.Context(), &req, allowedIDs, result)
	respondJSON(w, http.StatusOK, result)
}

// recordAudit stores the outcome in the audit log. Failures are logged, not
// surfaced; the identification already succeeded.
func (h *IdentifyHandler) recordAudit(ctx context.Context, req *IdentifyRequest, allowedIDs []string, result *identify.Result) {
	if h.auditWriter == nil {
		return
	}

	event := &database.AuditEvent{
		NewImagesPath:  *req.NewImagesPath,
		LibraryPath:    *req.KnownVisitorsPath,
		AllowedIDs:     allowedIDs,
		Identification: result.Identification,
		Reason:         result.Reason,
		MatchedFile:    result.MatchedFile,
		ProbeEmbedding: result.ProbeEmbedding,
	}
	if err := h.auditWriter.RecordEvent(ctx, event); err != nil {
		log.Printf("failed to record audit event: %v", err)
	}
}

// parseAllowedIDs accepts a JSON array of strings or numbers and renders each
// element as an opaque label. Anything that is not an array is rejected.
func parseAllowedIDs(raw json.RawMessage) ([]string, bool) {
	var elements []any
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, false
	}

	ids := make([]string, 0, len(elements))
	for _, el := range elements {
		switch v := el.(type) {
		case string:
			ids = append(ids, v)
		case float64:
			// JSON numbers arrive as float64; integral IDs like 7 must
			// render as "7", not "7.000000".
			ids = append(ids, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			// Booleans, objects and nested arrays are not visitor IDs.
			return nil, false
		}
	}
	return ids, true
}
