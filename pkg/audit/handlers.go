package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// Handlers provides HTTP handlers for the audit query API
type Handlers struct {
	query *QueryService
}

// NewHandlers creates new audit handlers
func NewHandlers(query *QueryService) *Handlers {
	return &Handlers{
		query: query,
	}
}

// RegisterRoutes registers audit query routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/records", h.listRecords).Methods("GET")
	router.HandleFunc("/audit/records/{id}", h.getRecord).Methods("GET")
	router.HandleFunc("/audit/entities/{entityType}/{entityID}/history", h.entityHistory).Methods("GET")
	router.HandleFunc("/audit/export", h.exportRecords).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
}

// listRecords handles GET /audit/records
func (h *Handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	filter := h.parseFilter(r)

	records, err := h.query.Query(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"records": records,
		"count":   len(records),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// getRecord handles GET /audit/records/{id}
func (h *Handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid record ID", http.StatusBadRequest)
		return
	}

	record, err := h.query.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if record == nil {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

// entityHistory handles GET /audit/entities/{entityType}/{entityID}/history
func (h *Handlers) entityHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	records, err := h.query.History(r.Context(), vars["entityType"], vars["entityID"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// exportRecords handles GET /audit/export
func (h *Handlers) exportRecords(w http.ResponseWriter, r *http.Request) {
	filter := h.parseFilter(r)

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	data, err := h.query.Export(r.Context(), filter, format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-records.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-records.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-records.json")
	}

	w.Write(data)
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	var startTime, endTime *time.Time

	if startStr := r.URL.Query().Get("start_time"); startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			startTime = &t
		}
	}

	if endStr := r.URL.Query().Get("end_time"); endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			endTime = &t
		}
	}

	stats, err := h.query.GetStats(r.Context(), startTime, endTime)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// parseFilter parses a query filter from URL query parameters
func (h *Handlers) parseFilter(r *http.Request) QueryFilter {
	query := r.URL.Query()
	filter := QueryFilter{}

	if startStr := query.Get("start_time"); startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.StartTime = &t
		}
	}

	if endStr := query.Get("end_time"); endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.EndTime = &t
		}
	}

	filter.EntityType = query.Get("entity_type")
	filter.EntityID = query.Get("entity_id")
	filter.PerformedBy = query.Get("performed_by")

	if actionTypesStr := query.Get("action_types"); actionTypesStr != "" {
		for _, at := range strings.Split(actionTypesStr, ",") {
			at = strings.TrimSpace(at)
			if at != "" {
				filter.ActionTypes = append(filter.ActionTypes, ActionType(at))
			}
		}
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	} else {
		filter.Limit = 100 // Default limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	return filter
}
