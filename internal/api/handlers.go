// Package api is the read-side HTTP surface: health, engine stats and
// persisted workspace content. Real-time traffic never goes through here.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"inkwell/internal/gateway"
	"inkwell/internal/persist"
)

type API struct {
	gateway *gateway.Gateway
	store   *persist.Store
}

func New(gw *gateway.Gateway, store *persist.Store) *API {
	return &API{
		gateway: gw,
		store:   store,
	}
}

// Router builds the management routes.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
	r.HandleFunc("/api/stats", a.StatsHandler).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/files", a.ListFilesHandler).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/files/{path:.*}/history", a.HistoryHandler).Methods("GET")
	r.HandleFunc("/api/workspaces/{id}/files/{path:.*}", a.FileContentHandler).Methods("GET")
	return r
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":    a.gateway.RoomCount(),
		"active_sessions": a.gateway.SessionCount(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		storeStats, err := a.store.Stats(r.Context())
		if err == nil {
			for k, v := range storeStats {
				stats[k] = v
			}
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

func (a *API) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]

	files, err := a.store.ListFiles(r.Context(), workspaceID)
	if err != nil {
		log.Printf("Error listing files for workspace %s: %v", workspaceID, err)
		errorResponse(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	if files == nil {
		files = []persist.FileInfo{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"workspace_id": workspaceID,
		"files":        files,
	})
}

type fileContentResponse struct {
	WorkspaceID string `json:"workspace_id"`
	Path        string `json:"path"`
	Content     string `json:"content"`
	Live        bool   `json:"live"`
}

func (a *API) FileContentHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workspaceID, path := vars["id"], vars["path"]

	// An active room's in-memory text wins over the last persisted save.
	if content, ok := a.gateway.LiveText(workspaceID, path); ok {
		jsonResponse(w, http.StatusOK, fileContentResponse{
			WorkspaceID: workspaceID,
			Path:        path,
			Content:     content,
			Live:        true,
		})
		return
	}

	content, err := a.store.Load(r.Context(), workspaceID, path)
	if errors.Is(err, persist.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		log.Printf("Error loading %s/%s: %v", workspaceID, path, err)
		errorResponse(w, http.StatusInternalServerError, "failed to load file")
		return
	}

	jsonResponse(w, http.StatusOK, fileContentResponse{
		WorkspaceID: workspaceID,
		Path:        path,
		Content:     content,
	})
}

func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workspaceID, path := vars["id"], vars["path"]

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 500 {
			errorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	records, err := a.store.History(r.Context(), workspaceID, path, limit)
	if err != nil {
		log.Printf("Error loading history for %s/%s: %v", workspaceID, path, err)
		errorResponse(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if records == nil {
		records = []persist.SaveRecord{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"workspace_id": workspaceID,
		"path":         path,
		"saves":        records,
	})
}

// CORSMiddleware mirrors the browser-facing defaults the editor frontend
// expects.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
