// Package api exposes the workbench over HTTP and MCP: chat, dataset
// inspection, the knowledge graph, the scraping table, and backup
// import/export.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hargraph/internal/agent"
	"hargraph/internal/backup"
	"hargraph/internal/graph"
	"hargraph/internal/har"
	"hargraph/internal/storage"
	"hargraph/internal/tools"
)

const maxRequestBodySize = 50 << 20 // HAR captures and backups get large

// Chatter abstracts the agent loop for the HTTP layer.
type Chatter interface {
	HandleMessage(ctx context.Context, sess *tools.Session, text string) (agent.Reply, error)
}

// AppDeps holds what the handlers need. NewSession builds a tool session
// over the current dataset; it is called per request so imports and
// selection changes take effect immediately.
type AppDeps struct {
	Store      *storage.Store
	Graph      graph.Store
	Agent      Chatter
	NewSession func() (*tools.Session, error)
	Token      string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat", handleChat(deps))
		r.Get("/chat/history", handleChatHistory(deps))
		r.Get("/entries", handleListEntries(deps))
		r.Post("/entries/import", handleImportHar(deps))
		r.Patch("/entries/{id}", handleSelectEntry(deps))
		r.Get("/graph", handleGetGraph(deps))
		r.Get("/scraping-table", handleScrapingTable(deps))
		r.Get("/backup", handleExportBackup(deps))
		r.Post("/backup", handleImportBackup(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Message string `json:"message"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		sess, err := deps.NewSession()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "building session: %v", err)
			return
		}

		reply, err := deps.Agent.HandleMessage(r.Context(), sess, req.Message)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "chat failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func handleChatHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		msgs, err := deps.Store.ListChatMessages()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading history: %v", err)
			return
		}
		if msgs == nil {
			msgs = []storage.ChatMessage{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	}
}

func handleListEntries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		records, err := deps.Store.ListHarRecords()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading records: %v", err)
			return
		}
		rows := make([]map[string]any, len(records))
		for i, rec := range records {
			rows[i] = map[string]any{
				"index":    rec.Idx,
				"id":       rec.ID,
				"method":   rec.Method,
				"url":      rec.URL,
				"status":   rec.Status,
				"size":     rec.Size,
				"mimeType": rec.MimeType,
				"selected": rec.Selected,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": rows})
	}
}

// handleImportHar replaces the dataset with the entries of an uploaded HAR
// capture.
func handleImportHar(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		records, err := har.Parse(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "parsing HAR: %v", err)
			return
		}

		stored := make([]storage.HarRecord, len(records))
		for i, rec := range records {
			stored[i] = storage.HarRecord{
				Idx:              rec.Index,
				ID:               rec.ID,
				Method:           rec.Method,
				URL:              rec.URL,
				Status:           rec.Status,
				Size:             rec.Size,
				MimeType:         rec.MimeType,
				ResponseBodyText: rec.ResponseBodyText,
			}
		}
		if err := deps.Store.ReplaceHarRecords(stored); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing records: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"imported": len(stored)})
	}
}

type selectRequest struct {
	Selected bool `json:"selected"`
}

func handleSelectEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req selectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Store.SetHarRecordSelected(id, req.Selected); err != nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "record %s: %v", id, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "selected": req.Selected})
	}
}

func handleGetGraph(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		nodes, err := deps.Graph.Nodes()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading nodes: %v", err)
			return
		}
		links, err := deps.Graph.Links()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading links: %v", err)
			return
		}
		if nodes == nil {
			nodes = []graph.Node{}
		}
		if links == nil {
			links = []graph.Link{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "links": links})
	}
}

func handleScrapingTable(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		groups, err := deps.Store.ListScrapingGroups()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading scraping table: %v", err)
			return
		}
		if groups == nil {
			groups = []storage.GroupSummary{}
		}
		rows := make([]map[string]any, len(groups))
		for i, g := range groups {
			rows[i] = map[string]any{
				"sourceTypeKey": g.SourceTypeKey,
				"count":         g.Count,
				"status":        g.Status,
				"filtererJson":  g.FiltererJSON,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": rows})
	}
}

func handleExportBackup(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		doc, err := backup.Export(deps.Store, deps.Graph)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "export failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleImportBackup(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		doc, err := backup.Parse(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := backup.Import(deps.Store, deps.Graph, doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"harEntries":      len(doc.HarEntries),
			"nodes":           len(doc.KnowledgeData.Nodes),
			"links":           len(doc.KnowledgeData.Links),
			"scrapingEntries": len(doc.ScrapingEntries),
			"chatMessages":    len(doc.ChatHistory),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
