package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/doc-sentinel/internal/engine"
	"github.com/raaihank/doc-sentinel/internal/ingest"
	"github.com/raaihank/doc-sentinel/internal/model"
	"github.com/raaihank/doc-sentinel/internal/overlay"
	"github.com/raaihank/doc-sentinel/internal/redaction"
	"github.com/raaihank/doc-sentinel/internal/store"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeEngineError maps engine errors to status codes
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrEntityNotFound), errors.Is(err, store.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNoDocuments):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":              "doc-sentinel",
		"version":           s.version,
		"ner_enabled":       s.engine.NEREnabled(),
		"heuristic_enabled": s.config.Detection.HeuristicEnabled,
		"rules":             s.config.Detection.Rules,
		"auth_enabled":      s.config.Auth.Enabled,
	}
	if s.hub != nil {
		info["websocket"] = s.hub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

type processRequest struct {
	RawText string `json:"rawText"`
}

// handleProcess starts a new batch from a multipart upload (files + rawText)
// or a JSON body carrying rawText only.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.config.Server.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var (
		inputs  []ingest.Input
		rawText string
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()

		rawText = r.FormValue("rawText")
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot open %s", fh.Filename))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot read %s", fh.Filename))
				return
			}
			inputs = append(inputs, ingest.Input{Name: fh.Filename, Data: data})
		}
	} else {
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		rawText = req.RawText
	}

	summary, err := s.engine.Process(r.Context(), inputs, rawText)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

type restoreRequest struct {
	BatchID string `json:"batchId"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	summary, err := s.engine.Restore(r.Context(), req.BatchID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type documentSummary struct {
	ID           string             `json:"idDoc"`
	OriginalName string             `json:"originalName"`
	Kind         model.DocumentKind `json:"type"`
	Blocks       int                `json:"blocks"`
	Entities     int                `json:"entities"`
	Pending      int                `json:"pending"`
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs := s.engine.Documents()
	out := make([]documentSummary, 0, len(docs))
	for _, d := range docs {
		entities := s.engine.Entities(store.Filter{DocumentID: d.ID})
		out = append(out, documentSummary{
			ID:           d.ID,
			OriginalName: d.OriginalName,
			Kind:         d.Kind,
			Blocks:       len(d.Blocks),
			Entities:     len(entities),
			Pending:      redaction.CountPending(entities),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.Document(mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	mode, err := overlay.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rendering, err := s.engine.Render(mux.Vars(r)["id"], mode)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rendering)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		DocumentID: q.Get("documentId"),
		BlockID:    q.Get("blockId"),
		Status:     model.Status(q.Get("status")),
		Type:       model.PIIType(strings.ToUpper(q.Get("type"))),
	}
	writeJSON(w, http.StatusOK, s.engine.Entities(f))
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine.Entity(mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, action := vars["id"], vars["action"]

	var (
		e   *model.PIIEntity
		err error
	)
	switch action {
	case "approve":
		e, err = s.engine.Approve(r.Context(), id)
	case "reject":
		e, err = s.engine.Reject(r.Context(), id)
	default:
		e, err = s.engine.Toggle(r.Context(), id)
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	s.logger.WithRequestID(getRequestID(r.Context())).Info("Entity reviewed",
		zap.String("entity_id", e.ID),
		zap.String("token", e.Token),
		zap.String("action", action),
		zap.String("status", string(e.Status)),
		zap.String("reviewer", getSubject(r.Context())),
	)
	writeJSON(w, http.StatusOK, e)
}

type nerState struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleNERStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nerState{Enabled: s.engine.NEREnabled()})
}

func (s *Server) handleNERToggle(w http.ResponseWriter, r *http.Request) {
	var req nerState
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.engine.SetNEREnabled(req.Enabled)
	writeJSON(w, http.StatusOK, nerState{Enabled: s.engine.NEREnabled()})
}

// handleExport answers 409 with the blocked result when review is
// incomplete or residual PII was found.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Export(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case redaction.IsBlocking(err):
		writeJSON(w, http.StatusConflict, struct {
			Error string `json:"error"`
			*redaction.Result
		}{Error: err.Error(), Result: res})
	default:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Export failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

type statusResponse struct {
	engine.Status
	BatchID   string `json:"batchId"`
	Pending   int    `json:"pending"`
	CanExport bool   `json:"canExport"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending := s.engine.PendingCount()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    s.engine.Status(),
		BatchID:   s.engine.BatchID(),
		Pending:   pending,
		CanExport: s.engine.BatchID() != "" && pending == 0,
	})
}
