package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/gorilla/mux"
)

const maxUploadBytes = 32 << 20

type shareRequest struct {
	Target    string     `json:"target" validate:"required,max=254"`
	Level     string     `json:"level" validate:"required,oneof=viewer editor"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type revokeResponse struct {
	PreviousLevel models.Level `json:"previousLevel"`
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Documents.ListOwned(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: expected multipart form with a file", common.ErrValidation))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: missing file", common.ErrValidation))
		return
	}
	defer file.Close()

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	doc, err := s.deps.Documents.Upload(r.Context(), sessionFrom(r.Context()), title, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Documents.Get(r.Context(), sessionFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) downloadDocument(w http.ResponseWriter, r *http.Request) {
	link, err := s.deps.Documents.Download(r.Context(), sessionFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Documents.Delete(r.Context(), sessionFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listShares(w http.ResponseWriter, r *http.Request) {
	grants, err := s.deps.Documents.ListShares(r.Context(), sessionFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if grants == nil {
		grants = []*models.DocumentPermission{}
	}
	writeJSON(w, http.StatusOK, grants)
}

func (s *Server) share(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	level, err := models.ParseLevel(req.Level)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %s", common.ErrValidation, err.Error()))
		return
	}

	p, err := s.deps.Sharing.Share(r.Context(), sessionFrom(r.Context()), mux.Vars(r)["id"], req.Target, level, req.ExpiresAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) revoke(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	prev, err := s.deps.Sharing.Revoke(r.Context(), sessionFrom(r.Context()), vars["id"], vars["userID"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{PreviousLevel: prev})
}

func (s *Server) sharedWithMe(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Documents.ListShared(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*models.AccessibleDocument{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) auditHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", common.ErrValidation))
			return
		}
		limit = n
	}

	records, err := s.deps.Audit.History(r.Context(), sessionFrom(r.Context()).AccountID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []models.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
