package httpapi

import "net/http"

type mfaCompleteRequest struct {
	Secret string `json:"secret" validate:"required,max=128"`
	Code   string `json:"code" validate:"required,len=6,numeric"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

func (s *Server) mfaStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.MFA.Status(r.Context(), sessionFrom(r.Context()).AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) mfaSetup(w http.ResponseWriter, r *http.Request) {
	setup, err := s.deps.MFA.InitiateSetup(r.Context(), sessionFrom(r.Context()).AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (s *Server) mfaCompleteSetup(w http.ResponseWriter, r *http.Request) {
	var req mfaCompleteRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	codes, err := s.deps.MFA.CompleteSetup(r.Context(), sessionFrom(r.Context()).AccountID, req.Secret, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (s *Server) mfaDisable(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.deps.MFA.Disable(r.Context(), sessionFrom(r.Context()).AccountID, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) mfaBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	codes, err := s.deps.MFA.RegenerateBackupCodes(r.Context(), sessionFrom(r.Context()).AccountID, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}
