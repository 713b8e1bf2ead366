package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/server/auth"
	"github.com/dmitrijs2005/docshare/internal/server/services"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type registerResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type mfaLoginRequest struct {
	Code          string `json:"code" validate:"required,max=32"`
	UseBackupCode bool   `json:"useBackupCode"`
}

type loginResponse struct {
	MFARequired bool      `json:"mfaRequired"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type sessionResponse struct {
	AccountID    string    `json:"accountId"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
	MFAVerified  bool      `json:"mfaVerified"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	acc, err := s.deps.Accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info(r.Context(), "Registered", "account_id", acc.ID)
	writeJSON(w, http.StatusCreated, registerResponse{ID: acc.ID, Email: acc.Email})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Login.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLoginResult(w, res)
}

func (s *Server) completeMFA(w http.ResponseWriter, r *http.Request) {
	pending, ok := s.deps.Sessions.Decode(s.carrier(r), s.deps.Clock.Now()).(auth.MFAPending)
	if !ok {
		s.writeError(w, r, common.ErrorUnauthorized)
		return
	}

	var req mfaLoginRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Login.CompleteMFA(r.Context(), pending, req.Code, req.UseBackupCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLoginResult(w, res)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.deps.Login.Logout(r.Context(), s.carrier(r))
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeLoginResult(w http.ResponseWriter, res *services.LoginResult) {
	s.setSessionCookie(w, res.Carrier, res.MaxAge)
	body := loginResponse{MFARequired: res.MFARequired()}
	if res.Pending != nil {
		body.ExpiresAt = res.Pending.ExpiresAt
	} else {
		body.ExpiresAt = s.deps.Sessions.ExpiresAt(*res.Session)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionBody(sessionFrom(r.Context())))
}

func (s *Server) extendSession(w http.ResponseWriter, r *http.Request) {
	now := s.deps.Clock.Now()
	carrier, sess, err := s.deps.Sessions.Extend(r.Context(), sessionFrom(r.Context()), now)
	if err != nil {
		s.clearSessionCookie(w)
		s.writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, carrier, s.deps.Sessions.CookieMaxAge(sess, now))
	writeJSON(w, http.StatusOK, s.sessionBody(sess))
}

func (s *Server) sessionBody(sess auth.Session) sessionResponse {
	return sessionResponse{
		AccountID:    sess.AccountID,
		Email:        sess.Email,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		ExpiresAt:    s.deps.Sessions.ExpiresAt(sess),
		MFAVerified:  sess.MFAVerified,
	}
}
