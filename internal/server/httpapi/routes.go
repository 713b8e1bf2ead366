package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestInfo)

	api := r.PathPrefix("/api").Subrouter()

	authR := api.PathPrefix("/auth").Subrouter()
	authR.Use(s.rateLimited)
	authR.HandleFunc("/register", s.register).Methods(http.MethodPost)
	authR.HandleFunc("/login", s.login).Methods(http.MethodPost)
	authR.HandleFunc("/mfa", s.completeMFA).Methods(http.MethodPost)
	authR.HandleFunc("/logout", s.logout).Methods(http.MethodPost)

	api.HandleFunc("/session", s.requireSession(s.session)).Methods(http.MethodGet)
	api.HandleFunc("/session/extend", s.requireSession(s.extendSession)).Methods(http.MethodPost)

	api.HandleFunc("/mfa", s.requireSession(s.mfaStatus)).Methods(http.MethodGet)
	api.HandleFunc("/mfa/setup", s.requireSession(s.mfaSetup)).Methods(http.MethodPost)
	api.HandleFunc("/mfa/setup/complete", s.requireSession(s.mfaCompleteSetup)).Methods(http.MethodPost)
	api.HandleFunc("/mfa/disable", s.requireSession(s.mfaDisable)).Methods(http.MethodPost)
	api.HandleFunc("/mfa/backup-codes", s.requireSession(s.mfaBackupCodes)).Methods(http.MethodPost)

	api.HandleFunc("/documents", s.requireSession(s.listDocuments)).Methods(http.MethodGet)
	api.HandleFunc("/documents", s.requireSession(s.uploadDocument)).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}", s.requireSession(s.getDocument)).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", s.requireSession(s.deleteDocument)).Methods(http.MethodDelete)
	api.HandleFunc("/documents/{id}/download", s.requireSession(s.downloadDocument)).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/shares", s.requireSession(s.listShares)).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/shares", s.requireSession(s.share)).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/shares/{userID}", s.requireSession(s.revoke)).Methods(http.MethodDelete)

	api.HandleFunc("/shared-with-me", s.requireSession(s.sharedWithMe)).Methods(http.MethodGet)
	api.HandleFunc("/audit/me", s.requireSession(s.auditHistory)).Methods(http.MethodGet)

	return r
}
