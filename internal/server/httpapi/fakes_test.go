package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/logging"
	"github.com/dmitrijs2005/docshare/internal/server/auth"
	"github.com/dmitrijs2005/docshare/internal/server/config"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/dmitrijs2005/docshare/internal/server/services"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, models.AuditEvent) {}

type fakeAccounts struct {
	registerFn func(email, password string) (*models.Account, error)
}

func (f *fakeAccounts) Register(_ context.Context, email, password string) (*models.Account, error) {
	return f.registerFn(email, password)
}

type fakeLogin struct {
	sessions   *services.SessionService
	clock      *stubClock
	loginErr   error
	mfaPending bool
	completed  *auth.MFAPending
	logouts    []string
}

func (f *fakeLogin) Login(_ context.Context, email, _ string) (*services.LoginResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	acc := &models.Account{ID: "acc-1", Email: email}
	now := f.clock.Now()
	if f.mfaPending {
		carrier, p, err := f.sessions.IssuePending(acc, now)
		if err != nil {
			return nil, err
		}
		return &services.LoginResult{Carrier: carrier, MaxAge: f.sessions.PendingTTL(), Pending: &p}, nil
	}
	carrier, sess, err := f.sessions.Issue(acc, false, now)
	if err != nil {
		return nil, err
	}
	return &services.LoginResult{Carrier: carrier, MaxAge: f.sessions.CookieMaxAge(sess, now), Session: &sess}, nil
}

func (f *fakeLogin) CompleteMFA(_ context.Context, pending auth.MFAPending, code string, _ bool) (*services.LoginResult, error) {
	f.completed = &pending
	if code != "123456" {
		return nil, common.ErrInvalidMFACode
	}
	now := f.clock.Now()
	carrier, sess, err := f.sessions.Issue(&models.Account{ID: pending.AccountID, Email: pending.Email}, true, now)
	if err != nil {
		return nil, err
	}
	return &services.LoginResult{Carrier: carrier, MaxAge: f.sessions.CookieMaxAge(sess, now), Session: &sess}, nil
}

func (f *fakeLogin) Logout(_ context.Context, carrier string) {
	f.logouts = append(f.logouts, carrier)
}

type fakeMFA struct {
	status *services.MFAStatus
	err    error
}

func (f *fakeMFA) Status(context.Context, string) (*services.MFAStatus, error) { return f.status, f.err }
func (f *fakeMFA) InitiateSetup(context.Context, string) (*services.MFASetup, error) {
	return &services.MFASetup{Secret: "JBSWY3DPEHPK3PXP", URL: "otpauth://totp/DocShare:a"}, f.err
}
func (f *fakeMFA) CompleteSetup(_ context.Context, _, _, code string) ([]string, error) {
	if code != "123456" {
		return nil, common.ErrInvalidMFACode
	}
	return []string{"AAAAA-BBBBB"}, nil
}
func (f *fakeMFA) Disable(context.Context, string, string) error { return f.err }
func (f *fakeMFA) RegenerateBackupCodes(context.Context, string, string) ([]string, error) {
	return []string{"CCCCC-DDDDD"}, f.err
}

type fakeDocuments struct {
	allowed  map[string]bool
	uploaded []byte
	title    string
}

func (f *fakeDocuments) check(sess auth.Session, id string) error {
	if !f.allowed[sess.AccountID+"/"+id] {
		return common.ErrPermissionDenied
	}
	return nil
}

func (f *fakeDocuments) Upload(_ context.Context, sess auth.Session, title, contentType string, body io.ReadSeeker, size int64) (*models.Document, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.uploaded, f.title = b, title
	return &models.Document{ID: "doc-new", OwnerID: sess.AccountID, Title: title, ContentType: contentType, SizeBytes: size}, nil
}

func (f *fakeDocuments) Get(_ context.Context, sess auth.Session, id string) (*models.Document, error) {
	if err := f.check(sess, id); err != nil {
		return nil, err
	}
	return &models.Document{ID: id, OwnerID: sess.AccountID, Title: "plan.txt", StorageKey: "secret/key"}, nil
}

func (f *fakeDocuments) Download(_ context.Context, sess auth.Session, id string) (*services.DownloadLink, error) {
	if err := f.check(sess, id); err != nil {
		return nil, err
	}
	return &services.DownloadLink{URL: "https://objects.test/" + id, ExpiresAt: t0.Add(15 * time.Minute)}, nil
}

func (f *fakeDocuments) Delete(_ context.Context, sess auth.Session, id string) error {
	return f.check(sess, id)
}

func (f *fakeDocuments) ListOwned(context.Context, auth.Session) ([]*models.Document, error) {
	return nil, nil
}

func (f *fakeDocuments) ListShared(context.Context, auth.Session) ([]*models.AccessibleDocument, error) {
	return []*models.AccessibleDocument{{Document: models.Document{ID: "doc-1"}, Level: models.LevelViewer}}, nil
}

func (f *fakeDocuments) ListShares(_ context.Context, sess auth.Session, id string) ([]*models.DocumentPermission, error) {
	if err := f.check(sess, id); err != nil {
		return nil, err
	}
	return nil, nil
}

type fakeSharing struct {
	lastLevel   models.Level
	lastSession auth.Session
	requireMFA  bool
	err         error
}

func (f *fakeSharing) authorize(sess auth.Session) error {
	f.lastSession = sess
	if f.requireMFA && !sess.MFAVerified {
		return common.ErrPermissionDenied
	}
	return f.err
}

func (f *fakeSharing) Share(_ context.Context, sess auth.Session, docID, target string, level models.Level, expiresAt *time.Time) (*models.DocumentPermission, error) {
	if err := f.authorize(sess); err != nil {
		return nil, err
	}
	f.lastLevel = level
	return &models.DocumentPermission{DocumentID: docID, UserID: "acc-2", Level: level, GrantedBy: sess.AccountID, ExpiresAt: expiresAt}, nil
}

func (f *fakeSharing) Revoke(_ context.Context, sess auth.Session, _, _ string) (models.Level, error) {
	if err := f.authorize(sess); err != nil {
		return models.LevelNone, err
	}
	return models.LevelEditor, nil
}

type fakeAudit struct {
	records []models.AuditRecord
	err     error
	limit   int
}

func (f *fakeAudit) History(_ context.Context, _ string, limit int) ([]models.AuditRecord, error) {
	f.limit = limit
	return f.records, f.err
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	clock    *stubClock
	cfg      *config.Config
	sessions *services.SessionService
	login    *fakeLogin
	mfa      *fakeMFA
	docs     *fakeDocuments
	sharing  *fakeSharing
	audit    *fakeAudit
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.LoginRateLimit = 1000
	for _, f := range tweak {
		f(cfg)
	}

	clock := &stubClock{now: t0}
	sessions := services.NewSessionService(nopAuditor{}, cfg)
	e := &testEnv{
		clock:    clock,
		cfg:      cfg,
		sessions: sessions,
		login:    &fakeLogin{sessions: sessions, clock: clock},
		mfa:      &fakeMFA{status: &services.MFAStatus{Enabled: true, RemainingBackupCodes: 7}},
		docs:     &fakeDocuments{allowed: map[string]bool{}},
		sharing:  &fakeSharing{},
		audit:    &fakeAudit{},
	}
	e.server = NewServer(cfg, logging.Nop{}, Deps{
		Accounts: &fakeAccounts{registerFn: func(email, _ string) (*models.Account, error) {
			if email == "taken@example.com" {
				return nil, common.ErrAlreadyExists
			}
			return &models.Account{ID: "acc-new", Email: email}, nil
		}},
		Login:     e.login,
		Sessions:  sessions,
		MFA:       e.mfa,
		Documents: e.docs,
		Sharing:   e.sharing,
		Audit:     e.audit,
		Clock:     clock,
	})
	e.handler = e.server.Handler()
	return e
}

// sessionCookie issues a live session for accountID at the current time.
func (e *testEnv) sessionCookie(t *testing.T, accountID string) *http.Cookie {
	t.Helper()
	carrier, _, err := e.sessions.Issue(&models.Account{ID: accountID, Email: accountID + "@example.com"}, false, e.clock.Now())
	require.NoError(t, err)
	return &http.Cookie{Name: common.SessionCookieName, Value: carrier}
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func responseCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == common.SessionCookieName {
			return c
		}
	}
	return nil
}
