package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/dbx"
	"github.com/dmitrijs2005/docshare/internal/server/config"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/archives"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/backupcodes"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/documents"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/permissions"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// --- clock ---

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock { return &stubClock{now: t0} }

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

// --- auditor ---

type recordingAuditor struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *recordingAuditor) Record(_ context.Context, ev models.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAuditor) byAction(action models.AuditAction) []models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditEvent
	for _, ev := range a.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

func (a *recordingAuditor) last() models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

// --- in-memory store behind every repository ---

type memStore struct {
	mu        sync.Mutex
	accounts  map[string]*models.Account
	codes     map[string]map[string]struct{}
	docs      map[string]*models.Document
	perms     map[[2]string]*models.DocumentPermission
	logs      []*models.AuditRecord
	archives  map[string]*models.AuditArchive
	nextLogID int64
	clock     Clock

	insertErr error
	docErr    error
	codesErr  error
}

func newMemStore(clock Clock) *memStore {
	return &memStore{
		accounts: map[string]*models.Account{},
		codes:    map[string]map[string]struct{}{},
		docs:     map[string]*models.Document{},
		perms:    map[[2]string]*models.DocumentPermission{},
		archives: map[string]*models.AuditArchive{},
		clock:    clock,
	}
}

type memManager struct{ s *memStore }

func (m *memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memManager) Accounts(dbx.DBTX) accounts.Repository        { return memAccounts{m.s} }
func (m *memManager) BackupCodes(dbx.DBTX) backupcodes.Repository  { return memCodes{m.s} }
func (m *memManager) Documents(dbx.DBTX) documents.Repository      { return memDocs{m.s} }
func (m *memManager) Permissions(dbx.DBTX) permissions.Repository  { return memPerms{m.s} }
func (m *memManager) AuditLogs(dbx.DBTX) auditlogs.Repository      { return memLogs{m.s} }
func (m *memManager) Archives(dbx.DBTX) archives.Repository        { return memArchives{m.s} }

type memAccounts struct{ s *memStore }

func (r memAccounts) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.accounts {
		if strings.EqualFold(x.Email, a.Email) {
			return nil, common.ErrAlreadyExists
		}
	}
	c := *a
	c.ID = uuid.NewString()
	c.CreatedAt = r.s.clock.Now()
	r.s.accounts[c.ID] = &c
	out := c
	return &out, nil
}

func (r memAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *a
	return &c, nil
}

func (r memAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if strings.EqualFold(a.Email, email) {
			c := *a
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memAccounts) RecordFailedLogin(_ context.Context, id string, now time.Time, threshold int, lockout time.Duration) (*models.FailedLogin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	switch {
	case a.LockoutUntil != nil && a.LockoutUntil.After(now):
		a.FailedAttempts++
	case a.LockoutUntil != nil:
		a.FailedAttempts = 1
		a.LockoutUntil = nil
	default:
		a.FailedAttempts++
	}
	if a.LockoutUntil == nil && a.FailedAttempts >= threshold {
		until := now.Add(lockout)
		a.LockoutUntil = &until
	}
	return &models.FailedLogin{FailedAttempts: a.FailedAttempts, LockoutUntil: a.LockoutUntil}, nil
}

func (r memAccounts) ResetFailedLogins(_ context.Context, id string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok || a.IsLocked(now) {
		return common.ErrAccountLocked
	}
	a.FailedAttempts = 0
	a.LockoutUntil = nil
	return nil
}

func (r memAccounts) EnableMFA(_ context.Context, id string, secret, nonce []byte) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return common.ErrorNotFound
	}
	if a.MFAEnabled {
		return common.ErrMFAAlreadyEnabled
	}
	a.MFAEnabled, a.MFASecret, a.MFASecretNonce = true, secret, nonce
	return nil
}

func (r memAccounts) DisableMFA(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		a.MFAEnabled, a.MFASecret, a.MFASecretNonce = false, nil, nil
	}
	return nil
}

type memCodes struct{ s *memStore }

func (r memCodes) ReplaceAll(_ context.Context, accountID string, hashes []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	r.s.codes[accountID] = set
	return nil
}

func (r memCodes) Consume(_ context.Context, accountID, hash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.codesErr != nil {
		return false, r.s.codesErr
	}
	if _, ok := r.s.codes[accountID][hash]; !ok {
		return false, nil
	}
	delete(r.s.codes[accountID], hash)
	return true, nil
}

func (r memCodes) Count(_ context.Context, accountID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.codes[accountID]), nil
}

func (r memCodes) DeleteAll(_ context.Context, accountID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.codes, accountID)
	return nil
}

type memDocs struct{ s *memStore }

func (r memDocs) Create(_ context.Context, d *models.Document) (*models.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.docErr != nil {
		return nil, r.s.docErr
	}
	c := *d
	c.ID = uuid.NewString()
	r.s.docs[c.ID] = &c
	out := c
	return &out, nil
}

func (r memDocs) GetByID(_ context.Context, id string) (*models.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.docErr != nil {
		return nil, r.s.docErr
	}
	d, ok := r.s.docs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *d
	return &c, nil
}

func (r memDocs) ListByOwner(_ context.Context, ownerID string) ([]*models.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Document
	for _, d := range r.s.docs {
		if d.OwnerID == ownerID {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r memDocs) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.docs[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.docs, id)
	for k := range r.s.perms {
		if k[0] == id {
			delete(r.s.perms, k)
		}
	}
	return nil
}

type memPerms struct{ s *memStore }

func (r memPerms) Upsert(_ context.Context, p *models.DocumentPermission) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := [2]string{p.DocumentID, p.UserID}
	_, existed := r.s.perms[k]
	c := *p
	r.s.perms[k] = &c
	return !existed, nil
}

func (r memPerms) Delete(_ context.Context, documentID, userID string, now time.Time) (models.Level, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := [2]string{documentID, userID}
	p, ok := r.s.perms[k]
	if !ok || !p.Active(now) {
		return models.LevelNone, common.ErrGrantNotFound
	}
	delete(r.s.perms, k)
	return p.Level, nil
}

func (r memPerms) GetActive(_ context.Context, documentID, userID string, now time.Time) (*models.DocumentPermission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.perms[[2]string{documentID, userID}]
	if !ok || !p.Active(now) {
		return nil, common.ErrorNotFound
	}
	c := *p
	return &c, nil
}

func (r memPerms) ListByDocument(_ context.Context, documentID string, now time.Time) ([]*models.DocumentPermission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.DocumentPermission
	for k, p := range r.s.perms {
		if k[0] == documentID && p.Active(now) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r memPerms) ListByUser(_ context.Context, userID string, now time.Time) ([]*models.AccessibleDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.AccessibleDocument
	for k, p := range r.s.perms {
		if k[1] != userID || !p.Active(now) {
			continue
		}
		if d, ok := r.s.docs[k[0]]; ok {
			out = append(out, &models.AccessibleDocument{Document: *d, Level: p.Level, ExpiresAt: p.ExpiresAt})
		}
	}
	return out, nil
}

func (r memPerms) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, p := range r.s.perms {
		if !p.Active(now) {
			delete(r.s.perms, k)
			n++
		}
	}
	return n, nil
}

type memLogs struct{ s *memStore }

func (r memLogs) Insert(_ context.Context, rec *models.AuditRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.insertErr != nil {
		return r.s.insertErr
	}
	r.s.nextLogID++
	c := *rec
	c.ID = r.s.nextLogID
	c.CreatedAt = r.s.clock.Now()
	r.s.logs = append(r.s.logs, &c)
	return nil
}

func (r memLogs) LockUnarchivedBefore(_ context.Context, cutoff time.Time) ([]models.AuditRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.AuditRecord
	for _, l := range r.s.logs {
		if !l.Archived && l.CreatedAt.Before(cutoff) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r memLogs) MarkArchived(_ context.Context, cutoff time.Time, maxID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, l := range r.s.logs {
		if !l.Archived && l.CreatedAt.Before(cutoff) && l.ID <= maxID {
			l.Archived = true
			n++
		}
	}
	return n, nil
}

func (r memLogs) History(_ context.Context, accountID string, limit int) ([]models.AuditRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.AuditRecord
	for _, l := range r.s.logs {
		if l.AccountID == accountID {
			out = append(out, *l)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r memLogs) Stats(_ context.Context, cutoff time.Time) (*models.AuditStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st := &models.AuditStats{ByAction: map[string]int64{}}
	for _, l := range r.s.logs {
		st.Total++
		st.ByAction[string(l.Action)]++
		if !l.Success {
			st.Failed++
		}
		if l.CreatedAt.Before(cutoff) {
			st.OlderThanRetention++
		}
		if l.Archived {
			st.Archived++
		}
	}
	return st, nil
}

type memArchives struct{ s *memStore }

func (r memArchives) Create(_ context.Context, a *models.AuditArchive) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *a
	c.CreatedAt = r.s.clock.Now()
	r.s.archives[c.ID] = &c
	return nil
}

func (r memArchives) GetByID(_ context.Context, id string) (*models.AuditArchive, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.archives[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *a
	c.Records = append([]byte(nil), a.Records...)
	return &c, nil
}

func (r memArchives) Count(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.archives)), nil
}

// --- wiring ---

func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

type env struct {
	db       *sql.DB
	store    *memStore
	clock    *stubClock
	auditor  *recordingAuditor
	cfg      *config.Config
	creds    *CredentialService
	mfa      *MFAService
	sessions *SessionService
	access   *AccessService
	login    *LoginService
}

func newEnv(t *testing.T, tweak ...func(*config.Config)) *env {
	t.Helper()
	cfg := testConfig()
	for _, f := range tweak {
		f(cfg)
	}

	e := &env{db: newTxDB(t), clock: newStubClock(), auditor: &recordingAuditor{}, cfg: cfg}
	e.store = newMemStore(e.clock)
	m := &memManager{s: e.store}

	e.creds = NewCredentialService(e.db, m, e.auditor, cfg, e.clock)
	e.creds.bcryptCost = bcrypt.MinCost
	e.mfa = NewMFAService(e.db, m, e.auditor, e.creds, cfg, e.clock)
	e.sessions = NewSessionService(e.auditor, cfg)
	e.access = NewAccessService(e.db, m, e.auditor, e.clock, cfg.RequireMFA)
	e.login = NewLoginService(e.creds, e.mfa, e.sessions, e.auditor, e.clock)
	return e
}

func (e *env) manager() *memManager { return &memManager{s: e.store} }

func (e *env) register(t *testing.T, email string) *models.Account {
	t.Helper()
	acc, err := e.creds.Register(context.Background(), email, "correct-horse-1")
	require.NoError(t, err)
	return acc
}

func (e *env) addDocument(t *testing.T, ownerID, title string) *models.Document {
	t.Helper()
	d, err := memDocs{e.store}.Create(context.Background(), &models.Document{
		OwnerID: ownerID, Title: title, StorageKey: "documents/" + title, ContentType: "text/plain", SizeBytes: 3, CreatedAt: e.clock.Now(),
	})
	require.NoError(t, err)
	return d
}

type failingAccountsManager struct {
	*memManager
	err error
}

func (m *failingAccountsManager) Accounts(dbx.DBTX) accounts.Repository {
	return failingAccounts{memAccounts: memAccounts{m.s}, err: m.err}
}

type failingAccounts struct {
	memAccounts
	err error
}

func (r failingAccounts) GetByEmail(context.Context, string) (*models.Account, error) {
	return nil, r.err
}

// interleavedAccountsManager runs beforeReset ahead of every counter reset,
// standing in for a request that lands between the password check and
// the reset.
type interleavedAccountsManager struct {
	*memManager
	beforeReset func()
}

func (m *interleavedAccountsManager) Accounts(dbx.DBTX) accounts.Repository {
	return interleavedAccounts{memAccounts: memAccounts{m.s}, beforeReset: m.beforeReset}
}

type interleavedAccounts struct {
	memAccounts
	beforeReset func()
}

func (r interleavedAccounts) ResetFailedLogins(ctx context.Context, id string, now time.Time) error {
	r.beforeReset()
	return r.memAccounts.ResetFailedLogins(ctx, id, now)
}
