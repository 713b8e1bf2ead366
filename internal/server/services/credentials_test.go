package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"ok", "abcdefg1", false},
		{"too short", "abc1", true},
		{"no digit", "abcdefgh", true},
		{"no letter", "12345678", true},
		{"unicode letters count", "пароль12", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	acc, err := e.creds.Register(ctx, "  Alice@Example.COM ", "correct-horse-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", acc.Email)
	assert.NotEqual(t, "correct-horse-1", acc.PasswordHash)
	assert.Len(t, e.auditor.byAction(models.ActionAccountCreated), 1)

	_, err = e.creds.Register(ctx, "alice@example.com", "correct-horse-1")
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	_, err = e.creds.Register(ctx, "not-an-email", "correct-horse-1")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = e.creds.Register(ctx, "bob@example.com", "short")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestAuthenticate_Success(t *testing.T) {
	e := newEnv(t)
	acc := e.register(t, "alice@example.com")

	res, err := e.creds.Authenticate(context.Background(), "ALICE@example.com", "correct-horse-1")
	require.NoError(t, err)
	assert.Equal(t, AuthOK, res.Status)
	assert.Equal(t, acc.ID, res.Account.ID)
}

func TestAuthenticate_UnknownEmail(t *testing.T) {
	e := newEnv(t)
	e.register(t, "alice@example.com")

	res, err := e.creds.Authenticate(context.Background(), "mallory@example.com", "whatever1")
	require.NoError(t, err)
	assert.Equal(t, AuthInvalid, res.Status)
	assert.Nil(t, res.Account)

	failed := e.auditor.byAction(models.ActionLoginFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, common.UnknownAccountID, failed[0].AccountID)
	assert.Equal(t, "unknown_email", failed[0].Metadata["reason"])
}

func TestAuthenticate_LockoutAfterThreshold(t *testing.T) {
	e := newEnv(t)
	acc := e.register(t, "alice@example.com")
	ctx := context.Background()

	for i := 1; i < e.cfg.LockoutThreshold; i++ {
		res, err := e.creds.Authenticate(ctx, "alice@example.com", "wrong-pass-1")
		require.NoError(t, err)
		assert.Equal(t, AuthInvalid, res.Status, "attempt %d", i)
		assert.Equal(t, i, res.FailedAttempts)
	}

	res, err := e.creds.Authenticate(ctx, "alice@example.com", "wrong-pass-1")
	require.NoError(t, err)
	assert.Equal(t, AuthLocked, res.Status)
	require.NotNil(t, res.LockedUntil)
	assert.Equal(t, t0.Add(e.cfg.LockoutDuration), *res.LockedUntil)

	locked := e.auditor.byAction(models.ActionAccountLocked)
	require.Len(t, locked, 1)
	assert.Equal(t, acc.ID, locked[0].AccountID)

	// The correct password does not help while the lockout is in force.
	e.clock.Advance(e.cfg.LockoutDuration - time.Second)
	res, err = e.creds.Authenticate(ctx, "alice@example.com", "correct-horse-1")
	require.NoError(t, err)
	assert.Equal(t, AuthLocked, res.Status)
	assert.Nil(t, res.Account)

	// Once it lapses the account is usable again and the counter resets.
	e.clock.Advance(2 * time.Second)
	res, err = e.creds.Authenticate(ctx, "alice@example.com", "correct-horse-1")
	require.NoError(t, err)
	assert.Equal(t, AuthOK, res.Status)

	stored, err := e.creds.Account(ctx, acc.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockoutUntil)
}

func TestAuthenticate_FailureAfterLapsedLockoutRestartsCount(t *testing.T) {
	e := newEnv(t)
	e.register(t, "alice@example.com")
	ctx := context.Background()

	for i := 0; i < e.cfg.LockoutThreshold; i++ {
		_, err := e.creds.Authenticate(ctx, "alice@example.com", "wrong-pass-1")
		require.NoError(t, err)
	}
	e.clock.Advance(e.cfg.LockoutDuration + time.Minute)

	res, err := e.creds.Authenticate(ctx, "alice@example.com", "wrong-pass-1")
	require.NoError(t, err)
	assert.Equal(t, AuthInvalid, res.Status)
	assert.Equal(t, 1, res.FailedAttempts)
	assert.Len(t, e.auditor.byAction(models.ActionAccountLocked), 1)
}

func TestAuthenticate_StoreErrorIsNotSuccess(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("db down")
	e.creds.repomanager = &failingAccountsManager{memManager: e.manager(), err: boom}

	res, err := e.creds.Authenticate(context.Background(), "alice@example.com", "correct-horse-1")
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, res)
}

func TestAuthenticate_ParallelFailuresLockOnce(t *testing.T) {
	e := newEnv(t)
	acc := e.register(t, "alice@example.com")
	ctx := context.Background()

	for i := 1; i < e.cfg.LockoutThreshold; i++ {
		_, err := e.creds.Authenticate(ctx, "alice@example.com", "wrong-pass-1")
		require.NoError(t, err)
	}
	require.Empty(t, e.auditor.byAction(models.ActionAccountLocked))

	var (
		wg      sync.WaitGroup
		results = make([]*AuthResult, 2)
		errs    = make([]error, 2)
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.creds.Authenticate(ctx, "alice@example.com", "wrong-pass-2")
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, AuthLocked, results[i].Status)
	}
	assert.Len(t, e.auditor.byAction(models.ActionAccountLocked), 1)

	stored, err := e.creds.Account(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsLocked(e.clock.Now()))
}

func TestAuthenticate_LockDuringResetIsNotSuccess(t *testing.T) {
	e := newEnv(t)
	acc := e.register(t, "alice@example.com")
	ctx := context.Background()

	for i := 1; i < e.cfg.LockoutThreshold; i++ {
		_, err := e.creds.Authenticate(ctx, "alice@example.com", "wrong-pass-1")
		require.NoError(t, err)
	}

	// A parallel wrong password reaches the threshold after this request
	// passed its password check.
	e.creds.repomanager = &interleavedAccountsManager{memManager: e.manager(), beforeReset: func() {
		_, err := memAccounts{e.store}.RecordFailedLogin(ctx, acc.ID, e.clock.Now(), e.cfg.LockoutThreshold, e.cfg.LockoutDuration)
		require.NoError(t, err)
	}}

	res, err := e.creds.Authenticate(ctx, "alice@example.com", "correct-horse-1")
	require.NoError(t, err)
	assert.Equal(t, AuthLocked, res.Status)
	assert.Nil(t, res.Account)
	require.NotNil(t, res.LockedUntil)
	assert.Equal(t, t0.Add(e.cfg.LockoutDuration), *res.LockedUntil)
	assert.Equal(t, "locked", e.auditor.last().Metadata["reason"])

	stored, err := e.creds.Account(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsLocked(e.clock.Now()))
	assert.Equal(t, e.cfg.LockoutThreshold, stored.FailedAttempts)
}
