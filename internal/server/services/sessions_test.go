package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/server/auth"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueSession(t *testing.T, e *env) (string, auth.Session) {
	t.Helper()
	acc := &models.Account{ID: "acc-1", Email: "alice@example.com"}
	carrier, sess, err := e.sessions.Issue(acc, false, e.clock.Now())
	require.NoError(t, err)
	return carrier, sess
}

func TestSession_IssueDecode(t *testing.T) {
	e := newEnv(t)
	carrier, sess := issueSession(t, e)

	st := e.sessions.Decode(carrier, e.clock.Now())
	got, ok := st.(auth.Authenticated)
	require.True(t, ok, "got %T", st)
	assert.Equal(t, sess, got.Session)
	assert.Empty(t, e.auditor.events, "issue audits nothing")

	assert.IsType(t, auth.Anonymous{}, e.sessions.Decode("garbage", e.clock.Now()))
	assert.IsType(t, auth.Anonymous{}, e.sessions.Decode("", e.clock.Now()))
}

func TestSession_PendingCarrier(t *testing.T) {
	e := newEnv(t)
	acc := &models.Account{ID: "acc-1", Email: "alice@example.com"}
	carrier, p, err := e.sessions.IssuePending(acc, e.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, t0.Add(e.cfg.MFAPendingTTL), p.ExpiresAt)

	st := e.sessions.Decode(carrier, e.clock.Now())
	pending, ok := st.(auth.MFAPending)
	require.True(t, ok, "got %T", st)
	assert.Equal(t, "acc-1", pending.AccountID)

	st = e.sessions.Decode(carrier, e.clock.Now().Add(e.cfg.MFAPendingTTL+time.Second))
	assert.IsType(t, auth.Anonymous{}, st)
}

func TestSession_InactivityExpiry(t *testing.T) {
	e := newEnv(t)
	_, sess := issueSession(t, e)
	ctx := context.Background()

	// Exactly at the limit is still alive.
	assert.NoError(t, e.sessions.Validate(ctx, sess, t0.Add(e.cfg.SessionInactivityTimeout)))

	err := e.sessions.Validate(ctx, sess, t0.Add(e.cfg.SessionInactivityTimeout+time.Second))
	require.ErrorIs(t, err, common.ErrSessionExpired)
	var se *SessionExpiredError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ExpiryInactivity, se.Reason)

	expired := e.auditor.byAction(models.ActionSessionExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "inactivity", expired[0].Metadata["reason"])
}

func TestSession_MaxDurationDespiteActivity(t *testing.T) {
	e := newEnv(t)
	_, sess := issueSession(t, e)
	ctx := context.Background()

	now := t0
	step := e.cfg.SessionInactivityTimeout / 2
	for now.Sub(t0) < e.cfg.SessionMaxDuration {
		now = now.Add(step)
		if err := e.sessions.Validate(ctx, sess, now); err != nil {
			var se *SessionExpiredError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, ExpiryMaxDuration, se.Reason)
			assert.True(t, now.Sub(t0) > e.cfg.SessionMaxDuration)
			return
		}
		var err error
		_, sess, err = e.sessions.Touch(sess, now)
		require.NoError(t, err)
	}

	err := e.sessions.Validate(ctx, sess, now.Add(step))
	var se *SessionExpiredError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, ExpiryMaxDuration, se.Reason)
}

func TestSession_CarrierOutlivesMaxDuration(t *testing.T) {
	e := newEnv(t)
	carrier, _ := issueSession(t, e)

	late := t0.Add(e.cfg.SessionMaxDuration + time.Minute)
	st, ok := e.sessions.Decode(carrier, late).(auth.Authenticated)
	require.True(t, ok)

	err := e.sessions.Validate(context.Background(), st.Session, late)
	var se *SessionExpiredError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ExpiryMaxDuration, se.Reason)
}

func TestSession_TouchAndExtend(t *testing.T) {
	e := newEnv(t)
	_, sess := issueSession(t, e)
	ctx := context.Background()

	later := t0.Add(20 * time.Minute)
	carrier, touched, err := e.sessions.Touch(sess, later)
	require.NoError(t, err)
	assert.Equal(t, later, touched.LastActivity)
	assert.Equal(t, sess.CreatedAt, touched.CreatedAt)
	assert.Empty(t, e.auditor.events)

	decoded := e.sessions.Decode(carrier, later).(auth.Authenticated)
	assert.Equal(t, later, decoded.LastActivity)

	_, _, err = e.sessions.Extend(ctx, touched, later.Add(e.cfg.SessionInactivityTimeout+time.Second))
	assert.ErrorIs(t, err, common.ErrSessionExpired)

	_, ext, err := e.sessions.Extend(ctx, touched, later.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, later.Add(10*time.Minute), ext.LastActivity)

	assert.Equal(t, e.cfg.SessionMaxDuration-10*time.Minute, e.sessions.CookieMaxAge(ext, t0.Add(10*time.Minute)))
}

func TestSession_Destroy(t *testing.T) {
	e := newEnv(t)
	carrier, _ := issueSession(t, e)
	ctx := context.Background()

	e.sessions.Destroy(ctx, carrier)
	ev := e.auditor.last()
	assert.Equal(t, models.ActionLogout, ev.Action)
	assert.Equal(t, "acc-1", ev.AccountID)

	e.sessions.Destroy(ctx, "not-a-token")
	ev = e.auditor.last()
	assert.Equal(t, common.UnknownAccountID, ev.AccountID)
	assert.Equal(t, "no_valid_session", ev.Metadata["reason"])
}
