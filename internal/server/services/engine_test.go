package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/server/auth"
)

func TestIssuePair_RecordsRefreshToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{IP: "10.0.0.1", Agent: "curl/8"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, f.clock.Now().Add(testRefreshTTL), pair.RefreshExpiresAt)

	rec, err := f.repos.RefreshTokens().Lookup(ctx, f.jti(t, pair.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, "acc-1", rec.AccountID)
	assert.Empty(t, rec.ParentJTI)
	assert.False(t, rec.Revoked)
	assert.Equal(t, "10.0.0.1", rec.ClientIP)
	assert.Equal(t, "curl/8", rec.ClientAgent)
	assert.Equal(t, pair.RefreshExpiresAt, rec.ExpiresAt)

	claims, err := f.engine.Authenticate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.AccountID())
	assert.True(t, f.clock.Now().Add(testAccessTTL).Equal(claims.ExpiresAt.Time))

	assert.Equal(t, 2.0, f.counter(t, "codex_tokens_issued_total", nil))
}

func TestIssuePair_RecordFailure(t *testing.T) {
	repos := newFaultyManager()
	repos.faults.recordErr = errors.New("connection reset")
	f := newFixture(t, repos)

	_, err := f.engine.IssuePair(context.Background(), "acc-1", ClientInfo{})
	require.ErrorIs(t, err, common.ErrUpstreamUnavailable)

	repos.faults.recordErr = common.ErrDuplicateJti
	_, err = f.engine.IssuePair(context.Background(), "acc-1", ClientInfo{})
	require.ErrorIs(t, err, common.ErrorInternal)
	require.ErrorIs(t, err, common.ErrDuplicateJti)
}

func TestIssuePair_AccountGone(t *testing.T) {
	repos := newFaultyManager()
	f := newFixture(t, repos)
	ctx := context.Background()

	pair, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)

	repos.faults.recordErr = fmt.Errorf("%w: account acc-1", common.ErrorNotFound)

	_, err = f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	require.NotErrorIs(t, err, common.ErrUpstreamUnavailable)

	_, err = f.engine.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, common.ErrRefreshTokenInvalid)
	assert.Equal(t, common.RefreshAccountGone, common.RefreshReason(err))
	require.NotErrorIs(t, err, common.ErrUpstreamUnavailable)
}

func TestRefresh_RotationAndReplay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	r1, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	r2, err := f.engine.Refresh(ctx, r1.RefreshToken, ClientInfo{IP: "10.0.0.2"})
	require.NoError(t, err)
	assert.NotEqual(t, r1.RefreshToken, r2.RefreshToken)

	old, err := f.repos.RefreshTokens().Lookup(ctx, f.jti(t, r1.RefreshToken))
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.RevokedAt)
	assert.Equal(t, f.clock.Now(), *old.RevokedAt)

	next, err := f.repos.RefreshTokens().Lookup(ctx, f.jti(t, r2.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, old.JTI, next.ParentJTI)
	assert.Equal(t, "10.0.0.2", next.ClientIP)

	// presenting R1 again is a replay
	_, err = f.engine.Refresh(ctx, r1.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, common.ErrRefreshTokenInvalid)
	assert.Equal(t, common.RefreshRevoked, common.RefreshReason(err))
	assert.Equal(t, 1.0, f.counter(t, "codex_refresh_replay_total", nil))

	// the replay does not take R2 down with it
	r3, err := f.engine.Refresh(ctx, r2.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.NotEmpty(t, r3.RefreshToken)

	assert.Equal(t, 2.0, f.counter(t, "codex_refresh_total", map[string]string{"outcome": "ok"}))
	assert.Equal(t, 1.0, f.counter(t, "codex_refresh_total", map[string]string{"outcome": "revoked"}))
}

func TestRefresh_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)

	const n = 32
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		invalid atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.Refresh(ctx, pair.RefreshToken, ClientInfo{})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, common.ErrRefreshTokenInvalid):
				invalid.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), invalid.Load())
}

func TestRefresh_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)

	foreign, err := auth.NewSigner([]byte("some-other-secret"), auth.WithClock(f.clock.Now))
	require.NoError(t, err)
	forged, _, err := foreign.Mint("acc-1", common.TokenTypeRefresh, time.Hour, nil)
	require.NoError(t, err)

	unrecorded, _, err := f.signer.Mint("acc-1", common.TokenTypeRefresh, time.Hour, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		reason common.RefreshFailure
	}{
		{name: "empty", token: "", reason: common.RefreshMalformed},
		{name: "garbage", token: "not.a.jwt", reason: common.RefreshMalformed},
		{name: "access token", token: pair.AccessToken, reason: common.RefreshWrongType},
		{name: "foreign signature", token: forged, reason: common.RefreshSignature},
		{name: "no ledger record", token: unrecorded, reason: common.RefreshMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Refresh(ctx, tt.token, ClientInfo{})
			require.ErrorIs(t, err, common.ErrRefreshTokenInvalid)
			assert.Equal(t, tt.reason, common.RefreshReason(err))
		})
	}

	// none of the rejections consumed the legitimate token
	_, err = f.engine.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	require.NoError(t, err)
}

func TestRefresh_Expired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)

	f.clock.Advance(testRefreshTTL + time.Second)

	_, err = f.engine.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, common.ErrRefreshTokenInvalid)
	assert.Equal(t, common.RefreshExpired, common.RefreshReason(err))
}

func TestRefresh_FailedWriteKeepsPresentedToken(t *testing.T) {
	repos := newFaultyManager()
	f := newFixture(t, repos)
	ctx := context.Background()

	pair, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)

	repos.faults.recordErr = errors.New("disk full")
	_, err = f.engine.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, common.ErrUpstreamUnavailable)
	require.NotErrorIs(t, err, common.ErrRefreshTokenInvalid)

	rec, err := f.repos.RefreshTokens().Lookup(ctx, f.jti(t, pair.RefreshToken))
	require.NoError(t, err)
	assert.False(t, rec.Revoked)

	repos.faults.recordErr = nil
	_, err = f.engine.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	require.NoError(t, err)
}

func TestRefresh_ConsumeFailure(t *testing.T) {
	repos := newFaultyManager()
	f := newFixture(t, repos)
	ctx := context.Background()

	pair, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)

	repos.faults.consumeErr = context.DeadlineExceeded
	_, err = f.engine.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, common.ErrUpstreamUnavailable)
	assert.Equal(t, 1.0, f.counter(t, "codex_refresh_total", map[string]string{"outcome": "error"}))
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)

	f.engine.Logout(ctx, pair.RefreshToken)
	f.engine.Logout(ctx, pair.RefreshToken)
	f.engine.Logout(ctx, "garbage")
	f.engine.Logout(ctx, "")
	f.engine.Logout(ctx, pair.AccessToken)

	_, err = f.engine.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, common.ErrRefreshTokenInvalid)
	assert.Equal(t, 5.0, f.counter(t, "codex_logout_total", nil))
}

func TestLogout_StorageFailureIsSwallowed(t *testing.T) {
	repos := newFaultyManager()
	f := newFixture(t, repos)
	ctx := context.Background()

	pair, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)

	repos.faults.revokeErr = errors.New("connection refused")
	assert.NotPanics(t, func() { f.engine.Logout(ctx, pair.RefreshToken) })
}

func TestRevokeAccountAndPurge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)
	b, err := f.engine.IssuePair(ctx, "acc-1", ClientInfo{})
	require.NoError(t, err)
	other, err := f.engine.IssuePair(ctx, "acc-2", ClientInfo{})
	require.NoError(t, err)
	otherJTI := f.jti(t, other.RefreshToken)

	n, err := f.engine.RevokeAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, p := range []*TokenPair{a, b} {
		_, err := f.engine.Refresh(ctx, p.RefreshToken, ClientInfo{})
		require.ErrorIs(t, err, common.ErrRefreshTokenInvalid)
	}

	f.clock.Advance(testRefreshTTL + 48*time.Hour)

	purged, err := f.engine.Purge(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)

	_, err = f.repos.RefreshTokens().Lookup(ctx, otherJTI)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, nil)

	pair, err := f.engine.IssuePair(context.Background(), "acc-1", ClientInfo{})
	require.NoError(t, err)

	_, err = f.engine.Authenticate(pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	f.clock.Advance(testAccessTTL + time.Second)
	_, err = f.engine.Authenticate(pair.AccessToken)
	require.ErrorIs(t, err, common.ErrorUnauthorized)
}
