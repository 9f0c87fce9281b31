package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthority(clock *testClock, users map[string]string) *SessionAuthority {
	verifier := verifierFunc(func(_ context.Context, username, _ string) (string, error) {
		if id, ok := users[username]; ok {
			return id, nil
		}
		return "", ErrInvalidCredentials
	})
	return NewSessionAuthority(verifier, sequentialTokens("token"), clock.Now, 30*time.Minute)
}

func TestSessionAuthority_Authenticate(t *testing.T) {
	t.Parallel()

	t.Run("issues sessions bounded by the ttl", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock(referenceTime)
		authority := newTestAuthority(clock, map[string]string{"ada@example.com": "user-1"})

		session, err := authority.Authenticate(context.Background(), "ada@example.com", "whatever")
		require.NoError(t, err)
		assert.Equal(t, "user-1", session.UserID)
		assert.Equal(t, "token-001", session.Token)
		assert.True(t, session.Active)
		assert.Equal(t, referenceTime, session.CreatedAt)
		assert.Equal(t, referenceTime.Add(30*time.Minute), session.ExpiresAt)
		assert.Equal(t, 1, authority.Count())
	})

	t.Run("rejects unknown users", func(t *testing.T) {
		t.Parallel()
		authority := newTestAuthority(newTestClock(referenceTime), nil)

		_, err := authority.Authenticate(context.Background(), "ghost@example.com", "pw")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Zero(t, authority.Count())
	})

	t.Run("propagates token generation failures", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("entropy exhausted")
		verifier := verifierFunc(func(context.Context, string, string) (string, error) { return "user-1", nil })
		authority := NewSessionAuthority(verifier, func() (string, error) { return "", boom }, nil, 0)

		_, err := authority.Authenticate(context.Background(), "a", "b")
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, DefaultSessionTTL, authority.TTL())
	})

	t.Run("default tokens are 64 hex characters", func(t *testing.T) {
		t.Parallel()
		token, err := RandomToken()
		require.NoError(t, err)
		assert.Regexp(t, "^[0-9a-f]{64}$", token)
	})
}

func TestSessionAuthority_Validate(t *testing.T) {
	t.Parallel()

	t.Run("round trips the issued session", func(t *testing.T) {
		t.Parallel()
		authority := newTestAuthority(newTestClock(referenceTime), map[string]string{"ada": "user-1"})
		ctx := context.Background()

		issued, err := authority.Authenticate(ctx, "ada", "pw")
		require.NoError(t, err)

		validated, err := authority.Validate(ctx, issued.Token)
		require.NoError(t, err)
		assert.Equal(t, issued.UserID, validated.UserID)

		assert.True(t, authority.Invalidate(ctx, issued.Token))
		_, err = authority.Validate(ctx, issued.Token)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("accepts the exact expiry instant", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock(referenceTime)
		authority := newTestAuthority(clock, map[string]string{"ada": "user-1"})
		ctx := context.Background()

		issued, err := authority.Authenticate(ctx, "ada", "pw")
		require.NoError(t, err)
		clock.Advance(30 * time.Minute)

		_, err = authority.Validate(ctx, issued.Token)
		assert.NoError(t, err)
	})

	t.Run("expired sessions are removed and never resurrected", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock(referenceTime)
		authority := newTestAuthority(clock, map[string]string{"ada": "user-1"})
		ctx := context.Background()

		issued, err := authority.Authenticate(ctx, "ada", "pw")
		require.NoError(t, err)
		clock.Advance(31 * time.Minute)

		_, err = authority.Validate(ctx, issued.Token)
		assert.ErrorIs(t, err, ErrSessionExpired)
		_, err = authority.Validate(ctx, issued.Token)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		_, err = authority.Refresh(ctx, issued.Token)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.Zero(t, authority.Count())
	})
}

func TestSessionAuthority_Refresh(t *testing.T) {
	t.Parallel()

	clock := newTestClock(referenceTime)
	authority := newTestAuthority(clock, map[string]string{"ada": "user-1"})
	ctx := context.Background()

	issued, err := authority.Authenticate(ctx, "ada", "pw")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	refreshed, err := authority.Refresh(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.Token, refreshed.Token)
	assert.Equal(t, clock.Now().Add(30*time.Minute), refreshed.ExpiresAt)

	clock.Advance(20 * time.Minute)
	_, err = authority.Validate(ctx, issued.Token)
	assert.NoError(t, err, "refresh extends the expiry in place")

	clock.Advance(11 * time.Minute)
	_, err = authority.Refresh(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionAuthority_Invalidate(t *testing.T) {
	t.Parallel()

	authority := newTestAuthority(newTestClock(referenceTime), map[string]string{"ada": "user-1", "bob": "user-2"})
	ctx := context.Background()

	first, err := authority.Authenticate(ctx, "ada", "pw")
	require.NoError(t, err)
	_, err = authority.Authenticate(ctx, "ada", "pw")
	require.NoError(t, err)
	other, err := authority.Authenticate(ctx, "bob", "pw")
	require.NoError(t, err)

	assert.Len(t, authority.ActiveSessions(ctx, "user-1"), 2)
	assert.Equal(t, 2, authority.InvalidateAllForUser(ctx, "user-1"))
	assert.Zero(t, authority.InvalidateAllForUser(ctx, "user-1"))
	assert.Empty(t, authority.ActiveSessions(ctx, "user-1"))

	assert.False(t, authority.Invalidate(ctx, first.Token), "already removed")
	assert.True(t, authority.Invalidate(ctx, other.Token))
	assert.False(t, authority.Invalidate(ctx, other.Token))
}

func TestSessionAuthority_SweepExpired(t *testing.T) {
	t.Parallel()

	clock := newTestClock(referenceTime)
	authority := newTestAuthority(clock, map[string]string{"ada": "user-1"})
	ctx := context.Background()

	_, err := authority.Authenticate(ctx, "ada", "pw")
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	fresh, err := authority.Authenticate(ctx, "ada", "pw")
	require.NoError(t, err)

	clock.Advance(25 * time.Minute)
	assert.Equal(t, 1, authority.SweepExpired(ctx))
	assert.Equal(t, 1, authority.Count())

	sessions := authority.ActiveSessions(ctx, "user-1")
	require.Len(t, sessions, 1)
	assert.Equal(t, fresh.Token, sessions[0].Token)
}

func TestSessionAuthority_Concurrency(t *testing.T) {
	t.Parallel()

	clock := newTestClock(referenceTime)
	users := make(map[string]string)
	for i := 0; i < 8; i++ {
		users[fmt.Sprintf("user%d", i)] = fmt.Sprintf("user-%d", i)
	}
	authority := newTestAuthority(clock, users)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				session, err := authority.Authenticate(ctx, fmt.Sprintf("user%d", i), "pw")
				if err != nil {
					t.Errorf("authenticate: %v", err)
					return
				}
				_, _ = authority.Validate(ctx, session.Token)
				authority.SweepExpired(ctx)
				if j%2 == 0 {
					authority.Invalidate(ctx, session.Token)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8*10, authority.Count())
}

func TestSessionAuthority_RunSweeper(t *testing.T) {
	t.Parallel()

	clock := newTestClock(referenceTime)
	authority := newTestAuthority(clock, map[string]string{"ada": "user-1"})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := authority.Authenticate(ctx, "ada", "pw")
	require.NoError(t, err)
	clock.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		authority.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return authority.Count() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
