package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/access-control/internal/recurrence"
)

func slot(day recurrence.Weekday, start, end string) TimeSlot {
	s, err := recurrence.ParseClock(start)
	if err != nil {
		panic(err)
	}
	e, err := recurrence.ParseClock(end)
	if err != nil {
		panic(err)
	}
	return TimeSlot{Day: day, Start: s, End: e, Active: true}
}

func newTestEngine(repo PermissionRepository, notifier CredentialNotifier, clock *testClock) *PermissionEngine {
	return NewPermissionEngine(repo, nil, notifier, sequentialIDs("perm"), clock.Now)
}

func TestPermissionEngine_Grant(t *testing.T) {
	t.Parallel()

	t.Run("authorizes inside the slot only", func(t *testing.T) {
		t.Parallel()
		engine := newTestEngine(&permissionRepositoryStub{}, nil, newTestClock(referenceTime))
		ctx := context.Background()

		_, err := engine.Grant(ctx, "u1", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "17:00")})
		require.NoError(t, err)

		monday := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
		cases := []struct {
			name string
			at   time.Time
			want bool
		}{
			{"monday 10:00", monday.Add(10 * time.Hour), true},
			{"monday 09:00 inclusive", monday.Add(9 * time.Hour), true},
			{"monday 17:00 exclusive", monday.Add(17 * time.Hour), false},
			{"monday 18:00", monday.Add(18 * time.Hour), false},
			{"tuesday 10:00", monday.Add(34 * time.Hour), false},
			{"next monday 10:00", monday.AddDate(0, 0, 7).Add(10 * time.Hour), true},
		}
		for _, tc := range cases {
			ok, err := engine.IsAuthorized(ctx, "u1", "r1", tc.at)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok, tc.name)
		}

		ok, err := engine.IsAuthorized(ctx, "u1", "other-room", monday.Add(10*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("sequential grants leave one active permission", func(t *testing.T) {
		t.Parallel()
		repo := &permissionRepositoryStub{}
		notifier := &notifierStub{}
		engine := newTestEngine(repo, notifier, newTestClock(referenceTime))
		ctx := context.Background()

		first, err := engine.Grant(ctx, "u1", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "12:00")})
		require.NoError(t, err)
		second, err := engine.Grant(ctx, "u1", "r1", []TimeSlot{slot(recurrence.Tuesday, "09:00", "12:00")})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		all, err := engine.ListForUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.False(t, all[0].Active)
		assert.NotNil(t, all[0].DeactivatedAt)
		assert.True(t, all[1].Active)
		assert.Equal(t, 1, repo.activeCount("u1", "r1"))

		assert.Equal(t, []CredentialChange{
			{UserID: "u1", RoomID: "r1", Reason: ChangeGranted},
			{UserID: "u1", RoomID: "r1", Reason: ChangeGranted},
		}, notifier.snapshot())
	})

	t.Run("uses atomic replacement when offered", func(t *testing.T) {
		t.Parallel()
		repo := &replacingPermissionRepositoryStub{permissionRepositoryStub: &permissionRepositoryStub{}}
		engine := newTestEngine(repo, nil, newTestClock(referenceTime))

		_, err := engine.Grant(context.Background(), "u1", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "12:00")})
		require.NoError(t, err)
		assert.Equal(t, 1, repo.replaceCalls)
	})

	t.Run("rejects invalid slots before any mutation", func(t *testing.T) {
		t.Parallel()
		repo := &permissionRepositoryStub{}
		notifier := &notifierStub{}
		engine := newTestEngine(repo, notifier, newTestClock(referenceTime))

		_, err := engine.Grant(context.Background(), "u1", "r1", []TimeSlot{
			slot(recurrence.Monday, "09:00", "12:00"),
			slot(recurrence.Monday, "12:00", "12:00"),
		})
		require.ErrorIs(t, err, ErrInvalidTimeSlot)
		var slotErr *TimeSlotError
		require.True(t, errors.As(err, &slotErr))
		assert.Equal(t, 1, slotErr.Index)

		_, err = engine.Grant(context.Background(), "u1", "r1", []TimeSlot{{Day: "someday", Start: 1, End: 2, Active: true}})
		assert.ErrorIs(t, err, ErrInvalidTimeSlot)

		_, err = engine.Grant(context.Background(), "u1", "r1", nil)
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Contains(t, vErr.FieldErrors, "time_slots")

		_, err = engine.Grant(context.Background(), "u1", "r1", []TimeSlot{{Day: recurrence.Monday, Start: recurrence.Clock(9, 0, 0), End: recurrence.Clock(17, 0, 0)}})
		require.True(t, errors.As(err, &vErr), "a grant that could never authorize is rejected")
		assert.Equal(t, "at least one time slot must be active", vErr.FieldErrors["time_slots"])

		assert.Empty(t, repo.permissions)
		assert.Empty(t, notifier.snapshot())
	})

	t.Run("rejects unknown users when a directory is configured", func(t *testing.T) {
		t.Parallel()
		users := newUserRepositoryStub(User{ID: "u1", Active: true})
		engine := NewPermissionEngine(&permissionRepositoryStub{}, users, nil, nil, nil)

		_, err := engine.Grant(context.Background(), "ghost", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "10:00")})
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = engine.Grant(context.Background(), "u1", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "10:00")})
		assert.NoError(t, err)
	})

	t.Run("propagates repository failures", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("disk full")
		engine := newTestEngine(&permissionRepositoryStub{saveErr: boom}, nil, newTestClock(referenceTime))

		_, err := engine.Grant(context.Background(), "u1", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "10:00")})
		assert.ErrorIs(t, err, boom)
	})
}

func TestPermissionEngine_Revoke(t *testing.T) {
	t.Parallel()

	notifier := &notifierStub{}
	engine := newTestEngine(&permissionRepositoryStub{}, notifier, newTestClock(referenceTime))
	ctx := context.Background()
	at := time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)

	_, err := engine.Grant(ctx, "u1", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "17:00")})
	require.NoError(t, err)

	first, err := engine.Revoke(ctx, "u1", "r1")
	require.NoError(t, err)
	ok, err := engine.IsAuthorized(ctx, "u1", "r1", at)
	require.NoError(t, err)
	assert.False(t, ok)

	second, err := engine.Revoke(ctx, "u1", "r1")
	require.NoError(t, err)
	ok, err = engine.IsAuthorized(ctx, "u1", "r1", at)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []bool{true, false}, []bool{first, second})
	assert.Len(t, notifier.snapshot(), 2, "grant plus the effective revoke")
}

func TestPermissionEngine_Update(t *testing.T) {
	t.Parallel()

	t.Run("replaces slots through revoke then create", func(t *testing.T) {
		t.Parallel()
		repo := &permissionRepositoryStub{}
		notifier := &notifierStub{}
		engine := newTestEngine(repo, notifier, newTestClock(referenceTime))
		ctx := context.Background()

		original, err := engine.Grant(ctx, "u1", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "17:00")})
		require.NoError(t, err)
		updated, err := engine.Update(ctx, "u1", "r1", []TimeSlot{slot(recurrence.Friday, "08:00", "09:00")})
		require.NoError(t, err)
		assert.NotEqual(t, original.ID, updated.ID)
		assert.Equal(t, 1, repo.activeCount("u1", "r1"))

		ok, err := engine.IsAuthorized(ctx, "u1", "r1", time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = engine.IsAuthorized(ctx, "u1", "r1", time.Date(2024, time.January, 5, 8, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.True(t, ok)

		changes := notifier.snapshot()
		require.Len(t, changes, 2)
		assert.Equal(t, ChangeUpdated, changes[1].Reason)
	})

	t.Run("creates a permission for a fresh pair", func(t *testing.T) {
		t.Parallel()
		repo := &permissionRepositoryStub{}
		notifier := &notifierStub{}
		engine := newTestEngine(repo, notifier, newTestClock(referenceTime))
		ctx := context.Background()

		created, err := engine.Update(ctx, "u1", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "17:00")})
		require.NoError(t, err)
		assert.True(t, created.Active)
		assert.Equal(t, 1, repo.activeCount("u1", "r1"))

		ok, err := engine.IsAuthorized(ctx, "u1", "r1", time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, notifier.snapshot(), 1)
	})

	t.Run("rejects slots that are all inactive", func(t *testing.T) {
		t.Parallel()
		repo := &permissionRepositoryStub{}
		engine := newTestEngine(repo, nil, newTestClock(referenceTime))

		_, err := engine.Update(context.Background(), "u1", "r1", []TimeSlot{{Day: recurrence.Monday, Start: recurrence.Clock(9, 0, 0), End: recurrence.Clock(17, 0, 0)}})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "time_slots")
		assert.Empty(t, repo.permissions)
	})
}

func TestPermissionEngine_UnionSemantics(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(&permissionRepositoryStub{}, nil, newTestClock(referenceTime))
	ctx := context.Background()
	inactive := slot(recurrence.Monday, "06:00", "07:00")
	inactive.Active = false

	_, err := engine.Grant(ctx, "u1", "r1", []TimeSlot{
		slot(recurrence.Monday, "09:00", "12:00"),
		slot(recurrence.Monday, "11:00", "14:00"),
		inactive,
	})
	require.NoError(t, err)

	monday := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for _, hour := range []int{9, 11, 13} {
		ok, err := engine.IsAuthorized(ctx, "u1", "r1", monday.Add(time.Duration(hour)*time.Hour))
		require.NoError(t, err)
		assert.True(t, ok, "hour %d", hour)
	}
	ok, err := engine.IsAuthorized(ctx, "u1", "r1", monday.Add(6*time.Hour+30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "inactive slots never match")
}

func TestPermissionEngine_Location(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	engine := NewPermissionEngineWithOptions(&permissionRepositoryStub{}, nil, nil, nil, nil, PermissionEngineOptions{Location: tokyo})
	ctx := context.Background()

	_, err := engine.Grant(ctx, "u1", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "10:00")})
	require.NoError(t, err)

	ok, err := engine.IsAuthorized(ctx, "u1", "r1", time.Date(2024, time.January, 1, 0, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPermissionEngine_ConcurrentGrants(t *testing.T) {
	t.Parallel()

	repo := &permissionRepositoryStub{}
	engine := newTestEngine(repo, nil, newTestClock(referenceTime))
	ctx := context.Background()

	const callers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := engine.Grant(ctx, "u1", "r1", []TimeSlot{slot(recurrence.Monday, "09:00", "10:00")}); err != nil {
				t.Errorf("grant: %v", err)
			}
			if _, err := engine.Grant(ctx, "u1", "r2", []TimeSlot{slot(recurrence.Monday, "09:00", "10:00")}); err != nil {
				t.Errorf("grant: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, repo.activeCount("u1", "r1"))
	assert.Equal(t, 1, repo.activeCount("u1", "r2"))
	assert.Len(t, repo.permissions, 2*callers)
	assert.Zero(t, engine.locks.size())
}

func TestPermissionEngine_CredentialPayload(t *testing.T) {
	t.Parallel()

	t.Run("fails without active permissions", func(t *testing.T) {
		t.Parallel()
		engine := newTestEngine(&permissionRepositoryStub{}, nil, newTestClock(referenceTime))

		_, err := engine.GenerateCredentialPayload(context.Background(), "u1")
		assert.ErrorIs(t, err, ErrNoActivePermissions)

		data, err := engine.DeliverablePayload(context.Background(), "u1")
		require.NoError(t, err)
		payload, err := JSONCredentialEncoder{}.Decode(data)
		require.NoError(t, err)
		assert.Empty(t, payload.Permissions)
		assert.Equal(t, "u1", payload.UserID)
	})

	t.Run("is byte identical apart from the generation time", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock(referenceTime)
		engine := newTestEngine(&permissionRepositoryStub{}, nil, clock)
		ctx := context.Background()

		_, err := engine.Grant(ctx, "u1", "r2", []TimeSlot{slot(recurrence.Wednesday, "13:00", "15:00"), slot(recurrence.Monday, "09:00", "10:00")})
		require.NoError(t, err)
		_, err = engine.Grant(ctx, "u1", "r1", []TimeSlot{slot(recurrence.Friday, "08:00", "09:00")})
		require.NoError(t, err)

		first, err := engine.GenerateCredentialPayload(ctx, "u1")
		require.NoError(t, err)
		second, err := engine.GenerateCredentialPayload(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		clock.Advance(time.Hour)
		third, err := engine.GenerateCredentialPayload(ctx, "u1")
		require.NoError(t, err)

		a, err := JSONCredentialEncoder{}.Decode(first)
		require.NoError(t, err)
		b, err := JSONCredentialEncoder{}.Decode(third)
		require.NoError(t, err)
		assert.NotEqual(t, a.GeneratedAt, b.GeneratedAt)
		a.GeneratedAt, b.GeneratedAt = "", ""
		assert.Equal(t, a, b)

		require.Len(t, a.Permissions, 2)
		assert.Equal(t, "r1", a.Permissions[0].RoomID)
		assert.Equal(t, recurrence.Monday, a.Permissions[1].TimeSlots[0].Day)
	})
}
