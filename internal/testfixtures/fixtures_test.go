package testfixtures

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/access-control/internal/application"
	"github.com/example/access-control/internal/gateway"
	"github.com/example/access-control/internal/recurrence"
)

func TestClock(t *testing.T) {
	t.Parallel()

	clock := NewClock(time.Time{})
	assert.True(t, clock.Now().Equal(ReferenceTime()))
	assert.Equal(t, time.Monday, ReferenceTime().Weekday())

	updated := clock.Advance(90 * time.Minute)
	assert.Equal(t, ReferenceTime().Add(90*time.Minute), updated)

	nowFn := clock.NowFunc()
	at := clock.SetWeekly(recurrence.Wednesday, recurrence.Clock(13, 30, 0), nil)
	assert.Equal(t, time.Wednesday, at.Weekday())
	assert.Equal(t, at, nowFn())

	tokyo := time.FixedZone("JST", 9*60*60)
	local := WeekTime(recurrence.Sunday, recurrence.Clock(23, 0, 0), tokyo)
	assert.Equal(t, time.Sunday, local.Weekday())
	assert.Equal(t, 23, local.Hour())
}

func TestIDGenerator(t *testing.T) {
	t.Parallel()

	gen := NewIDGenerator("entity")
	assert.Equal(t, "entity-1", gen.Next())
	assert.Equal(t, "entity-2", gen.NextFunc()())

	gen.Reset("token")
	token, err := gen.TokenFunc()()
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)
}

func TestFixtures(t *testing.T) {
	t.Parallel()

	user := NewUserFixture(AsManager())
	assert.Equal(t, application.RoleFacilityManager, user.Role)
	assert.True(t, user.Principal().IsManager())
	require.NoError(t, application.VerifyPassword(user.Application().PasswordHash, DefaultPassword))

	slots := WeekdaySlots("09:00", "17:00")
	require.Len(t, slots, 5)
	assert.Equal(t, recurrence.Friday, slots[4].Day)
	assert.False(t, InactiveSlot(recurrence.Monday, "09:00", "10:00").Active)
	assert.Panics(t, func() { Slot(recurrence.Monday, "25:00", "26:00") })
}

func TestEnvironmentDeliversGrantsToGateways(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := NewEnvironment(t)

	student := NewUserFixture()
	env.SeedUser(t, student)

	_, err := env.Gateways.Register(ctx, gateway.Gateway{ID: "north", Name: "North", Endpoint: "http://north", RoomIDs: []string{"lab-1"}})
	require.NoError(t, err)

	_, err = env.Permissions.Grant(ctx, student.ID, "lab-1", WeekdaySlots("09:00", "17:00"))
	require.NoError(t, err)

	token := env.Login(t, student)
	session, err := env.Sessions.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, student.ID, session.UserID)

	pushes := env.Flush()
	require.Len(t, pushes, 1)
	assert.Equal(t, "north", pushes[0].GatewayID)

	payload, err := application.JSONCredentialEncoder{}.Decode(pushes[0].Payload)
	require.NoError(t, err)
	require.Len(t, payload.Permissions, 1)
	assert.Len(t, payload.Permissions[0].TimeSlots, 5)
}

func TestSQLiteStoreHelper(t *testing.T) {
	t.Parallel()
	store := NewSQLiteStore(t)
	env := NewEnvironment(t, WithStore(store))

	manager := NewUserFixture(AsManager())
	env.SeedUser(t, manager)

	users, err := env.Users.ListUsers(context.Background(), manager.Principal())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, manager.Email, users[0].Email)
}
