package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/access-control/internal/recurrence"
)

func newReportFixture(t *testing.T) (*ReportService, *testClock) {
	t.Helper()

	clock := newTestClock(time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC))
	events := &accessEventRepositoryStub{events: []AccessEvent{
		{ID: "e1", Timestamp: time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC), UserID: "u1", RoomID: "r1", Outcome: OutcomeGranted},
		{ID: "e2", Timestamp: time.Date(2024, time.January, 10, 9, 5, 0, 0, time.UTC), UserID: "u2", RoomID: "r1", Outcome: OutcomeDenied},
		{ID: "e3", Timestamp: time.Date(2024, time.January, 11, 9, 0, 0, 0, time.UTC), UserID: "u1", RoomID: "r2", Outcome: OutcomeGranted},
		{ID: "old", Timestamp: time.Date(2023, time.December, 1, 9, 0, 0, 0, time.UTC), UserID: "u1", RoomID: "r2", Outcome: OutcomeDenied},
	}}
	users := newUserRepositoryStub(User{ID: "u1", Active: true}, User{ID: "u2", Active: true})
	deactivated := time.Date(2024, time.January, 9, 0, 0, 0, 0, time.UTC)
	permissions := &permissionRepositoryStub{permissions: []Permission{
		{ID: "p1", UserID: "u1", RoomID: "r1", Active: true, CreatedAt: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), TimeSlots: []TimeSlot{
			slot(recurrence.Monday, "09:00", "12:00"),
			slot(recurrence.Monday, "11:00", "13:00"),
		}},
		{ID: "p0", UserID: "u1", RoomID: "r2", Active: false, CreatedAt: time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC), DeactivatedAt: &deactivated, TimeSlots: []TimeSlot{
			slot(recurrence.Tuesday, "09:00", "10:00"),
		}},
	}}
	devices := deviceSourceStub{
		{DeviceID: "d2", GatewayID: "gw-1", Online: false},
		{DeviceID: "d1", GatewayID: "gw-1", Online: true},
	}
	svc := NewReportService(events, users, permissions, devices, sequentialIDs("rep"), clock.Now, ReportServiceOptions{})
	return svc, clock
}

func TestReportService_Generate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("requires the facility manager role", func(t *testing.T) {
		t.Parallel()
		svc, _ := newReportFixture(t)
		_, err := svc.Generate(ctx, ReportRequest{Principal: student, Type: ReportAccessSummary})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("rejects unknown report types", func(t *testing.T) {
		t.Parallel()
		svc, _ := newReportFixture(t)
		_, err := svc.Generate(ctx, ReportRequest{Principal: manager, Type: "pdf_export"})
		var vErr *ValidationError
		assert.True(t, errors.As(err, &vErr))
	})

	t.Run("summarizes access over the default window", func(t *testing.T) {
		t.Parallel()
		svc, clock := newReportFixture(t)
		report, err := svc.Generate(ctx, ReportRequest{Principal: manager, Type: ReportAccessSummary})
		require.NoError(t, err)
		assert.Equal(t, "rep-001", report.ID)
		assert.Equal(t, clock.Now().Add(-7*24*time.Hour), report.From)

		summary, ok := report.Data.(AccessSummary)
		require.True(t, ok)
		assert.Equal(t, 3, summary.Total)
		assert.Equal(t, 1, summary.Denied)
		assert.Equal(t, []RoomAccessSummary{{RoomID: "r1", Granted: 1, Denied: 1}, {RoomID: "r2", Granted: 1}}, summary.Rooms)
	})

	t.Run("lists denied events as security incidents", func(t *testing.T) {
		t.Parallel()
		svc, _ := newReportFixture(t)
		report, err := svc.Generate(ctx, ReportRequest{Principal: manager, Type: ReportSecurityIncidents, From: time.Date(2023, time.November, 1, 0, 0, 0, 0, time.UTC)})
		require.NoError(t, err)

		incidents := report.Data.(SecurityIncidents)
		assert.Equal(t, 2, incidents.Count)
		assert.Equal(t, "e2", incidents.Events[0].ID)
	})

	t.Run("audits permissions with overlaps and granted hours", func(t *testing.T) {
		t.Parallel()
		svc, _ := newReportFixture(t)
		report, err := svc.Generate(ctx, ReportRequest{
			Principal: manager,
			Type:      ReportPermissionAudit,
			From:      time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
			To:        time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)

		audit := report.Data.(PermissionAudit)
		require.Len(t, audit.Users, 2)
		u1 := audit.Users[0]
		assert.Equal(t, "u1", u1.UserID)
		assert.Equal(t, 1, u1.Active)
		assert.Equal(t, 1, u1.Inactive)
		require.Len(t, u1.Permissions, 2)

		inactive, active := u1.Permissions[0], u1.Permissions[1]
		// Only the Jan 2 Tuesday precedes the Jan 9 deactivation.
		assert.InDelta(t, 1.0, inactive.GrantedHours, 1e-9)
		assert.Equal(t, []recurrence.Overlap{{First: 0, Second: 1}}, active.Overlaps)
		// Mondays Jan 1 and Jan 8, 09:00 to 13:00 once overlaps are merged.
		assert.InDelta(t, 8.0, active.GrantedHours, 1e-9)
		assert.Empty(t, audit.Users[1].Permissions)
	})

	t.Run("snapshots device status", func(t *testing.T) {
		t.Parallel()
		svc, _ := newReportFixture(t)
		report, err := svc.Generate(ctx, ReportRequest{Principal: manager, Type: ReportDeviceStatus})
		require.NoError(t, err)

		status := report.Data.(DeviceStatusReport)
		assert.Equal(t, 1, status.Online)
		assert.Equal(t, 1, status.Offline)
		assert.Equal(t, "d1", status.Devices[0].DeviceID)
	})
}
