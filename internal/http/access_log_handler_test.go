package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessLogHandler(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	student, token := api.student(t)
	other, otherToken := api.student(t)

	denied := false
	inputs := []accessLogRequest{
		{UserID: student.ID, RoomID: "lab-1", Timestamp: "2024-01-01T09:00:00Z"},
		{UserID: student.ID, RoomID: "lab-2", Timestamp: "2024-01-01T09:30:00Z", AccessGranted: &denied, DeviceID: "door-7"},
		{UserID: other.ID, RoomID: "lab-1", Timestamp: "2024-01-01T10:00:00Z"},
	}
	for _, in := range inputs {
		rec := api.do(t, http.MethodPost, "/access-logs", api.managerToken, in)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	t.Run("create defaults", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/access-logs", api.managerToken, accessLogRequest{UserID: other.ID, RoomID: "lab-3"})
		require.Equal(t, http.StatusCreated, rec.Code)
		event := decodeResponse[accessEventResponse](t, rec).Event
		assert.Equal(t, "granted", event.Outcome)
		assert.Equal(t, formatTime(api.env.Clock.Now()), event.Timestamp)
	})

	t.Run("list filters newest first", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/access-logs?room_id=lab-1", api.managerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		events := decodeResponse[listAccessEventsResponse](t, rec).Events
		require.Len(t, events, 2)
		assert.Equal(t, other.ID, events[0].UserID)
		assert.Equal(t, student.ID, events[1].UserID)

		rec = api.do(t, http.MethodGet, "/access-logs?outcome=denied", api.managerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		events = decodeResponse[listAccessEventsResponse](t, rec).Events
		require.Len(t, events, 1)
		assert.Equal(t, "door-7", events[0].DeviceID)

		rec = api.do(t, http.MethodGet, "/access-logs?limit=1", api.managerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeResponse[listAccessEventsResponse](t, rec).Events, 1)

		from := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC).Format(time.RFC3339)
		rec = api.do(t, http.MethodGet, "/access-logs/room/lab-1?from="+from, api.managerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeResponse[listAccessEventsResponse](t, rec).Events, 1)
	})

	t.Run("invalid query parameters", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/access-logs?limit=-3&from=noon", api.managerToken, nil)
		resp := requireErrorCode(t, rec, http.StatusBadRequest, "VALIDATION_FAILED")
		assert.Contains(t, resp.Errors, "limit")
		assert.Contains(t, resp.Errors, "from")

		rec = api.do(t, http.MethodGet, "/access-logs?outcome=maybe", api.managerToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("users see only their own events", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/access-logs/user/"+student.ID, token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeResponse[listAccessEventsResponse](t, rec).Events, 2)

		rec = api.do(t, http.MethodGet, "/access-logs/user/"+student.ID, otherToken, nil)
		requireErrorCode(t, rec, http.StatusForbidden, "AUTH_FORBIDDEN")

		rec = api.do(t, http.MethodGet, "/access-logs", token, nil)
		requireErrorCode(t, rec, http.StatusForbidden, "AUTH_FORBIDDEN")

		rec = api.do(t, http.MethodGet, "/access-logs/room/lab-1", token, nil)
		requireErrorCode(t, rec, http.StatusForbidden, "AUTH_FORBIDDEN")
	})
}
