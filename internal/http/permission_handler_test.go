package http

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/access-control/internal/application"
)

func mondayNineToFive(userID, roomID string) grantRequest {
	return grantRequest{
		UserID:    userID,
		RoomID:    roomID,
		TimeSlots: []timeSlotDTO{{Day: "monday", Start: "09:00", End: "17:00"}},
	}
}

func TestPermissionHandlerGrantAndAuthorize(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	student, token := api.student(t)
	other, otherToken := api.student(t)

	rec := api.do(t, http.MethodPost, "/permissions", api.managerToken, mondayNineToFive(student.ID, "lab-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	granted := decodeResponse[permissionResponse](t, rec).Permission
	assert.True(t, granted.Active)
	require.Len(t, granted.TimeSlots, 1)
	assert.Equal(t, "mon", granted.TimeSlots[0].Day)
	assert.Equal(t, "09:00:00", granted.TimeSlots[0].Start)

	tests := []struct {
		name string
		at   string
		want bool
	}{
		{name: "inside the window", at: "2024-01-01T10:00:00Z", want: true},
		{name: "start is inclusive", at: "2024-01-01T09:00:00Z", want: true},
		{name: "end is exclusive", at: "2024-01-01T17:00:00Z", want: false},
		{name: "after hours", at: "2024-01-01T18:00:00Z", want: false},
		{name: "other weekday", at: "2024-01-02T10:00:00Z", want: false},
	}
	for _, tc := range tests {
		rec := api.do(t, http.MethodGet, "/permissions/"+student.ID+"/lab-1/authorize?at="+tc.at, token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, tc.want, decodeResponse[authorizeResponse](t, rec).Authorized, tc.name)
	}

	rec = api.do(t, http.MethodGet, "/permissions/"+other.ID+"/lab-1/authorize?at=2024-01-01T10:00:00Z", otherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeResponse[authorizeResponse](t, rec).Authorized, "no grant means no access")

	rec = api.do(t, http.MethodGet, "/permissions/"+student.ID+"/lab-1/authorize", otherToken, nil)
	requireErrorCode(t, rec, http.StatusForbidden, "AUTH_FORBIDDEN")

	rec = api.do(t, http.MethodGet, "/permissions/"+student.ID+"/lab-1/authorize?at=yesterday", token, nil)
	resp := requireErrorCode(t, rec, http.StatusBadRequest, "VALIDATION_FAILED")
	assert.Contains(t, resp.Errors, "at")

	rec = api.do(t, http.MethodPost, "/permissions", token, mondayNineToFive(student.ID, "lab-2"))
	requireErrorCode(t, rec, http.StatusForbidden, "AUTH_FORBIDDEN")
}

func TestPermissionHandlerGrantValidation(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	student, _ := api.student(t)
	inactive := false

	tests := []struct {
		name   string
		req    grantRequest
		status int
		code   string
	}{
		{
			name:   "inverted slot",
			req:    grantRequest{UserID: student.ID, RoomID: "lab-1", TimeSlots: []timeSlotDTO{{Day: "mon", Start: "17:00", End: "09:00"}}},
			status: http.StatusBadRequest,
			code:   "INVALID_TIME_SLOT",
		},
		{
			name:   "unknown day",
			req:    grantRequest{UserID: student.ID, RoomID: "lab-1", TimeSlots: []timeSlotDTO{{Day: "funday", Start: "09:00", End: "10:00"}}},
			status: http.StatusBadRequest,
			code:   "INVALID_TIME_SLOT",
		},
		{
			name:   "bad clock",
			req:    grantRequest{UserID: student.ID, RoomID: "lab-1", TimeSlots: []timeSlotDTO{{Day: "mon", Start: "25:00", End: "26:00"}}},
			status: http.StatusBadRequest,
			code:   "INVALID_TIME_SLOT",
		},
		{
			name:   "no slots",
			req:    grantRequest{UserID: student.ID, RoomID: "lab-1"},
			status: http.StatusBadRequest,
			code:   "VALIDATION_FAILED",
		},
		{
			name:   "every slot inactive",
			req:    grantRequest{UserID: student.ID, RoomID: "lab-1", TimeSlots: []timeSlotDTO{{Day: "mon", Start: "09:00", End: "17:00", Active: &inactive}}},
			status: http.StatusBadRequest,
			code:   "VALIDATION_FAILED",
		},
		{
			name:   "unknown user",
			req:    mondayNineToFive("ghost", "lab-1"),
			status: http.StatusNotFound,
			code:   "USER_NOT_FOUND",
		},
	}
	for _, tc := range tests {
		rec := api.do(t, http.MethodPost, "/permissions", api.managerToken, tc.req)
		requireErrorCode(t, rec, tc.status, tc.code)
	}

	rec := api.do(t, http.MethodPost, "/permissions", api.managerToken, grantRequest{
		UserID: student.ID,
		RoomID: "lab-1",
		TimeSlots: []timeSlotDTO{
			{Day: "mon", Start: "09:00", End: "10:00"},
			{Day: "tue", Start: "10:00", End: "09:00"},
		},
	})
	resp := requireErrorCode(t, rec, http.StatusBadRequest, "INVALID_TIME_SLOT")
	assert.Contains(t, resp.Errors, "time_slots[1]")

	rec = api.do(t, http.MethodGet, "/permissions/user/"+student.ID, api.managerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeResponse[listPermissionsResponse](t, rec).Permissions, "rejected grants write nothing")
}

func TestPermissionHandlerLifecycle(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	student, token := api.student(t)
	path := "/permissions/" + student.ID + "/lab-1"

	rec := api.do(t, http.MethodPut, path, api.managerToken, updatePermissionRequest{TimeSlots: []timeSlotDTO{{Day: "fri", Start: "08:00", End: "12:00"}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeResponse[permissionResponse](t, rec).Permission.Active, "updating a fresh pair grants it")

	rec = api.do(t, http.MethodPost, "/permissions", api.managerToken, mondayNineToFive(student.ID, "lab-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPut, path, api.managerToken, updatePermissionRequest{TimeSlots: []timeSlotDTO{{Day: "fri", Start: "08:00", End: "12:00"}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "fri", decodeResponse[permissionResponse](t, rec).Permission.TimeSlots[0].Day)

	rec = api.do(t, http.MethodGet, "/permissions/user/"+student.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	permissions := decodeResponse[listPermissionsResponse](t, rec).Permissions
	require.Len(t, permissions, 3)
	active := 0
	for _, p := range permissions {
		if p.Active {
			active++
			assert.Empty(t, p.DeactivatedAt)
		} else {
			assert.NotEmpty(t, p.DeactivatedAt)
		}
	}
	assert.Equal(t, 1, active, "exactly one active permission per user and room")

	rec = api.do(t, http.MethodPost, "/permissions/generate-card/"+student.ID, api.managerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var card application.CredentialPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, student.ID, card.UserID)
	require.Len(t, card.Permissions, 1)
	assert.Equal(t, "lab-1", card.Permissions[0].RoomID)
	assert.NotEmpty(t, card.Digest)

	for i, want := range []bool{true, false} {
		rec = api.do(t, http.MethodDelete, path, api.managerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, decodeResponse[revokeResponse](t, rec).Revoked, "revoke call %d", i+1)
	}

	rec = api.do(t, http.MethodPost, "/permissions/generate-card/"+student.ID, api.managerToken, nil)
	requireErrorCode(t, rec, http.StatusNotFound, "NO_ACTIVE_PERMISSIONS")

	rec = api.do(t, http.MethodGet, "/permissions/user/"+api.manager.ID, token, nil)
	requireErrorCode(t, rec, http.StatusForbidden, "AUTH_FORBIDDEN")
}

func TestPermissionChangesReachGateways(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	student, _ := api.student(t)

	rec := api.do(t, http.MethodPost, "/gateways", api.managerToken, gatewayRequest{ID: "gw-lab", Name: "Lab door", RoomIDs: []string{"lab-1"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/permissions", api.managerToken, mondayNineToFive(student.ID, "lab-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	pushes := api.env.Flush()
	require.Len(t, pushes, 1)
	assert.Equal(t, "gw-lab", pushes[0].GatewayID)
	assert.Equal(t, student.ID, pushes[0].UserID)
}
