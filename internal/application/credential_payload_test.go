package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/access-control/internal/recurrence"
)

func samplePermissions() []Permission {
	inactiveSlot := slot(recurrence.Sunday, "00:00", "01:00")
	inactiveSlot.Active = false
	return []Permission{
		{ID: "p2", UserID: "u1", RoomID: "lab-2", Active: true, TimeSlots: []TimeSlot{
			slot(recurrence.Tuesday, "10:00", "11:00"),
			slot(recurrence.Monday, "09:00", "10:00"),
			inactiveSlot,
		}},
		{ID: "p1", UserID: "u1", RoomID: "lab-1", Active: true, TimeSlots: []TimeSlot{slot(recurrence.Friday, "08:00", "09:30:15")}},
		{ID: "p0", UserID: "u1", RoomID: "lab-0", Active: false, TimeSlots: []TimeSlot{slot(recurrence.Friday, "08:00", "09:00")}},
	}
}

func TestBuildCredentialPayload(t *testing.T) {
	t.Parallel()

	generated := time.Date(2024, time.March, 4, 5, 6, 7, 0, time.FixedZone("JST", 9*60*60))
	payload, err := BuildCredentialPayload("u1", samplePermissions(), generated)
	require.NoError(t, err)

	data, err := JSONCredentialEncoder{}.Encode(payload)
	require.NoError(t, err)

	expected := `{"version":1,"user_id":"u1","generated_at":"2024-03-03T20:06:07Z","digest":"` + payload.Digest + `","permissions":[` +
		`{"room_id":"lab-1","time_slots":[{"start":"08:00:00","end":"09:30:15","day":"fri"}]},` +
		`{"room_id":"lab-2","time_slots":[{"start":"09:00:00","end":"10:00:00","day":"mon"},{"start":"10:00:00","end":"11:00:00","day":"tue"}]}]}`
	assert.Equal(t, expected, string(data))
	assert.Len(t, payload.Digest, 64)
}

func TestCredentialPayloadDigest(t *testing.T) {
	t.Parallel()

	a, err := BuildCredentialPayload("u1", samplePermissions(), referenceTime)
	require.NoError(t, err)
	b, err := BuildCredentialPayload("u1", samplePermissions(), referenceTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, a.Digest, b.Digest, "digest ignores the generation time")

	changed := samplePermissions()
	changed[1].TimeSlots[0].End = recurrence.Clock(10, 0, 0)
	c, err := BuildCredentialPayload("u1", changed, referenceTime)
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest, c.Digest)

	empty := EmptyCredentialPayload("u1", referenceTime)
	assert.Empty(t, empty.Permissions)
	assert.NotEmpty(t, empty.Digest)
}

func TestCBORCredentialEncoder(t *testing.T) {
	t.Parallel()

	encoder, err := NewCBORCredentialEncoder()
	require.NoError(t, err)
	assert.Equal(t, "application/cbor", encoder.ContentType())

	payload, err := BuildCredentialPayload("u1", samplePermissions(), referenceTime)
	require.NoError(t, err)

	first, err := encoder.Encode(payload)
	require.NoError(t, err)
	second, err := encoder.Encode(payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	decoded, err := encoder.Decode(first)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestNewCredentialEncoder(t *testing.T) {
	t.Parallel()

	enc, err := NewCredentialEncoder("")
	require.NoError(t, err)
	assert.Equal(t, "application/json", enc.ContentType())

	enc, err = NewCredentialEncoder("cbor")
	require.NoError(t, err)
	assert.Equal(t, "application/cbor", enc.ContentType())

	_, err = NewCredentialEncoder("xml")
	assert.Error(t, err)
}
