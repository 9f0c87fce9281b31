package application

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/example/access-control/internal/recurrence"
)

// CredentialPayloadVersion identifies the payload layout understood by gateways.
const CredentialPayloadVersion = 1

// CredentialPayload is the serialized set of a user's active grants delivered to field hardware.
// Digest covers Permissions only, so gateways can skip rewriting unchanged cards.
type CredentialPayload struct {
	Version     int                    `json:"version" cbor:"version"`
	UserID      string                 `json:"user_id" cbor:"user_id"`
	GeneratedAt string                 `json:"generated_at" cbor:"generated_at"`
	Digest      string                 `json:"digest" cbor:"digest"`
	Permissions []CredentialPermission `json:"permissions" cbor:"permissions"`
}

// CredentialPermission lists the windows granted for one room.
type CredentialPermission struct {
	RoomID    string               `json:"room_id" cbor:"room_id"`
	TimeSlots []CredentialTimeSlot `json:"time_slots" cbor:"time_slots"`
}

// CredentialTimeSlot is one weekly window in ISO-8601 local time.
type CredentialTimeSlot struct {
	Start recurrence.ClockTime `json:"start" cbor:"start"`
	End   recurrence.ClockTime `json:"end" cbor:"end"`
	Day   recurrence.Weekday   `json:"day" cbor:"day"`
}

// BuildCredentialPayload derives the payload from permissions. Inactive
// permissions and inactive slots are omitted; rooms and slots are ordered
// deterministically.
func BuildCredentialPayload(userID string, permissions []Permission, generatedAt time.Time) (CredentialPayload, error) {
	entries := make([]CredentialPermission, 0, len(permissions))
	for _, permission := range permissions {
		if !permission.Active || permission.UserID != userID {
			continue
		}
		slots := make([]CredentialTimeSlot, 0, len(permission.TimeSlots))
		for _, slot := range permission.TimeSlots {
			if !slot.Active {
				continue
			}
			slots = append(slots, CredentialTimeSlot{Start: slot.Start, End: slot.End, Day: slot.Day})
		}
		if len(slots) == 0 {
			continue
		}
		sort.Slice(slots, func(i, j int) bool {
			return recurrence.Less(
				recurrence.Window{Day: slots[i].Day, Start: slots[i].Start, End: slots[i].End},
				recurrence.Window{Day: slots[j].Day, Start: slots[j].Start, End: slots[j].End},
			)
		})
		entries = append(entries, CredentialPermission{RoomID: permission.RoomID, TimeSlots: slots})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RoomID < entries[j].RoomID
	})

	digest, err := permissionsDigest(entries)
	if err != nil {
		return CredentialPayload{}, err
	}
	return CredentialPayload{
		Version:     CredentialPayloadVersion,
		UserID:      userID,
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		Digest:      digest,
		Permissions: entries,
	}, nil
}

// EmptyCredentialPayload is delivered when a user holds no active permissions,
// instructing gateways to clear the card.
func EmptyCredentialPayload(userID string, generatedAt time.Time) CredentialPayload {
	payload, _ := BuildCredentialPayload(userID, nil, generatedAt)
	return payload
}

func permissionsDigest(entries []CredentialPermission) (string, error) {
	canonical, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("canonicalize permissions: %w", err)
	}
	sum := blake3.Sum256(canonical)
	return fmt.Sprintf("%x", sum[:]), nil
}

// CredentialEncoder serializes credential payloads for transport.
type CredentialEncoder interface {
	ContentType() string
	Encode(payload CredentialPayload) ([]byte, error)
	Decode(data []byte) (CredentialPayload, error)
}

// JSONCredentialEncoder encodes payloads as UTF-8 JSON with struct field order.
type JSONCredentialEncoder struct{}

// ContentType implements CredentialEncoder.
func (JSONCredentialEncoder) ContentType() string { return "application/json" }

// Encode implements CredentialEncoder.
func (JSONCredentialEncoder) Encode(payload CredentialPayload) ([]byte, error) {
	return json.Marshal(payload)
}

// Decode implements CredentialEncoder.
func (JSONCredentialEncoder) Decode(data []byte) (CredentialPayload, error) {
	var payload CredentialPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return CredentialPayload{}, err
	}
	return payload, nil
}

// CBORCredentialEncoder encodes payloads with RFC 8949 core deterministic CBOR.
type CBORCredentialEncoder struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCredentialEncoder builds the deterministic encoder. Text marshalers
// are honoured so times of day travel as "HH:MM:SS" strings.
func NewCBORCredentialEncoder() (*CBORCredentialEncoder, error) {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	enc, err := encOptions.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{TextUnmarshaler: cbor.TextUnmarshalerTextString}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}
	return &CBORCredentialEncoder{enc: enc, dec: dec}, nil
}

// ContentType implements CredentialEncoder.
func (*CBORCredentialEncoder) ContentType() string { return "application/cbor" }

// Encode implements CredentialEncoder.
func (c *CBORCredentialEncoder) Encode(payload CredentialPayload) ([]byte, error) {
	return c.enc.Marshal(payload)
}

// Decode implements CredentialEncoder.
func (c *CBORCredentialEncoder) Decode(data []byte) (CredentialPayload, error) {
	var payload CredentialPayload
	if err := c.dec.Unmarshal(data, &payload); err != nil {
		return CredentialPayload{}, err
	}
	return payload, nil
}

// NewCredentialEncoder returns the encoder registered under name ("json" or "cbor").
func NewCredentialEncoder(name string) (CredentialEncoder, error) {
	switch name {
	case "", "json":
		return JSONCredentialEncoder{}, nil
	case "cbor":
		enc, err := NewCBORCredentialEncoder()
		if err != nil {
			return nil, err
		}
		return enc, nil
	}
	return nil, fmt.Errorf("unknown payload encoding %q", name)
}
