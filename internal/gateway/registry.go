// Package gateway tracks field gateways, delivers credential payloads to them
// and ingests the telegrams they report back.
package gateway

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/access-control/internal/application"
)

// Gateway is a field controller that serves one or more rooms. A gateway with
// no RoomIDs serves every room.
type Gateway struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Location      string    `json:"location,omitempty"`
	Endpoint      string    `json:"endpoint,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	RoomIDs       []string  `json:"room_ids"`
	Online        bool      `json:"online"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// Serves reports whether the gateway controls a door of the room.
func (g Gateway) Serves(roomID string) bool {
	return len(g.RoomIDs) == 0 || roomID == "" || slices.Contains(g.RoomIDs, roomID)
}

func cloneGateway(g Gateway) Gateway {
	g.RoomIDs = slices.Clone(g.RoomIDs)
	if g.RoomIDs == nil {
		g.RoomIDs = []string{}
	}
	return g
}

// Registry holds the known gateways and the latest status of their devices.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	devices  map[string]map[string]application.DeviceStatus

	idGenerator func() string
	now         func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry(idGenerator func() string, now func() time.Time) *Registry {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		gateways:    make(map[string]Gateway),
		devices:     make(map[string]map[string]application.DeviceStatus),
		idGenerator: idGenerator,
		now:         now,
	}
}

// Register adds a gateway, or replaces the one with the same ID. Registration
// does not imply the gateway is online; that follows its first heartbeat.
func (r *Registry) Register(_ context.Context, gw Gateway) (Gateway, error) {
	if r == nil {
		return Gateway{}, fmt.Errorf("Registry is nil")
	}

	gw.ID = strings.TrimSpace(gw.ID)
	gw.Name = strings.TrimSpace(gw.Name)
	gw.Endpoint = strings.TrimRight(strings.TrimSpace(gw.Endpoint), "/")

	vErr := &application.ValidationError{}
	if gw.Name == "" {
		addField(vErr, "name", "name is required")
	}
	rooms := make([]string, 0, len(gw.RoomIDs))
	for _, room := range gw.RoomIDs {
		room = strings.TrimSpace(room)
		if room == "" {
			addField(vErr, "room_ids", "room ids must not be blank")
			continue
		}
		if !slices.Contains(rooms, room) {
			rooms = append(rooms, room)
		}
	}
	if vErr.HasErrors() {
		return Gateway{}, vErr
	}
	sort.Strings(rooms)
	gw.RoomIDs = rooms

	r.mu.Lock()
	defer r.mu.Unlock()

	if gw.ID == "" {
		gw.ID = r.idGenerator()
	}
	if existing, ok := r.gateways[gw.ID]; ok {
		gw.RegisteredAt = existing.RegisteredAt
		gw.Online = existing.Online
		gw.LastHeartbeat = existing.LastHeartbeat
	} else {
		gw.RegisteredAt = r.now().UTC()
		gw.Online = false
		gw.LastHeartbeat = time.Time{}
	}
	r.gateways[gw.ID] = cloneGateway(gw)
	return cloneGateway(gw), nil
}

// Unregister removes a gateway and its device statuses.
func (r *Registry) Unregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.gateways[id]; !ok {
		return ErrGatewayNotFound
	}
	delete(r.gateways, id)
	delete(r.devices, id)
	return nil
}

// Get returns a gateway by ID.
func (r *Registry) Get(_ context.Context, id string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[id]
	if !ok {
		return Gateway{}, ErrGatewayNotFound
	}
	return cloneGateway(gw), nil
}

// List returns every gateway ordered by ID.
func (r *Registry) List(_ context.Context) []Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Gateway, 0, len(r.gateways))
	for _, gw := range r.gateways {
		out = append(out, cloneGateway(gw))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ServingRoom returns the gateways that should receive pushes for the room.
func (r *Registry) ServingRoom(ctx context.Context, roomID string) []Gateway {
	all := r.List(ctx)
	out := all[:0]
	for _, gw := range all {
		if gw.Serves(roomID) {
			out = append(out, gw)
		}
	}
	return out
}

// MarkOffline records a lost connection: the gateway and all of its devices
// are reported offline until the next heartbeat.
func (r *Registry) MarkOffline(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	gw, ok := r.gateways[id]
	if !ok {
		return ErrGatewayNotFound
	}
	gw.Online = false
	r.gateways[id] = gw

	for deviceID, status := range r.devices[id] {
		status.Online = false
		r.devices[id][deviceID] = status
	}
	return nil
}

// ApplyStatus stores a device heartbeat. Any heartbeat proves the gateway
// itself is reachable.
func (r *Registry) ApplyStatus(_ context.Context, status application.DeviceStatus) error {
	if strings.TrimSpace(status.DeviceID) == "" {
		return malformed("device_id is required")
	}
	if status.LastHeartbeat.IsZero() {
		status.LastHeartbeat = r.now()
	}
	status.LastHeartbeat = status.LastHeartbeat.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	gw, ok := r.gateways[status.GatewayID]
	if !ok {
		return ErrGatewayNotFound
	}
	gw.Online = true
	if status.LastHeartbeat.After(gw.LastHeartbeat) {
		gw.LastHeartbeat = status.LastHeartbeat
	}
	r.gateways[gw.ID] = gw

	devices := r.devices[gw.ID]
	if devices == nil {
		devices = make(map[string]application.DeviceStatus)
		r.devices[gw.ID] = devices
	}
	devices[status.DeviceID] = status
	return nil
}

// DeviceStatuses returns the latest status of every known device, ordered by
// gateway and device ID.
func (r *Registry) DeviceStatuses(_ context.Context) ([]application.DeviceStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]application.DeviceStatus, 0)
	for _, devices := range r.devices {
		for _, status := range devices {
			out = append(out, status)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GatewayID != out[j].GatewayID {
			return out[i].GatewayID < out[j].GatewayID
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out, nil
}

func addField(v *application.ValidationError, field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

var _ application.DeviceStatusSource = (*Registry)(nil)
