package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/access-control/internal/recurrence"
)

// ReportType selects the report produced by ReportService.
type ReportType string

const (
	ReportAccessSummary     ReportType = "access_summary"
	ReportPermissionAudit   ReportType = "permission_audit"
	ReportSecurityIncidents ReportType = "security_incidents"
	ReportDeviceStatus      ReportType = "device_status"
)

// ReportTypes lists every report ReportService can generate.
func ReportTypes() []ReportType {
	return []ReportType{ReportAccessSummary, ReportPermissionAudit, ReportSecurityIncidents, ReportDeviceStatus}
}

// defaultReportWindow is used when a request omits its range.
const defaultReportWindow = 7 * 24 * time.Hour

// ReportRequest parameterizes report generation. Zero From/To select the last seven days.
type ReportRequest struct {
	Principal Principal
	Type      ReportType
	From      time.Time
	To        time.Time
	UserID    string
	RoomID    string
}

// Report is the JSON-serializable result of a report run.
type Report struct {
	ID          string     `json:"id"`
	Type        ReportType `json:"type"`
	GeneratedAt time.Time  `json:"generated_at"`
	From        time.Time  `json:"from"`
	To          time.Time  `json:"to"`
	Data        any        `json:"data"`
}

// AccessSummary counts access events per room and outcome.
type AccessSummary struct {
	Total   int                 `json:"total"`
	Granted int                 `json:"granted"`
	Denied  int                 `json:"denied"`
	Rooms   []RoomAccessSummary `json:"rooms"`
}

// RoomAccessSummary counts access events for one room.
type RoomAccessSummary struct {
	RoomID  string `json:"room_id"`
	Granted int    `json:"granted"`
	Denied  int    `json:"denied"`
}

// PermissionAudit lists grants per user.
type PermissionAudit struct {
	Users []UserPermissionAudit `json:"users"`
}

// UserPermissionAudit describes one user's grant history.
type UserPermissionAudit struct {
	UserID      string                 `json:"user_id"`
	Active      int                    `json:"active"`
	Inactive    int                    `json:"inactive"`
	Permissions []PermissionAuditEntry `json:"permissions"`
}

// PermissionAuditEntry summarizes one permission, its overlapping slots and the
// hours it grants within the report range.
type PermissionAuditEntry struct {
	PermissionID  string               `json:"permission_id"`
	RoomID        string               `json:"room_id"`
	Active        bool                 `json:"active"`
	CreatedAt     time.Time            `json:"created_at"`
	DeactivatedAt *time.Time           `json:"deactivated_at,omitempty"`
	SlotCount     int                  `json:"slot_count"`
	GrantedHours  float64              `json:"granted_hours"`
	Overlaps      []recurrence.Overlap `json:"overlaps,omitempty"`
}

// SecurityIncidents lists denied access attempts.
type SecurityIncidents struct {
	Count  int           `json:"count"`
	Events []AccessEvent `json:"events"`
}

// DeviceStatusReport snapshots gateway device heartbeats.
type DeviceStatusReport struct {
	Online  int            `json:"online"`
	Offline int            `json:"offline"`
	Devices []DeviceStatus `json:"devices"`
}

// ReportServiceOptions configures optional collaborators of the report service.
type ReportServiceOptions struct {
	Location *time.Location
	Logger   *slog.Logger
}

// ReportService builds operational reports from access events, permissions and devices.
type ReportService struct {
	events      AccessEventRepository
	users       UserRepository
	permissions PermissionRepository
	devices     DeviceStatusSource
	windows     *recurrence.Engine
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewReportService wires dependencies for report generation. devices is optional.
func NewReportService(events AccessEventRepository, users UserRepository, permissions PermissionRepository, devices DeviceStatusSource, idGenerator func() string, now func() time.Time, opts ReportServiceOptions) *ReportService {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &ReportService{
		events:      events,
		users:       users,
		permissions: permissions,
		devices:     devices,
		windows:     recurrence.NewEngine(opts.Location),
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(opts.Logger),
	}
}

// Generate produces the requested report for facility managers.
func (s *ReportService) Generate(ctx context.Context, req ReportRequest) (report Report, err error) {
	if s == nil {
		err = fmt.Errorf("ReportService is nil")
		return
	}

	logger := serviceLogger(ctx, s.logger, "ReportService", "Generate", "report_type", req.Type, "principal_id", req.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "report generation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("report_id", report.ID).InfoContext(ctx, "report generated")
	}()

	if !req.Principal.IsManager() {
		err = ErrForbidden
		return
	}

	now := s.now()
	from, to := req.From, req.To
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-defaultReportWindow)
	}
	if !to.After(from) {
		err = &ValidationError{FieldErrors: map[string]string{"to": "end of range must be after start"}}
		return
	}

	var data any
	switch req.Type {
	case ReportAccessSummary:
		data, err = s.accessSummary(ctx, req, from, to)
	case ReportPermissionAudit:
		data, err = s.permissionAudit(ctx, req, from, to)
	case ReportSecurityIncidents:
		data, err = s.securityIncidents(ctx, req, from, to)
	case ReportDeviceStatus:
		data, err = s.deviceStatus(ctx)
	default:
		err = &ValidationError{FieldErrors: map[string]string{"type": "unknown report type"}}
	}
	if err != nil {
		return
	}

	report = Report{
		ID:          s.idGenerator(),
		Type:        req.Type,
		GeneratedAt: now,
		From:        from,
		To:          to,
		Data:        data,
	}
	return
}

func (s *ReportService) queryEvents(ctx context.Context, filter AccessEventFilter) ([]AccessEvent, error) {
	if s.events == nil {
		return nil, fmt.Errorf("access event repository not configured")
	}
	events, err := s.events.QueryAccessEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortEventsNewestFirst(events)
	return events, nil
}

func (s *ReportService) accessSummary(ctx context.Context, req ReportRequest, from, to time.Time) (AccessSummary, error) {
	events, err := s.queryEvents(ctx, AccessEventFilter{UserID: req.UserID, RoomID: req.RoomID, From: from, To: to})
	if err != nil {
		return AccessSummary{}, err
	}

	byRoom := make(map[string]*RoomAccessSummary)
	summary := AccessSummary{Total: len(events), Rooms: []RoomAccessSummary{}}
	for _, event := range events {
		room, ok := byRoom[event.RoomID]
		if !ok {
			room = &RoomAccessSummary{RoomID: event.RoomID}
			byRoom[event.RoomID] = room
		}
		if event.Outcome == OutcomeDenied {
			summary.Denied++
			room.Denied++
		} else {
			summary.Granted++
			room.Granted++
		}
	}
	for _, room := range byRoom {
		summary.Rooms = append(summary.Rooms, *room)
	}
	sort.Slice(summary.Rooms, func(i, j int) bool {
		return summary.Rooms[i].RoomID < summary.Rooms[j].RoomID
	})
	return summary, nil
}

func (s *ReportService) permissionAudit(ctx context.Context, req ReportRequest, from, to time.Time) (PermissionAudit, error) {
	if s.permissions == nil {
		return PermissionAudit{}, fmt.Errorf("permission repository not configured")
	}

	var userIDs []string
	if id := strings.TrimSpace(req.UserID); id != "" {
		userIDs = []string{id}
	} else {
		if s.users == nil {
			return PermissionAudit{}, fmt.Errorf("user repository not configured")
		}
		users, err := s.users.ListUsers(ctx)
		if err != nil {
			return PermissionAudit{}, err
		}
		for _, u := range users {
			userIDs = append(userIDs, u.ID)
		}
		sort.Strings(userIDs)
	}

	audit := PermissionAudit{Users: make([]UserPermissionAudit, 0, len(userIDs))}
	for _, userID := range userIDs {
		permissions, err := s.permissions.ListPermissionsForUser(ctx, userID)
		if err != nil {
			return PermissionAudit{}, err
		}
		entry := UserPermissionAudit{UserID: userID, Permissions: []PermissionAuditEntry{}}
		for _, p := range permissions {
			if req.RoomID != "" && p.RoomID != req.RoomID {
				continue
			}
			if p.Active {
				entry.Active++
			} else {
				entry.Inactive++
			}
			auditEntry, err := s.auditPermission(p, from, to)
			if err != nil {
				return PermissionAudit{}, err
			}
			entry.Permissions = append(entry.Permissions, auditEntry)
		}
		sort.SliceStable(entry.Permissions, func(i, j int) bool {
			return entry.Permissions[i].CreatedAt.Before(entry.Permissions[j].CreatedAt)
		})
		audit.Users = append(audit.Users, entry)
	}
	return audit, nil
}

func (s *ReportService) auditPermission(p Permission, from, to time.Time) (PermissionAuditEntry, error) {
	entry := PermissionAuditEntry{
		PermissionID:  p.ID,
		RoomID:        p.RoomID,
		Active:        p.Active,
		CreatedAt:     p.CreatedAt,
		DeactivatedAt: p.DeactivatedAt,
		SlotCount:     len(p.TimeSlots),
	}
	windows := p.ActiveWindows()
	entry.Overlaps = recurrence.DetectOverlaps(windows)

	// Hours count only while the permission was in force.
	start, end := from, to
	if p.CreatedAt.After(start) {
		start = p.CreatedAt
	}
	if p.DeactivatedAt != nil && p.DeactivatedAt.Before(end) {
		end = *p.DeactivatedAt
	}
	if len(windows) == 0 || !end.After(start) {
		return entry, nil
	}
	occurrences, err := s.windows.Expand(windows, start, end)
	if err != nil {
		return PermissionAuditEntry{}, err
	}
	entry.GrantedHours = recurrence.TotalDuration(occurrences).Hours()
	return entry, nil
}

func (s *ReportService) securityIncidents(ctx context.Context, req ReportRequest, from, to time.Time) (SecurityIncidents, error) {
	events, err := s.queryEvents(ctx, AccessEventFilter{UserID: req.UserID, RoomID: req.RoomID, Outcome: OutcomeDenied, From: from, To: to})
	if err != nil {
		return SecurityIncidents{}, err
	}
	if events == nil {
		events = []AccessEvent{}
	}
	return SecurityIncidents{Count: len(events), Events: events}, nil
}

func (s *ReportService) deviceStatus(ctx context.Context) (DeviceStatusReport, error) {
	report := DeviceStatusReport{Devices: []DeviceStatus{}}
	if s.devices == nil {
		return report, nil
	}
	devices, err := s.devices.DeviceStatuses(ctx)
	if err != nil {
		return DeviceStatusReport{}, err
	}
	for _, d := range devices {
		if d.Online {
			report.Online++
		} else {
			report.Offline++
		}
	}
	report.Devices = append(report.Devices, devices...)
	sort.Slice(report.Devices, func(i, j int) bool {
		if report.Devices[i].GatewayID == report.Devices[j].GatewayID {
			return report.Devices[i].DeviceID < report.Devices[j].DeviceID
		}
		return report.Devices[i].GatewayID < report.Devices[j].GatewayID
	})
	return report, nil
}
