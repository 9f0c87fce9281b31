// Package http exposes the access control plane over HTTP using chi.
//
// Every endpoint other than login, logout, refresh, /healthz and /metrics
// requires a session token, sent as "Authorization: Bearer <token>" or in the
// session_token cookie. Mutating endpoints require the facility_manager role.
//
//   - POST /auth/login, POST /auth/logout, POST /auth/refresh, GET /auth/me:
//     session lifecycle. Login answers {"token","user_id","created_at","expires_at"}.
//   - GET|POST /users, GET|PATCH /users/{userID}, POST /users/{userID}/deactivate:
//     user administration exchanging the userDTO defined in user_handler.go.
//   - POST /permissions, GET /permissions/user/{userID},
//     PUT|DELETE /permissions/{userID}/{roomID},
//     GET /permissions/{userID}/{roomID}/authorize?at=RFC3339,
//     POST /permissions/generate-card/{userID}: the permission engine. Card
//     payloads are returned raw in the configured encoding.
//   - POST|GET /access-logs, GET /access-logs/user/{userID},
//     GET /access-logs/room/{roomID}: access event recording and queries.
//   - POST|GET /gateways, GET|DELETE /gateways/{gatewayID} and the
//     /offline, /sync, /card-update, /access-log and /device-status actions
//     below a gateway: the gateway registry, credential pushes and telegram
//     ingestion.
//   - POST /reports: JSON reports. GET /reports/types lists the report types
//     to any signed-in user.
//
// Errors are returned as {"error_code","message","errors"}. Request and
// response DTOs live alongside their handlers.
package http
