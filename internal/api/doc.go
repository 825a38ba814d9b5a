// Package api implements the admin HTTP API and live activity feed for the
// switch skill.
//
// This package provides:
//   - REST endpoints to inspect and refresh the device cache
//   - Read access to the command audit trail
//   - A WebSocket hub that streams dispatch outcomes and refreshes
//   - Optional HS256 bearer token authentication
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Routes
//
//	GET  /api/v1/health             liveness and cache state (no auth)
//	GET  /api/v1/devices            current snapshot, ?room= filters
//	POST /api/v1/devices/refresh    reload the directory
//	GET  /api/v1/audit              audit trail, filtered and paginated
//	GET  /api/v1/ws                 activity feed (token via ?token=)
//
// The Hub satisfies dispatch.Recorder, so wiring it into the dispatcher is
// all that is needed to feed connected clients.
package api
